package fieldmap

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go-hermes/internal/common/models"
	"go-hermes/internal/config"

	"gopkg.in/yaml.v3"
)

type logicalKey struct {
	system  models.System
	entity  models.EntityType
	logical string
}

type externalKey struct {
	system models.System
	entity models.EntityType
	key    string
}

// Table is the Field Mapping Table. It is read-only once built.
type Table struct {
	byLogical map[logicalKey]ExternalFieldDescriptor
	byKey     map[externalKey]ExternalFieldDescriptor
}

func NewTable(descriptors []ExternalFieldDescriptor) *Table {
	t := &Table{
		byLogical: make(map[logicalKey]ExternalFieldDescriptor, len(descriptors)),
		byKey:     make(map[externalKey]ExternalFieldDescriptor, len(descriptors)),
	}
	for _, d := range descriptors {
		t.put(d)
	}
	return t
}

func (t *Table) put(d ExternalFieldDescriptor) {
	lk := logicalKey{d.System, d.Entity, d.Logical}
	if old, ok := t.byLogical[lk]; ok {
		delete(t.byKey, externalKey{old.System, old.Entity, old.Key})
	}
	t.byLogical[lk] = d
	t.byKey[externalKey{d.System, d.Entity, d.Key}] = d
}

// Lookup returns where logical lives on entity in system.
func (t *Table) Lookup(system models.System, entity models.EntityType, logical string) (ExternalFieldDescriptor, bool) {
	d, ok := t.byLogical[logicalKey{system, entity, logical}]
	return d, ok
}

// Reverse resolves an external key back to its logical field.
func (t *Table) Reverse(system models.System, entity models.EntityType, key string) (ExternalFieldDescriptor, bool) {
	d, ok := t.byKey[externalKey{system, entity, key}]
	return d, ok
}

// Fields lists every mapped field of entity in system, sorted by logical name.
func (t *Table) Fields(system models.System, entity models.EntityType) []ExternalFieldDescriptor {
	var out []ExternalFieldDescriptor
	for k, d := range t.byLogical {
		if k.system == system && k.entity == entity {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Logical < out[j].Logical })
	return out
}

// Validate fails when any required field has no mapping.
func (t *Table) Validate(required map[models.System]map[models.EntityType][]string) error {
	var missing []string
	for system, entities := range required {
		for entity, fields := range entities {
			for _, f := range fields {
				if _, ok := t.Lookup(system, entity, f); !ok {
					missing = append(missing, fmt.Sprintf("%s.%s.%s", system, entity, f))
				}
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("unmapped fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Load builds the default table, applies the optional YAML override named by
// cfg.Sync.FieldMapFile and validates the result.
func Load(cfg *config.Config) (*Table, error) {
	t := Default()
	if path := cfg.Sync.FieldMapFile; path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read field map %s: %w", path, err)
		}
		if err := t.ApplyOverride(raw); err != nil {
			return nil, fmt.Errorf("field map %s: %w", path, err)
		}
	}
	if err := t.Validate(RequiredFields); err != nil {
		return nil, err
	}
	return t, nil
}

// ApplyOverride merges YAML descriptors over the table, replacing entries that
// share system, entity and logical name.
func (t *Table) ApplyOverride(raw []byte) error {
	var file overrideFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return err
	}
	for i, d := range file.Fields {
		if !d.System.Valid() || d.Entity == "" || d.Logical == "" || d.Key == "" {
			return fmt.Errorf("entry %d: system, entity, logical and key are required", i)
		}
		if d.Kind == "" {
			d.Kind = KindString
		}
		t.put(d)
	}
	return nil
}

// Export renders the whole table in the override file format, sorted so the
// output is stable.
func (t *Table) Export() ([]byte, error) {
	file := overrideFile{Fields: make([]ExternalFieldDescriptor, 0, len(t.byLogical))}
	for _, d := range t.byLogical {
		file.Fields = append(file.Fields, d)
	}
	sort.Slice(file.Fields, func(i, j int) bool {
		a, b := file.Fields[i], file.Fields[j]
		if a.System != b.System {
			return a.System < b.System
		}
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		return a.Logical < b.Logical
	})
	return yaml.Marshal(file)
}

// SystemAWhitelist is what a CRM-originated change may write to System A.
var SystemAWhitelist = map[models.EntityType][]string{
	models.EntityCompany: {FieldCRMURL},
	models.EntityDeal:    {FieldPipeline, FieldStage, FieldCRMURL},
}

func Whitelisted(entity models.EntityType, logical string) bool {
	for _, f := range SystemAWhitelist[entity] {
		if f == logical {
			return true
		}
	}
	return false
}
