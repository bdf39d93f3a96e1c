package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go-hermes/internal/common/models"
	"go-hermes/internal/config"

	"go.uber.org/zap"
)

const extraAttrsPrefix = "extra_attrs."

// SystemAConnector reads and updates clients in System A. System A only
// exposes clients to us: every other entity type is unsupported.
type SystemAConnector struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

func NewSystemAConnector(cfg *config.Config, logger *zap.Logger) *SystemAConnector {
	return &SystemAConnector{
		baseURL: strings.TrimRight(cfg.SystemA.BaseURL, "/"),
		apiKey:  cfg.SystemA.APIKey,
		client:  &http.Client{Timeout: cfg.Sync.ExternalTimeout},
		logger:  logger.Named("systemA"),
	}
}

func (c *SystemAConnector) System() models.System { return models.SystemA }

func (c *SystemAConnector) call(ctx context.Context, op, method, path string, body, out any) error {
	return do(ctx, c.client, c.logger, request{
		system:  models.SystemA,
		op:      op,
		method:  method,
		url:     c.baseURL + "/" + path,
		headers: map[string]string{"Authorization": "token " + c.apiKey},
		body:    body,
	}, out)
}

// Client returns the raw client document, as sent in webhook subjects.
func (c *SystemAConnector) Client(ctx context.Context, id int64) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "get client", http.MethodGet, fmt.Sprintf("clients/%d/", id), nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Get returns a client with its extra attributes flattened to
// "extra_attrs.<machine_name>" keys.
func (c *SystemAConnector) Get(ctx context.Context, t models.EntityType, id int64) (Record, error) {
	if t != models.EntityCompany {
		return nil, fmt.Errorf("system A has no %s records: %w", t, ErrUnsupported)
	}
	var rec Record
	if err := c.call(ctx, "get client", http.MethodGet, fmt.Sprintf("clients/%d/", id), nil, &rec); err != nil {
		return nil, err
	}
	return flattenExtraAttrs(rec), nil
}

func (c *SystemAConnector) Create(ctx context.Context, t models.EntityType, payload Record) (int64, error) {
	return 0, fmt.Errorf("create %s in system A: %w", t, ErrUnsupported)
}

func (c *SystemAConnector) Delete(ctx context.Context, t models.EntityType, id int64) error {
	return fmt.Errorf("delete %s in system A: %w", t, ErrUnsupported)
}

// Update posts the client back with payload applied. System A updates a
// client by posting the whole document with its id.
func (c *SystemAConnector) Update(ctx context.Context, t models.EntityType, id int64, payload Record) error {
	if t != models.EntityCompany {
		return fmt.Errorf("update %s in system A: %w", t, ErrUnsupported)
	}
	var current Record
	if err := c.call(ctx, "get client", http.MethodGet, fmt.Sprintf("clients/%d/", id), nil, &current); err != nil {
		return err
	}

	body := Record{"id": id}
	extra := map[string]any{}
	for k, v := range current {
		switch k {
		case "extra_attrs":
			for name, value := range extraAttrs(v) {
				extra[name] = value
			}
		case "user":
			body[k] = v
		}
	}
	for k, v := range payload {
		if name, ok := strings.CutPrefix(k, extraAttrsPrefix); ok {
			extra[name] = v
			continue
		}
		body[k] = v
	}
	body["extra_attrs"] = extra

	return c.call(ctx, "update client", http.MethodPost, "clients/", body, nil)
}

// extraAttrs reads System A's [{machine_name, value}] list.
func extraAttrs(v any) map[string]any {
	out := map[string]any{}
	list, _ := v.([]any)
	for _, item := range list {
		attr, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := attr["machine_name"].(string)
		if name != "" {
			out[name] = attr["value"]
		}
	}
	return out
}

func flattenExtraAttrs(rec Record) Record {
	raw, ok := rec["extra_attrs"]
	if !ok {
		return rec
	}
	delete(rec, "extra_attrs")
	for name, value := range extraAttrs(raw) {
		rec[extraAttrsPrefix+name] = value
	}
	return rec
}
