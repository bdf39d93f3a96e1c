package inbound

import (
	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"
)

// Registry dispatches payloads to the normalizer of their source.
type Registry struct {
	normalizers map[models.System]Normalizer
}

func NewRegistry(normalizers ...Normalizer) *Registry {
	r := &Registry{normalizers: make(map[models.System]Normalizer, len(normalizers))}
	for _, n := range normalizers {
		r.normalizers[n.Source()] = n
	}
	return r
}

func (r *Registry) Normalize(source models.System, raw []byte) ([]Intent, error) {
	n, ok := r.normalizers[source]
	if !ok {
		return nil, errs.Malformed(source, "unknown source")
	}
	return n.Normalize(raw)
}
