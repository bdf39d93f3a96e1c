package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"

	"go.uber.org/zap"
)

// ErrUnsupported is returned for operations a system does not offer, such as
// creating clients in System A.
var ErrUnsupported = errors.New("operation not supported by this system")

// Record is a remote object keyed by the remote system's own field keys.
type Record map[string]any

// Connector is the record API of one external system.
type Connector interface {
	System() models.System
	Get(ctx context.Context, t models.EntityType, id int64) (Record, error)
	// Create returns the id the remote system assigned.
	Create(ctx context.Context, t models.EntityType, payload Record) (int64, error)
	// Update sends only the keys present in payload.
	Update(ctx context.Context, t models.EntityType, id int64, payload Record) error
	Delete(ctx context.Context, t models.EntityType, id int64) error
}

// Searcher finds remote records whose field equals term.
type Searcher interface {
	Search(ctx context.Context, t models.EntityType, field, term string) ([]Record, error)
}

// request is one JSON call to an external API.
type request struct {
	system  models.System
	op      string
	method  string
	url     string
	headers map[string]string
	body    any
}

// do sends req and decodes the JSON response into out when out is non-nil.
// Non-2xx responses and transport failures become ExternalAPIError.
func do(ctx context.Context, client *http.Client, logger *zap.Logger, req request, out any) error {
	var body io.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", req.system, req.op, err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", req.system, req.op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return &errs.ExternalAPIError{System: req.system, Op: req.op, Err: err}
	}
	defer resp.Body.Close()

	logger.Info("External request",
		zap.String("system", string(req.system)),
		zap.String("op", req.op),
		zap.String("method", req.method),
		zap.Int("status", resp.StatusCode),
	)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &errs.ExternalAPIError{System: req.system, StatusCode: resp.StatusCode, Op: req.op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &errs.ExternalAPIError{System: req.system, StatusCode: resp.StatusCode, Op: req.op, Err: errors.New(truncateBody(raw))}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return &errs.ExternalAPIError{System: req.system, StatusCode: resp.StatusCode, Op: req.op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func truncateBody(raw []byte) string {
	if len(raw) > 512 {
		return string(raw[:512]) + "..."
	}
	return string(raw)
}

// IDOf reads an integer id from a decoded JSON value.
func IDOf(v any) int64 {
	switch n := v.(type) {
	case json.Number:
		i, _ := n.Int64()
		return i
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	case map[string]any:
		if id, ok := n["id"]; ok {
			return IDOf(id)
		}
		return IDOf(n["value"])
	}
	return 0
}
