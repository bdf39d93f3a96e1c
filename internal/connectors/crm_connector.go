package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"
	"go-hermes/internal/config"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var crmResources = map[models.EntityType]string{
	models.EntityCompany:  "organizations",
	models.EntityContact:  "persons",
	models.EntityDeal:     "deals",
	models.EntityMeeting:  "activities",
	models.EntityPipeline: "pipelines",
	models.EntityStage:    "stages",
}

// crmEnvelope wraps every CRM response.
type crmEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// CRMConnector talks to the CRM REST API. Calls are rate limited to stay
// under the account's request budget.
type CRMConnector struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewCRMConnector(cfg *config.Config, logger *zap.Logger) *CRMConnector {
	perSec := cfg.CRM.RatePerSec
	if perSec <= 0 {
		perSec = 8
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return &CRMConnector{
		baseURL: strings.TrimRight(cfg.CRM.BaseURL, "/"),
		token:   cfg.CRM.APIToken,
		client:  &http.Client{Timeout: cfg.Sync.ExternalTimeout},
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
		logger:  logger.Named("crm"),
	}
}

func (c *CRMConnector) System() models.System { return models.SystemCRM }

func (c *CRMConnector) endpoint(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_token", c.token)
	return fmt.Sprintf("%s/api/v1/%s?%s", c.baseURL, path, query.Encode())
}

func (c *CRMConnector) call(ctx context.Context, op, method, path string, query url.Values, body any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &errs.ExternalAPIError{System: models.SystemCRM, Op: op, Err: err}
	}
	var env crmEnvelope
	err := do(ctx, c.client, c.logger, request{
		system: models.SystemCRM,
		op:     op,
		method: method,
		url:    c.endpoint(path, query),
		body:   body,
	}, &env)
	if err != nil {
		return nil, err
	}
	if !env.Success && env.Error != "" {
		return nil, &errs.ExternalAPIError{System: models.SystemCRM, StatusCode: http.StatusOK, Op: op, Err: fmt.Errorf("%s", env.Error)}
	}
	return env.Data, nil
}

func crmResource(t models.EntityType) (string, error) {
	res, ok := crmResources[t]
	if !ok {
		return "", fmt.Errorf("crm has no %s records: %w", t, ErrUnsupported)
	}
	return res, nil
}

func decodeRecord(raw json.RawMessage) (Record, error) {
	var rec Record
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *CRMConnector) Get(ctx context.Context, t models.EntityType, id int64) (Record, error) {
	res, err := crmResource(t)
	if err != nil {
		return nil, err
	}
	op := "get " + res
	data, err := c.call(ctx, op, http.MethodGet, fmt.Sprintf("%s/%d", res, id), nil, nil)
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, &errs.ExternalAPIError{System: models.SystemCRM, StatusCode: http.StatusOK, Op: op, Err: err}
	}
	if rec == nil {
		return nil, &errs.ExternalAPIError{System: models.SystemCRM, StatusCode: http.StatusNotFound, Op: op}
	}
	return rec, nil
}

func (c *CRMConnector) Create(ctx context.Context, t models.EntityType, payload Record) (int64, error) {
	res, err := crmResource(t)
	if err != nil {
		return 0, err
	}
	op := "create " + res
	data, err := c.call(ctx, op, http.MethodPost, res, nil, payload)
	if err != nil {
		return 0, err
	}
	rec, err := decodeRecord(data)
	if err != nil || IDOf(rec["id"]) == 0 {
		return 0, &errs.ExternalAPIError{System: models.SystemCRM, StatusCode: http.StatusOK, Op: op, Err: fmt.Errorf("response carries no id")}
	}
	return IDOf(rec["id"]), nil
}

func (c *CRMConnector) Update(ctx context.Context, t models.EntityType, id int64, payload Record) error {
	res, err := crmResource(t)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "update "+res, http.MethodPut, fmt.Sprintf("%s/%d", res, id), nil, payload)
	return err
}

func (c *CRMConnector) Delete(ctx context.Context, t models.EntityType, id int64) error {
	res, err := crmResource(t)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "delete "+res, http.MethodDelete, fmt.Sprintf("%s/%d", res, id), nil, nil)
	return err
}

// Search uses the CRM search endpoints, e.g. persons/search?term=a@b.c&fields=email.
func (c *CRMConnector) Search(ctx context.Context, t models.EntityType, field, term string) ([]Record, error) {
	res, err := crmResource(t)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("term", term)
	query.Set("fields", field)
	query.Set("exact_match", "true")
	query.Set("limit", "10")

	op := "search " + res
	data, err := c.call(ctx, op, http.MethodGet, res+"/search", query, nil)
	if err != nil {
		return nil, err
	}
	var found struct {
		Items []struct {
			Item Record `json:"item"`
		} `json:"items"`
	}
	if len(data) > 0 && string(data) != "null" {
		dec := json.NewDecoder(strings.NewReader(string(data)))
		dec.UseNumber()
		if err := dec.Decode(&found); err != nil {
			return nil, &errs.ExternalAPIError{System: models.SystemCRM, StatusCode: http.StatusOK, Op: op, Err: err}
		}
	}
	out := make([]Record, 0, len(found.Items))
	for _, it := range found.Items {
		if it.Item != nil {
			out = append(out, it.Item)
		}
	}
	return out, nil
}
