package inspectlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Inspectline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL should include the API
// base path, e.g. "http://localhost:8080/api/v1".
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Template represents the API template model (partial).
type Template struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Status     string   `json:"status"`
	LotSize    *int     `json:"lot_size,omitempty"`
	AQLLevel   *float64 `json:"aql_level,omitempty"`
	SampleSize *int     `json:"sample_size,omitempty"`
}

// AQLOutcome is one pass/fail verdict with its reasons.
type AQLOutcome struct {
	Passed  bool     `json:"passed"`
	Reasons []string `json:"reasons,omitempty"`
}

// AQLSnapshot is the sampling verdict recorded at submit time.
type AQLSnapshot struct {
	LotSize              int        `json:"lot_size"`
	AQLLevel             float64    `json:"aql_level"`
	SampleSize           int        `json:"sample_size"`
	CriticalDefectsFound int        `json:"critical_defects_found"`
	MajorDefectsFound    int        `json:"major_defects_found"`
	MinorDefectsFound    int        `json:"minor_defects_found"`
	Computed             AQLOutcome `json:"computed"`
	Effective            AQLOutcome `json:"effective"`
	Overridden           bool       `json:"overridden"`
}

// Inspection represents the API inspection model (partial).
type Inspection struct {
	ID          string       `json:"id"`
	TemplateID  string       `json:"template_id"`
	InspectorID string       `json:"inspector_id"`
	ManagerID   string       `json:"manager_id"`
	Status      string       `json:"status"`
	AQL         *AQLSnapshot `json:"aql,omitempty"`
	CompletedAt *string      `json:"completed_at,omitempty"`
}

// Task represents a derived work item.
type Task struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	Priority     string `json:"priority"`
	InspectionID string `json:"inspection_id,omitempty"`
}

// AuditEvent represents an audit log entry.
type AuditEvent struct {
	ID       int64          `json:"id"`
	Action   string         `json:"action"`
	EntityID string         `json:"entity_id"`
	ActorID  string         `json:"actor_id"`
	Details  map[string]any `json:"details,omitempty"`
	TS       string         `json:"ts"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTemplate creates a draft template from raw pages JSON.
func (c *Client) CreateTemplate(ctx context.Context, title string, pages any) (Template, error) {
	body := map[string]any{
		"title": title,
		"pages": pages,
	}
	var resp Template
	err := c.do(ctx, http.MethodPost, "templates", body, &resp)
	return resp, err
}

// GetTemplate fetches a template by id.
func (c *Client) GetTemplate(ctx context.Context, id string) (Template, error) {
	var resp Template
	err := c.do(ctx, http.MethodGet, "templates/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ConfigureSampling sets lot size and AQL level on a published template.
func (c *Client) ConfigureSampling(ctx context.Context, templateID string, lotSize int, aqlLevel float64) (Template, error) {
	body := map[string]any{
		"lot_size":  lotSize,
		"aql_level": aqlLevel,
	}
	var resp Template
	endpoint := fmt.Sprintf("templates/%s/sampling", url.PathEscape(templateID))
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

// AssignInspection assigns a published template to an inspector.
func (c *Client) AssignInspection(ctx context.Context, templateID, inspectorID string) (Inspection, error) {
	body := map[string]any{
		"template_id":  templateID,
		"inspector_id": inspectorID,
	}
	var resp Inspection
	err := c.do(ctx, http.MethodPost, "inspections", body, &resp)
	return resp, err
}

// StartInspection moves an assigned inspection to in_progress.
func (c *Client) StartInspection(ctx context.Context, id string) (Inspection, error) {
	var resp Inspection
	endpoint := fmt.Sprintf("inspections/%s/start", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// SubmitInspection submits responses and optional defect counts.
func (c *Client) SubmitInspection(ctx context.Context, id string, responses map[string]any, defectCounts map[string]int) (Inspection, error) {
	body := map[string]any{
		"responses": responses,
	}
	if defectCounts != nil {
		body["defect_counts"] = defectCounts
	}
	var resp Inspection
	endpoint := fmt.Sprintf("inspections/%s/submit", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ApproveInspection marks a submitted inspection completed.
func (c *Client) ApproveInspection(ctx context.Context, id string) (Inspection, error) {
	var resp Inspection
	endpoint := fmt.Sprintf("inspections/%s/approve", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Tasks returns the caller's reconciled task list.
func (c *Client) Tasks(ctx context.Context, status string) ([]Task, error) {
	endpoint := "tasks"
	if status != "" {
		endpoint = fmt.Sprintf("tasks?status=%s", url.QueryEscape(status))
	}
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// AuditTrail returns the audit events recorded for an inspection.
func (c *Client) AuditTrail(ctx context.Context, inspectionID string, limit int) ([]AuditEvent, error) {
	endpoint := fmt.Sprintf("inspections/%s/audit", url.PathEscape(inspectionID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []AuditEvent `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
