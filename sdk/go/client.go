package examlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Examline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Demand represents the API demand model.
type Demand struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	NoticeNumber string `json:"notice_number"`
	Authority    string `json:"authority"`
	Office       string `json:"office,omitempty"`
	ExamDate     string `json:"exam_date,omitempty"`
	Reward       string `json:"reward"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// Submission represents the API submission model.
type Submission struct {
	ID         int64   `json:"id"`
	DemandID   string  `json:"demand_id"`
	Name       string  `json:"name"`
	Handle     string  `json:"handle"`
	Email      string  `json:"email,omitempty"`
	PayoutKey  string  `json:"payout_key"`
	ProofPath  *string `json:"proof_path,omitempty"`
	Code       string  `json:"code"`
	Status     string  `json:"status"`
	Note       *string `json:"note,omitempty"`
	PaidAmount *string `json:"paid_amount,omitempty"`
	CreatedAt  string  `json:"created_at"`
	NotifiedAt *string `json:"notified_at,omitempty"`
	DeadlineAt *string `json:"deadline_at,omitempty"`
	AnalyzedAt *string `json:"analyzed_at,omitempty"`
	PaidAt     *string `json:"paid_at,omitempty"`
}

// SubmissionTicket is returned by participant-facing endpoints.
type SubmissionTicket struct {
	Submission Submission `json:"submission"`
	Position   int        `json:"position,omitempty"`
	Active     bool       `json:"active"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	DemandID   string `json:"demand_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateDemand posts a demand (staff).
func (c *Client) CreateDemand(ctx context.Context, title, noticeNumber, authority, reward string) (Demand, error) {
	body := map[string]any{
		"title":         title,
		"notice_number": noticeNumber,
		"authority":     authority,
		"reward":        reward,
	}
	var resp Demand
	err := c.do(ctx, http.MethodPost, "demands", body, &resp)
	return resp, err
}

// Demands lists demands, optionally filtered by status.
func (c *Client) Demands(ctx context.Context, status string) ([]Demand, error) {
	endpoint := "demands"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Demands []Demand `json:"demands"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Demands, err
}

// Submit enters a participant into a demand's queue. proofName/proof may be
// empty to submit without an artifact.
func (c *Client) Submit(ctx context.Context, demandID, name, handle, email, payoutKey, proofName string, proof io.Reader) (SubmissionTicket, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"name":       name,
		"handle":     handle,
		"email":      email,
		"payout_key": payoutKey,
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return SubmissionTicket{}, err
		}
	}
	if proof != nil {
		fw, err := mw.CreateFormFile("proof", proofName)
		if err != nil {
			return SubmissionTicket{}, err
		}
		if _, err := io.Copy(fw, proof); err != nil {
			return SubmissionTicket{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return SubmissionTicket{}, err
	}
	endpoint := fmt.Sprintf("demands/%s/submissions", url.PathEscape(demandID))
	var resp struct {
		Submission Submission `json:"submission"`
		Position   int        `json:"position"`
	}
	err := c.doRaw(ctx, http.MethodPost, endpoint, mw.FormDataContentType(), &buf, &resp)
	return SubmissionTicket{Submission: resp.Submission, Position: resp.Position, Active: true}, err
}

// UploadProof attaches the proof artifact for a notified submission.
func (c *Client) UploadProof(ctx context.Context, submissionID int64, proofName string, proof io.Reader) (Submission, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("proof", proofName)
	if err != nil {
		return Submission{}, err
	}
	if _, err := io.Copy(fw, proof); err != nil {
		return Submission{}, err
	}
	if err := mw.Close(); err != nil {
		return Submission{}, err
	}
	endpoint := fmt.Sprintf("submissions/%d/proof", submissionID)
	var resp struct {
		Submission Submission `json:"submission"`
	}
	err = c.doRaw(ctx, http.MethodPost, endpoint, mw.FormDataContentType(), &buf, &resp)
	return resp.Submission, err
}

// Ticket looks up a submission by its code, with queue position.
func (c *Client) Ticket(ctx context.Context, code string) (SubmissionTicket, error) {
	var resp SubmissionTicket
	endpoint := fmt.Sprintf("submissions/code/%s", url.PathEscape(code))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Reject turns down a submission with a reason (staff).
func (c *Client) Reject(ctx context.Context, submissionID int64, note string) (Submission, error) {
	var resp Submission
	endpoint := fmt.Sprintf("submissions/%d/reject", submissionID)
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"note": note}, &resp)
	return resp, err
}

// Approve accepts a submission (staff).
func (c *Client) Approve(ctx context.Context, submissionID int64, note string) (Submission, error) {
	var resp Submission
	endpoint := fmt.Sprintf("submissions/%d/approve", submissionID)
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"note": note}, &resp)
	return resp, err
}

// Pay records the payout for an approved submission (staff). Empty amount
// defaults to the demand reward.
func (c *Client) Pay(ctx context.Context, submissionID int64, amount string) (Submission, error) {
	body := map[string]any{}
	if amount != "" {
		body["amount"] = amount
	}
	var resp Submission
	endpoint := fmt.Sprintf("submissions/%d/pay", submissionID)
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Events returns recent audit events (staff).
func (c *Client) Events(ctx context.Context, demandID string, limit int) ([]Event, error) {
	endpoint := "events"
	params := url.Values{}
	if demandID != "" {
		params.Set("demand_id", demandID)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Events, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	return c.doRaw(ctx, method, endpoint, "application/json", &buf, out)
}

func (c *Client) doRaw(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
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
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
