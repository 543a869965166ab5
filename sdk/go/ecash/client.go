// Package ecash is a thin HTTP client for the EasyCash execution service.
package ecash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// SignatureHeader carries the hex encoded signature of the request body.
const SignatureHeader = "X-Ecash-Signature"

// Signer signs request bodies. proofs.Signer satisfies it.
type Signer interface {
	Sign(data []byte) (string, error)
}

// Client wraps the HTTP interactions with the EasyCash REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	signer     Signer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithSigner signs every write request.
func WithSigner(s Signer) Option {
	return func(c *Client) { c.signer = s }
}

// TransactionRequest is the payload accepted by Execute.
type TransactionRequest struct {
	ReferenceID string  `json:"reference_id"`
	Type        string  `json:"type"`
	Amount      string  `json:"amount"`
	Asset       string  `json:"asset"`
	Recipient   *string `json:"recipient,omitempty"`
	SourceChain string  `json:"source_chain"`
	TargetChain *string `json:"target_chain,omitempty"`
	IsShielded  bool    `json:"is_shielded"`
}

// TransactionResponse describes a settled transaction.
type TransactionResponse struct {
	TxHash      string `json:"tx_hash"`
	Status      string `json:"status"`
	BlockHeight uint64 `json:"block_height"`
	FeeUsed     string `json:"fee_used"`
}

// TaskSubmission creates an asynchronous execution.
type TaskSubmission struct {
	ID         string             `json:"id,omitempty"`
	Request    TransactionRequest `json:"request"`
	Preference string             `json:"preference,omitempty"`
}

// Task is the server view of an asynchronous execution.
type Task struct {
	ID         string               `json:"id"`
	Request    TransactionRequest   `json:"request"`
	Preference string               `json:"preference,omitempty"`
	Status     string               `json:"status"`
	Attempts   int                  `json:"attempts"`
	MaxRetries int                  `json:"max_retries"`
	LastError  string               `json:"last_error,omitempty"`
	ErrorCode  string               `json:"error_code,omitempty"`
	Result     *TransactionResponse `json:"result,omitempty"`
	CreatedAt  int64                `json:"created_at"`
	UpdatedAt  int64                `json:"updated_at"`
}

// Done reports whether the task reached a terminal state.
func (t Task) Done() bool {
	return t.Status == "succeeded" || t.Status == "failed"
}

// TaskStats summarises tasks matching a list query.
type TaskStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// TaskList is returned by ListTasks.
type TaskList struct {
	Tasks []Task    `json:"tasks"`
	Stats TaskStats `json:"stats"`
}

// ListOptions filters ListTasks. Zero values are omitted.
type ListOptions struct {
	Limit     int
	Offset    int
	Statuses  []string
	Query     string
	Ascending bool
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("ecash api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ecash api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the given base URL.
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	c := &Client{baseURL: parsed, httpClient: &http.Client{Timeout: DefaultHTTPTimeout}}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Execute runs a transaction synchronously. An empty preference uses the
// server default.
func (c *Client) Execute(ctx context.Context, req TransactionRequest, preference string) (TransactionResponse, error) {
	endpoint := "/api/v1/transactions"
	var query url.Values
	if preference != "" {
		query = url.Values{"preference": {preference}}
	}
	var resp TransactionResponse
	if err := c.post(ctx, endpoint, query, req, &resp); err != nil {
		return TransactionResponse{}, err
	}
	return resp, nil
}

// SubmitTask queues a transaction for asynchronous execution.
func (c *Client) SubmitTask(ctx context.Context, submission TaskSubmission) (Task, error) {
	var created Task
	if err := c.post(ctx, "/api/v1/tasks", nil, submission, &created); err != nil {
		return Task{}, err
	}
	return created, nil
}

// GetTask fetches a task by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return Task{}, errors.New("ecash: task id is required")
	}
	var found Task
	if err := c.get(ctx, "/api/v1/tasks/"+taskID, nil, &found); err != nil {
		return Task{}, err
	}
	return found, nil
}

// ListTasks returns tasks matching opts together with their stats.
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) (TaskList, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	if len(opts.Statuses) > 0 {
		query.Set("status", strings.Join(opts.Statuses, ","))
	}
	if opts.Query != "" {
		query.Set("q", opts.Query)
	}
	if opts.Ascending {
		query.Set("order", "asc")
	}
	var list TaskList
	if err := c.get(ctx, "/api/v1/tasks", query, &list); err != nil {
		return TaskList{}, err
	}
	return list, nil
}

// WaitForTask polls until the task is done or ctx expires.
func (c *Client) WaitForTask(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		found, err := c.GetTask(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if found.Done() {
			return found, nil
		}
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Metrics returns the service performance snapshot.
func (c *Client) Metrics(ctx context.Context) (map[string]float64, error) {
	out := map[string]float64{}
	if err := c.get(ctx, "/api/v1/metrics", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, endpoint string, query url.Values, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, query, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.signer != nil {
		sig, err := c.signer.Sign(body)
		if err != nil {
			return fmt.Errorf("sign request: %w", err)
		}
		req.Header.Set(SignatureHeader, sig)
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	u.RawPath = ""
	u.RawQuery = query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
