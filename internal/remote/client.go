package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/errdefs/pkg/errhttp"
)

const (
	restPrefix   = "/rest/v1/"
	tableAgents  = "agents"
	tableHistory = "history"

	// Single-object representation, as requested by .select().single().
	mediaTypeObject = "application/vnd.pgrst.object+json"
)

// TokenFunc returns the access token of the current session, or "".
type TokenFunc func() string

// Client talks to a PostgREST-style endpoint exposing the agents and
// history tables.
type Client struct {
	baseURL    string
	apiKey     string
	token      TokenFunc
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets the source of the per-user bearer token.
func WithToken(fn TokenFunc) ClientOption {
	return func(c *Client) { c.token = fn }
}

// NewClient creates a REST mirror client for baseURL.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Mirror = (*Client)(nil)

func eq(v string) string { return "eq." + v }

func scoped(userID, id string) url.Values {
	q := url.Values{"user_id": {eq(userID)}}
	if id != "" {
		q.Set("id", eq(id))
	}
	return q
}

// InsertAgent implements Mirror.
func (c *Client) InsertAgent(ctx context.Context, row AgentRow) (AgentRow, error) {
	row.ID = ""
	row.CreatedAt = nil
	var out AgentRow
	if err := c.insert(ctx, tableAgents, row, &out); err != nil {
		return AgentRow{}, err
	}
	return out, nil
}

// UpdateAgent implements Mirror.
func (c *Client) UpdateAgent(ctx context.Context, userID, id string, patch AgentPatch) error {
	return c.do(ctx, http.MethodPatch, tableAgents, scoped(userID, id), patch, nil)
}

// DeleteAgent implements Mirror.
func (c *Client) DeleteAgent(ctx context.Context, userID, id string) error {
	return c.do(ctx, http.MethodDelete, tableAgents, scoped(userID, id), nil, nil)
}

// DeleteAllAgents implements Mirror.
func (c *Client) DeleteAllAgents(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, tableAgents, scoped(userID, ""), nil, nil)
}

// ListAgents implements Mirror.
func (c *Client) ListAgents(ctx context.Context, userID string) ([]AgentRow, error) {
	q := scoped(userID, "")
	q.Set("order", "created_at.desc")
	var rows []AgentRow
	if err := c.do(ctx, http.MethodGet, tableAgents, q, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// InsertHistory implements Mirror.
func (c *Client) InsertHistory(ctx context.Context, row HistoryRow) (HistoryRow, error) {
	row.ID = ""
	row.CreatedAt = nil
	var out HistoryRow
	if err := c.insert(ctx, tableHistory, row, &out); err != nil {
		return HistoryRow{}, err
	}
	return out, nil
}

// DeleteHistory implements Mirror.
func (c *Client) DeleteHistory(ctx context.Context, userID, id string) error {
	return c.do(ctx, http.MethodDelete, tableHistory, scoped(userID, id), nil, nil)
}

// DeleteAllHistory implements Mirror.
func (c *Client) DeleteAllHistory(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, tableHistory, scoped(userID, ""), nil, nil)
}

// ListHistory implements Mirror.
func (c *Client) ListHistory(ctx context.Context, userID string, limit int) ([]HistoryRow, error) {
	q := scoped(userID, "")
	q.Set("order", "created_at.desc")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var rows []HistoryRow
	if err := c.do(ctx, http.MethodGet, tableHistory, q, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// insert posts row and decodes the returned representation into out. Both
// object and single-element array bodies are accepted.
func (c *Client) insert(ctx context.Context, table string, row, out any) error {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, table, nil, row, &raw); err != nil {
		return err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("decode %s insert: %w", table, err)
		}
		if len(items) == 0 {
			return errdefs.ErrNotFound.WithMessage(table + " insert returned no rows")
		}
		raw = items[0]
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s insert: %w", table, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, table string, query url.Values, body, out any) error {
	endpoint := c.baseURL + restPrefix + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", table, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.authorize(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		req.Header.Set("Prefer", "return=representation")
		req.Header.Set("Accept", mediaTypeObject)
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", errdefs.ErrUnavailable, method, table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s %s: %s", errhttp.ToNative(resp.StatusCode), method, table, describe(msg))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", table, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	token := ""
	if c.token != nil {
		token = c.token()
	}
	if token == "" {
		token = c.apiKey
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// describe extracts the message of a PostgREST error body.
func describe(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return strings.TrimSpace(string(body))
}
