// Package notion is a minimal client for the Notion REST API pages and databases endpoints.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIError is a non-2xx response from Notion
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion api error: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("notion api error: status=%d message=%s", e.Status, e.Message)
}

// Options configures a Client
type Options struct {
	BaseURL    string
	Token      string
	APIVersion string
	HTTPClient *http.Client
	UserAgent  string
}

// Client calls the Notion API with one integration token
type Client struct {
	baseURL    string
	token      string
	apiVersion string
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a Notion client
func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.notion.com/v1"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "2022-06-28"
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		apiVersion: apiVersion,
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
	}
}

// RetrieveDatabase fetches a database and its schema
func (c *Client) RetrieveDatabase(ctx context.Context, databaseID string) (*Database, error) {
	db := &Database{}
	if err := c.do(ctx, http.MethodGet, "/databases/"+databaseID, nil, db); err != nil {
		return nil, err
	}
	return db, nil
}

// UpdateDatabase adds or changes database properties
func (c *Client) UpdateDatabase(ctx context.Context, databaseID string, req UpdateDatabaseRequest) (*Database, error) {
	db := &Database{}
	if err := c.do(ctx, http.MethodPatch, "/databases/"+databaseID, req, db); err != nil {
		return nil, err
	}
	return db, nil
}

// QueryDatabase fetches one page of results
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, req QueryRequest) (*QueryResponse, error) {
	resp := &QueryResponse{}
	if err := c.do(ctx, http.MethodPost, "/databases/"+databaseID+"/query", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// QueryDatabaseAll follows next_cursor until has_more is false
func (c *Client) QueryDatabaseAll(ctx context.Context, databaseID string, req QueryRequest) ([]Page, error) {
	var pages []Page
	for {
		resp, err := c.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, err
		}
		pages = append(pages, resp.Results...)
		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			return pages, nil
		}
		req.StartCursor = *resp.NextCursor
	}
}

// CreatePage creates a database row
func (c *Client) CreatePage(ctx context.Context, req CreatePageRequest) (*Page, error) {
	page := &Page{}
	if err := c.do(ctx, http.MethodPost, "/pages", req, page); err != nil {
		return nil, err
	}
	return page, nil
}

// UpdatePage updates properties and/or the archived flag of a page
func (c *Client) UpdatePage(ctx context.Context, pageID string, req UpdatePageRequest) (*Page, error) {
	page := &Page{}
	if err := c.do(ctx, http.MethodPatch, "/pages/"+pageID, req, page); err != nil {
		return nil, err
	}
	return page, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if c.token == "" {
		return fmt.Errorf("notion token is empty")
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.apiVersion)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var parsed APIError
		if json.Unmarshal(respBody, &parsed) == nil {
			apiErr.Code = parsed.Code
			if strings.TrimSpace(parsed.Message) != "" {
				apiErr.Message = parsed.Message
			}
		}
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
