package provider

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
)

// maxErrorBody caps how much of an error response is kept on HTTPError.
const maxErrorBody = 4096

// SyncClient is the set of provider calls the sync engine needs.
// This interface allows the engine to be tested without a provider server.
type SyncClient interface {
	StartFullSync(ctx context.Context, token string, daysWithin int) (*FullSyncResponse, error)
	FetchUpdated(ctx context.Context, token string, params FetchParams) (*UpdatedPage, error)
	SendMessage(ctx context.Context, token string, msg *OutgoingMessage) (string, error)
}

// Client talks to the mail API provider. It holds no per-connection state;
// every call takes the access token to use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client whose requests time out after the given duration.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return NewClientWithHTTPClient(baseURL, &http.Client{Timeout: timeout})
}

// NewClientWithHTTPClient creates a client using the given HTTP client.
func NewClientWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

var _ SyncClient = (*Client)(nil)

// StartFullSync asks the provider to materialize the last daysWithin days.
// The response may have Ready=false; callers poll until it is ready.
func (c *Client) StartFullSync(ctx context.Context, token string, daysWithin int) (*FullSyncResponse, error) {
	query := url.Values{}
	query.Set("daysWithin", strconv.Itoa(daysWithin))
	query.Set("bodyType", "html")

	var resp FullSyncResponse
	if err := c.do(ctx, http.MethodPost, "/email/sync", query, token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchUpdated fetches one page of changed messages.
func (c *Client) FetchUpdated(ctx context.Context, token string, params FetchParams) (*UpdatedPage, error) {
	if (params.DeltaToken == "") == (params.PageToken == "") {
		return nil, ErrInvalidFetchParams
	}

	query := url.Values{}
	if params.DeltaToken != "" {
		query.Set("deltaToken", params.DeltaToken)
	} else {
		query.Set("pageToken", params.PageToken)
	}

	var page UpdatedPage
	if err := c.do(ctx, http.MethodGet, "/email/sync/updated", query, token, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SendMessage sends a composed message and returns the provider message id.
func (c *Client) SendMessage(ctx context.Context, token string, msg *OutgoingMessage) (string, error) {
	var resp sendMessageResponse
	if err := c.do(ctx, http.MethodPost, "/email/messages", nil, token, msg, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("provider returned no message id")
	}
	return resp.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, token string, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider %s %s failed: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrTokenExpired
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(errBody),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode provider response for %s %s: %w", method, path, err)
	}
	return nil
}
