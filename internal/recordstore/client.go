package recordstore

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

	"github.com/tvandenberg/clubsync/internal/model"
)

// Client is a thin HTTP client for the record store REST API. It handles
// Bearer key authentication, JSON marshaling, and automatic retry with
// exponential backoff on HTTP 429.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
}

var _ Store = (*Client)(nil)

// NewClient creates a new record store client. The baseURL should be the
// root URL of the hosted backend (e.g. https://api.club.example.com).
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: 3,
	}
}

// ListNotifications returns one page of a user's feed, newest first.
func (c *Client) ListNotifications(
	ctx context.Context,
	userID string,
	filter NotificationFilter,
) ([]model.Notification, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("page", strconv.Itoa(filter.Page))
	q.Set("page_size", strconv.Itoa(filter.PageSize))
	q.Set("order", "created_at.desc")
	if filter.Type != "" {
		q.Set("type", filter.Type)
	}

	var result struct {
		Items []model.Notification `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "/rest/notifications?"+q.Encode(), nil, &result)
	if err != nil {
		return nil, err
	}
	return result.Items, nil
}

// UnreadCount returns the authoritative unread total for a user.
func (c *Client) UnreadCount(ctx context.Context, userID string) (int, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("is_read", "false")

	var result struct {
		Count int `json:"count"`
	}
	err := c.do(ctx, http.MethodGet, "/rest/notifications/count?"+q.Encode(), nil, &result)
	if err != nil {
		return 0, err
	}
	return result.Count, nil
}

// SetRead flips a notification's read state only when it differs from
// the target. The server reports whether a row changed; a missing record
// is reported as unchanged rather than an error, since the desired end
// state already holds.
func (c *Client) SetRead(ctx context.Context, id string, read bool) (bool, error) {
	body := map[string]any{"is_read": read}

	var result struct {
		Changed bool `json:"changed"`
	}
	err := c.do(ctx, http.MethodPatch, "/rest/notifications/"+url.PathEscape(id)+"/read", body, &result)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return result.Changed, nil
}

// MarkAllRead transitions every notification of the user to read.
func (c *Client) MarkAllRead(ctx context.Context, userID string) error {
	body := map[string]any{"user_id": userID}
	return c.do(ctx, http.MethodPost, "/rest/notifications/read-all", body, nil)
}

// DeleteNotifications removes the given ids; unknown ids are ignored by
// the server.
func (c *Client) DeleteNotifications(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"ids": ids}
	err := c.do(ctx, http.MethodPost, "/rest/notifications/delete", body, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// ClearNotifications removes all notifications for a user.
func (c *Client) ClearNotifications(ctx context.Context, userID string) error {
	q := url.Values{}
	q.Set("user_id", userID)
	return c.do(ctx, http.MethodDelete, "/rest/notifications?"+q.Encode(), nil, nil)
}

// InsertTrainingLog creates a training diary entry.
func (c *Client) InsertTrainingLog(ctx context.Context, entry model.TrainingLog) error {
	return c.do(ctx, http.MethodPost, "/rest/training-logs", entry, nil)
}

// UpdateTrainingLog replaces a training diary entry.
func (c *Client) UpdateTrainingLog(ctx context.Context, entry model.TrainingLog) error {
	return c.do(ctx, http.MethodPut, "/rest/training-logs/"+url.PathEscape(entry.ID), entry, nil)
}

// DeleteTrainingLog removes a training diary entry. Deleting a missing
// entry is a no-op.
func (c *Client) DeleteTrainingLog(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, "/rest/training-logs/"+url.PathEscape(id), nil, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// UpsertDeviceSubscription registers a push endpoint, keyed by endpoint.
func (c *Client) UpsertDeviceSubscription(ctx context.Context, sub model.DeviceSubscription) error {
	return c.do(ctx, http.MethodPut, "/rest/devices", sub, nil)
}

// do is the core HTTP method that builds the request, handles auth, rate
// limiting with exponential backoff, and JSON (de)serialization.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	body interface{},
	result interface{},
) error {
	fullURL := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		// Rebuild the body reader on retries since it was consumed.
		if attempt > 0 && body != nil {
			data, _ := json.Marshal(body)
			bodyReader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &UnavailableError{
				Err: fmt.Errorf("executing request %s %s: %w", method, path, err),
			}
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			waitDuration := retryAfterDuration(resp, attempt)
			lastErr = fmt.Errorf("rate limited (429) on %s %s", method, path)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
				continue
			}
		}

		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf(
				"authentication failed (401): check the API key for %s", c.baseURL,
			)
		}

		if resp.StatusCode == http.StatusNotFound {
			return &NotFoundError{Resource: "record", ID: path}
		}

		if resp.StatusCode >= 500 {
			return &UnavailableError{
				Err: fmt.Errorf("server error (%d) on %s %s", resp.StatusCode, method, path),
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf(
				"unexpected status %d on %s %s: %s",
				resp.StatusCode, method, path, string(respBody),
			)
		}

		// No content to parse (e.g. 204).
		if result == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
		}

		return nil
	}

	return &UnavailableError{
		Err: fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr),
	}
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	// Exponential backoff: 1s, 2s, 4s, ...
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
