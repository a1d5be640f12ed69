// internal/coreapi/client.go
//
// HTTP client for the core membership system.
//
// Context
// -------
//   - Two endpoints matter: a login that trades the campus's API key pair
//     for a bearer token, and a cursor-paginated member listing.  A pull
//     must walk every page: the archival sweep treats "not seen in this
//     run" as "gone remotely", so a truncated listing would archive
//     members that are still there.
//   - Failures are typed.  *AuthError: the remote rejected the
//     credentials.  *PartialFetchError: the listing was interrupted
//     mid-pagination and every fetched page must be discarded.
//     *HTTPError: any other non-2xx answer.
//   - Transient failures (connection errors, 429, 5xx) retry with capped
//     exponential backoff, honoring Retry-After.
package coreapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// AuthError means the core system rejected the campus's credentials.
// Retried only by the next scheduled trigger, never within a run.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("core login rejected (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("core login rejected (%d)", e.StatusCode)
}

// PartialFetchError wraps a failure partway through the member listing.
// Records counts what arrived before the break; the records themselves are
// withheld so a truncated roster can never be applied.
type PartialFetchError struct {
	PagesFetched int
	Records      int
	Err          error
}

func (e *PartialFetchError) Error() string {
	return fmt.Sprintf("member listing interrupted after %d page(s): %v", e.PagesFetched, e.Err)
}

func (e *PartialFetchError) Unwrap() error { return e.Err }

// HTTPError is any non-2xx answer that is not a login rejection.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("core http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("core http %d", e.StatusCode)
}

// Session is a live bearer token from Login.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Endpoint describes where one campus's core system lives.  Paths come
// from the campus's sync configuration.
type Endpoint struct {
	BaseURL     string
	LoginPath   string
	MembersPath string
}

// Client talks to one campus's core system.  Safe for concurrent use.
type Client struct {
	endpoint   Endpoint
	httpClient *http.Client
	pageSize   int
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// New builds a Client.  httpClient nil gets a 30-second-timeout default;
// pageSize <= 0 falls back to 100.
func New(ep Endpoint, httpClient *http.Client, pageSize int) *Client {
	ep.BaseURL = strings.TrimRight(strings.TrimSpace(ep.BaseURL), "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		endpoint:   ep,
		httpClient: httpClient,
		pageSize:   pageSize,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

type loginRequest struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// Login trades the credential pair for a bearer token.
func (c *Client) Login(ctx context.Context, apiKey, apiSecret string) (*Session, error) {
	var out loginResponse
	err := c.doJSON(ctx, http.MethodPost, c.endpoint.LoginPath, "",
		loginRequest{APIKey: apiKey, APISecret: apiSecret}, &out)
	if err != nil {
		var he *HTTPError
		if errors.As(err, &he) && (he.StatusCode == http.StatusUnauthorized || he.StatusCode == http.StatusForbidden) {
			return nil, &AuthError{StatusCode: he.StatusCode, Message: he.Message}
		}
		return nil, err
	}
	if out.Token == "" {
		return nil, &HTTPError{StatusCode: http.StatusOK, Message: "login response carried no token"}
	}
	return &Session{
		Token:     out.Token,
		ExpiresAt: time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
	}, nil
}

type memberPage struct {
	Members    []Record `json:"members"`
	NextCursor *string  `json:"next_cursor"`
}

// FetchPage returns one listing page and the cursor of the next, empty
// when the listing is exhausted.
func (c *Client) FetchPage(ctx context.Context, s *Session, cursor string) ([]Record, string, error) {
	q := url.Values{}
	q.Set("page_size", strconv.Itoa(c.pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var out memberPage
	err := c.doJSON(ctx, http.MethodGet, c.endpoint.MembersPath+"?"+q.Encode(), s.Token, nil, &out)
	if err != nil {
		return nil, "", err
	}

	next := ""
	if out.NextCursor != nil {
		next = *out.NextCursor
	}
	return out.Members, next, nil
}

// FetchAll walks the listing to the end.  Any failure mid-walk comes back
// as *PartialFetchError and the caller must discard the partial result.
func (c *Client) FetchAll(ctx context.Context, s *Session) ([]Record, error) {
	var (
		all    []Record
		cursor string
		pages  int
	)
	for {
		records, next, err := c.FetchPage(ctx, s, cursor)
		if err != nil {
			return nil, &PartialFetchError{PagesFetched: pages, Records: len(all), Err: err}
		}
		pages++
		all = append(all, records...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

// DiscoverFields samples the first listing page and reports field names,
// inferred types, and up to five distinct sample values each.
func (c *Client) DiscoverFields(ctx context.Context, s *Session) ([]FieldInfo, error) {
	records, _, err := c.FetchPage(ctx, s, "")
	if err != nil {
		return nil, err
	}
	return inferFields(records), nil
}

func (c *Client) doJSON(ctx context.Context, method, requestPath, token string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.endpoint.BaseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("X-Correlation-Id", correlationID())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := c.pause(ctx, attempt+1, ""); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			return json.Unmarshal(payload, out)
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests ||
			(resp.StatusCode >= 500 && resp.StatusCode <= 599)
		if retryable && attempt < c.maxRetries {
			if waitErr := c.pause(ctx, attempt+1, resp.Header.Get("Retry-After")); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Message string `json:"message"`
			ErrText string `json:"error"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		msg := errPayload.Message
		if msg == "" {
			msg = errPayload.ErrText
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}
}

// pause sleeps for the attempt's backoff delay, or until ctx ends.
func (c *Client) pause(ctx context.Context, attempt int, retryAfterHeader string) error {
	delay := c.retryDelay(attempt, retryAfterHeader)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if after := parseRetryAfter(retryAfterHeader); after > 0 {
		if after > maxDelay {
			return maxDelay
		}
		return after
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func correlationID() string {
	return fmt.Sprintf("sync_%d", time.Now().UnixNano())
}
