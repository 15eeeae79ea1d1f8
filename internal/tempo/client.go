package tempo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tempo API returned %d for %s", e.StatusCode, e.URL)
}

// Code is the day code as sent by the API. Depending on the endpoint
// version it is either a JSON string ("3") or a number (3).
type Code string

// UnmarshalJSON accepts both string and numeric codes.
func (c *Code) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Code(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("codeJour is neither string nor number: %w", err)
	}
	*c = Code(n.String())
	return nil
}

// DayResponse is the subset of the jourTempo payload we use.
type DayResponse struct {
	CodeJour Code `json:"codeJour"`
}

// Client fetches day codes from the Tempo API
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a new Tempo API client
func NewClient(timeout time.Duration, userAgent string) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  userAgent,
	}
}

// FetchCode performs a GET on url and returns the codeJour field.
// The caller decides what to substitute on error.
func (c *Client) FetchCode(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Tempo API request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return "", &StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	var day DayResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&day); err != nil {
		return "", fmt.Errorf("failed to decode response from %s: %w", url, err)
	}

	return string(day.CodeJour), nil
}

// Close releases idle connections
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
