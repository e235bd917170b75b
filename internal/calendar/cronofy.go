package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is a minimal Cronofy REST client covering the four operations the
// relay needs: free/busy, event upsert, event delete, token refresh.
// It intentionally avoids any provider SDK dependency.
const (
	defaultAPIBaseURL = "https://api.cronofy.com"
	requestTimeout    = 8 * time.Second
)

type Client struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	clientSecret string
}

func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: requestTimeout},
		baseURL:      defaultAPIBaseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// FreeBusyBlock is a time interval during which the calendar shows an
// existing event.
type FreeBusyBlock struct {
	Start time.Time
	End   time.Time
}

// Event is the mirror payload. EventID is the caller's deterministic id,
// which makes upsert and later deletion idempotent on the Cronofy side.
type Event struct {
	EventID     string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	TZID        string
}

// TokenResponse is the refresh grant result. RefreshToken may be empty
// when the provider does not rotate it.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// API is the surface the adapter consumes; tests substitute a fake.
type API interface {
	GetFreeBusy(ctx context.Context, accessToken string, from, to time.Time, tzid string) ([]FreeBusyBlock, error)
	CreateEvent(ctx context.Context, accessToken, calendarID string, ev Event) error
	DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error
	RefreshAccessToken(ctx context.Context, refreshToken string) (TokenResponse, error)
}

func (c *Client) GetFreeBusy(ctx context.Context, accessToken string, from, to time.Time, tzid string) ([]FreeBusyBlock, error) {
	q := url.Values{}
	q.Set("from", from.Format("2006-01-02"))
	q.Set("to", to.Format("2006-01-02"))
	q.Set("tzid", tzid)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/free_busy?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError("free_busy", resp)
	}

	var body struct {
		FreeBusy []struct {
			Start      time.Time `json:"start"`
			End        time.Time `json:"end"`
			FreeBusyAt string    `json:"free_busy_status"`
		} `json:"free_busy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode free_busy: %w", err)
	}

	var blocks []FreeBusyBlock
	for _, fb := range body.FreeBusy {
		if fb.FreeBusyAt == "free" {
			continue
		}
		blocks = append(blocks, FreeBusyBlock{Start: fb.Start, End: fb.End})
	}
	return blocks, nil
}

func (c *Client) CreateEvent(ctx context.Context, accessToken, calendarID string, ev Event) error {
	payload := map[string]any{
		"event_id":    ev.EventID,
		"summary":     ev.Summary,
		"description": ev.Description,
		"start":       ev.Start.Format(time.RFC3339),
		"end":         ev.End.Format(time.RFC3339),
		"tzid":        ev.TZID,
	}
	return c.eventRequest(ctx, http.MethodPost, accessToken, calendarID, payload)
}

func (c *Client) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error {
	return c.eventRequest(ctx, http.MethodDelete, accessToken, calendarID, map[string]any{"event_id": eventID})
}

func (c *Client) eventRequest(ctx context.Context, method, accessToken, calendarID string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/v1/calendars/%s/events", c.baseURL, url.PathEscape(calendarID))
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError("events", resp)
	}
	return nil
}

func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (TokenResponse, error) {
	payload := map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return TokenResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", bytes.NewReader(raw))
	if err != nil {
		return TokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TokenResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return TokenResponse{}, apiError("oauth/token", resp)
	}

	var tok TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return TokenResponse{}, fmt.Errorf("decode token response: %w", err)
	}
	return tok, nil
}

func apiError(op string, resp *http.Response) error {
	// Body is small on error paths; keep a snippet for the logs.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return fmt.Errorf("cronofy %s: status %d: %s", op, resp.StatusCode, bytes.TrimSpace(snippet))
}
