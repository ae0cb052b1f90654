package swaplinesdk

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

// Client is a minimal Swapline HTTP API client.
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

// Request represents the API swap request model.
type Request struct {
	ID              string   `json:"id"`
	SenderID        string   `json:"sender_id"`
	ReceiverID      string   `json:"receiver_id"`
	OfferedSkills   []string `json:"offered_skills"`
	RequestedSkills []string `json:"requested_skills"`
	Status          string   `json:"status"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

// Session represents a scheduled swap session.
type Session struct {
	ID              string `json:"id"`
	RequestID       string `json:"request_id"`
	RequesterID     string `json:"requester_id"`
	ProviderID      string `json:"provider_id"`
	Date            string `json:"date"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
}

// Review represents a partner review.
type Review struct {
	ID             string `json:"id"`
	ReviewerID     string `json:"reviewer_id"`
	ReviewedUserID string `json:"reviewed_user_id"`
	RequestID      string `json:"request_id"`
	Rating         int    `json:"rating"`
	Comment        string `json:"comment,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// ReviewSummary carries a user's reviews with the fresh aggregate.
type ReviewSummary struct {
	AverageRating float64  `json:"average_rating"`
	TotalReviews  int      `json:"total_reviews"`
	Reviews       []Review `json:"reviews"`
}

// Notification represents a delivered notification.
type Notification struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	Kind      string `json:"kind"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at"`
}

// Partner represents a user returned by partner search.
type Partner struct {
	ID             string   `json:"id"`
	DisplayName    string   `json:"display_name"`
	SkillsOffered  []string `json:"skills_offered"`
	AverageRating  float64  `json:"average_rating"`
	TotalReviews   int      `json:"total_reviews"`
	CompletedSwaps int      `json:"completed_swaps"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateRequest sends a swap request to another user.
func (c *Client) CreateRequest(ctx context.Context, receiverID string, offered, requested []string) (Request, error) {
	body := map[string]any{
		"receiver_id":      receiverID,
		"offered_skills":   offered,
		"requested_skills": requested,
	}
	var resp Request
	err := c.do(ctx, http.MethodPost, "v1/requests", body, &resp)
	return resp, err
}

// RespondRequest accepts, declines or completes a request.
func (c *Client) RespondRequest(ctx context.Context, id, status string) (Request, error) {
	body := map[string]any{"status": status}
	var resp Request
	endpoint := fmt.Sprintf("v1/requests/%s/respond", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SentRequests lists requests the caller sent.
func (c *Client) SentRequests(ctx context.Context) ([]Request, error) {
	var resp []Request
	err := c.do(ctx, http.MethodGet, "v1/requests/sent", nil, &resp)
	return resp, err
}

// ReceivedRequests lists requests the caller received.
func (c *Client) ReceivedRequests(ctx context.Context) ([]Request, error) {
	var resp []Request
	err := c.do(ctx, http.MethodGet, "v1/requests/received", nil, &resp)
	return resp, err
}

// ScheduleSession schedules a session for an accepted request.
func (c *Client) ScheduleSession(ctx context.Context, requestID string, date time.Time, durationMinutes int) (Session, error) {
	body := map[string]any{
		"request_id": requestID,
		"date":       date.UTC().Format(time.RFC3339),
	}
	if durationMinutes > 0 {
		body["duration_minutes"] = durationMinutes
	}
	var resp Session
	err := c.do(ctx, http.MethodPost, "v1/sessions", body, &resp)
	return resp, err
}

// CompleteSession completes a session.
func (c *Client) CompleteSession(ctx context.Context, id string) (Session, error) {
	var resp Session
	endpoint := fmt.Sprintf("v1/sessions/%s/complete", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// AddReview reviews a swap partner for a completed request.
func (c *Client) AddReview(ctx context.Context, userID, requestID string, rating int, comment string) (Review, error) {
	body := map[string]any{
		"request_id": requestID,
		"rating":     rating,
		"comment":    comment,
	}
	var resp Review
	endpoint := fmt.Sprintf("v1/users/%s/reviews", url.PathEscape(userID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Reviews lists a user's reviews with the aggregate.
func (c *Client) Reviews(ctx context.Context, userID string) (ReviewSummary, error) {
	var resp ReviewSummary
	endpoint := fmt.Sprintf("v1/users/%s/reviews", url.PathEscape(userID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Notifications lists the caller's notifications, newest first.
func (c *Client) Notifications(ctx context.Context) ([]Notification, error) {
	var resp []Notification
	err := c.do(ctx, http.MethodGet, "v1/notifications", nil, &resp)
	return resp, err
}

// ReadNotification marks a notification as read.
func (c *Client) ReadNotification(ctx context.Context, id string) (Notification, error) {
	var resp Notification
	endpoint := fmt.Sprintf("v1/notifications/%s/read", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Partners lists users offering the given skill.
func (c *Client) Partners(ctx context.Context, skill string) ([]Partner, error) {
	var resp []Partner
	endpoint := "v1/partners?skill=" + url.QueryEscape(skill)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
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
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
