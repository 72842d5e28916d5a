// Package apiclient is the typed client for the remote survey backend. The
// backend itself (Express + Mongo) is an external collaborator; this package
// only encodes the endpoint contract the offline core depends on.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"skysurvey-agent/internal/model"
)

const (
	headerClientRef = "X-Client-Ref"
	headerDeviceID  = "X-Device-Id"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// LoginResponse is the body of a successful POST /auth/login.
type LoginResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// RegisterRequest is the body of POST /auth/register. The device id lets the
// server block duplicate registrations from the same installation.
type RegisterRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Mobile     string `json:"mobile"`
	EmployeeID string `json:"employeeId"`
	DeviceID   string `json:"deviceId"`
}

type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", ErrValidation, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrTransport, err)
		}
		return nil
	}

	var detail apiError
	_ = json.NewDecoder(resp.Body).Decode(&detail)
	message := detail.Message
	if message == "" {
		message = detail.Error
	}
	if message == "" {
		message = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized && token == "":
		return fmt.Errorf("%w: %s", ErrAuthRejected, message)
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrAuthExpired, message)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: %s", ErrValidation, message)
	default:
		return fmt.Errorf("%w: %s", ErrTransport, message)
	}
}

func (c *Client) Login(ctx context.Context, email, password string) (LoginResponse, error) {
	var out LoginResponse
	body := model.LoginPayload{Email: email, Password: password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", body, &out, nil); err != nil {
		return LoginResponse{}, err
	}
	if out.Token == "" {
		return LoginResponse{}, fmt.Errorf("%w: login response missing token", ErrTransport)
	}
	return out, nil
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (model.User, error) {
	var out struct {
		User model.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/register", "", req, &out, nil); err != nil {
		return model.User{}, err
	}
	return out.User, nil
}

// SubmitSurvey replays or submits one survey. clientRef carries the local
// queue entry id so the server could deduplicate a double replay; the client
// does not depend on it doing so.
func (c *Client) SubmitSurvey(ctx context.Context, token string, survey model.SurveyPayload, clientRef, deviceID string) (model.SubmissionRecord, error) {
	headers := map[string]string{}
	if clientRef != "" {
		headers[headerClientRef] = clientRef
	}
	if deviceID != "" {
		headers[headerDeviceID] = deviceID
	}

	var out model.SubmissionRecord
	if err := c.do(ctx, http.MethodPost, "/survey/submit", token, survey, &out, headers); err != nil {
		return model.SubmissionRecord{}, err
	}
	return out, nil
}

func (c *Client) PastSubmissions(ctx context.Context, token string, page, limit int) ([]model.SubmissionRecord, error) {
	var out struct {
		Surveys []model.SubmissionRecord `json:"surveys"`
	}
	path := fmt.Sprintf("/survey/past-submissions?page=%d&limit=%d", page, limit)
	if err := c.do(ctx, http.MethodGet, path, token, nil, &out, nil); err != nil {
		return nil, err
	}
	return out.Surveys, nil
}

func (c *Client) DashboardStats(ctx context.Context, token string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/survey/dashboard-stats", token, nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// Health is the reachability probe target for the connectivity tracker.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", "", nil, nil, nil)
}
