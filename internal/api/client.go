package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"meetly/client/internal/auth"
	"meetly/client/internal/models"
)

// Error is a normalized server-reported failure. Message carries the
// human-readable text from the response body's "message" field, which the
// backend sends either as a string or as an array of strings.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

type Config struct {
	BaseURL string
	RPS     float64
	Burst   int
}

// Client wraps all HTTP calls to the backend under the /api prefix.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	mu    sync.Mutex
	token string
}

func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 20
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger,
	}
}

// SetToken installs the bearer token attached to subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || auth.Expired(c.token, time.Now()) {
		return ""
	}
	return c.token
}

// do executes one API call and returns the raw response body. Every
// endpoint lives under /api; outbound calls are paced by the limiter so
// the poller cannot hammer the backend.
func (c *Client) do(ctx context.Context, method, pathPart string, payload any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api"+pathPart, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, pathPart, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, pathPart, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Status: resp.StatusCode, Message: errorMessage(resp, body)}
	}

	if c.logger != nil {
		c.logger.Debug("api_response", "method", method, "path", pathPart, "status", resp.StatusCode)
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, pathPart string, out any) error {
	body, err := c.do(ctx, http.MethodGet, pathPart, nil)
	if err != nil {
		return err
	}
	return decode(body, pathPart, out)
}

func decode(body []byte, pathPart string, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", pathPart, err)
	}
	return nil
}

// errorMessage extracts the backend's "message" field, normalizing the
// array form into one comma-joined string.
func errorMessage(resp *http.Response, body []byte) string {
	var envelope struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Message) > 0 {
		var single string
		if err := json.Unmarshal(envelope.Message, &single); err == nil && single != "" {
			return single
		}
		var many []string
		if err := json.Unmarshal(envelope.Message, &many); err == nil && len(many) > 0 {
			return strings.Join(many, ", ")
		}
	}
	return fmt.Sprintf("API Error %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}

// Ping checks reachability of the backend.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/ping", nil)
	return err
}

// --- Users ---

func (c *Client) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	var out models.User
	body, err := c.do(ctx, http.MethodPost, "/users", user)
	if err != nil {
		return out, err
	}
	return out, decode(body, "/users", &out)
}

func (c *Client) GetUser(ctx context.Context, id string) (models.User, error) {
	var out models.User
	return out, c.get(ctx, "/users/"+url.PathEscape(id), &out)
}

func (c *Client) UpdateUser(ctx context.Context, id string, user models.User) (models.User, error) {
	var out models.User
	body, err := c.do(ctx, http.MethodPut, "/users/"+url.PathEscape(id), user)
	if err != nil {
		return out, err
	}
	return out, decode(body, "/users", &out)
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/users/"+url.PathEscape(id), nil)
	return err
}

type LoginResponse struct {
	User  models.User `json:"user"`
	Token string      `json:"token,omitempty"`
}

// Login authenticates by username/password. A returned token is installed
// as the client's bearer.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	var out LoginResponse
	body, err := c.do(ctx, http.MethodPost, "/users/login", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return out, err
	}
	if err := decode(body, "/users/login", &out); err != nil {
		return out, err
	}
	if out.Token != "" {
		c.SetToken(out.Token)
	}
	return out, nil
}

func (c *Client) UpdateFCMToken(ctx context.Context, userID, fcmToken string) error {
	_, err := c.do(ctx, http.MethodPut, "/users/"+url.PathEscape(userID)+"/fcm-token", map[string]string{"fcmToken": fcmToken})
	return err
}

func (c *Client) BlockUser(ctx context.Context, blockerID, blockedUserID string) error {
	_, err := c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(blockerID)+"/block", map[string]string{"blockedUserId": blockedUserID})
	return err
}

func (c *Client) UnblockUser(ctx context.Context, blockerID, blockedUserID string) error {
	_, err := c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(blockerID)+"/unblock", map[string]string{"blockedUserId": blockedUserID})
	return err
}

func (c *Client) BlockedUsers(ctx context.Context, blockerID string) ([]models.User, error) {
	var out []models.User
	return out, c.get(ctx, "/users/"+url.PathEscape(blockerID)+"/blocked", &out)
}

func (c *Client) IsBlocked(ctx context.Context, blockerID, blockedUserID string) (bool, error) {
	var out struct {
		Blocked bool `json:"blocked"`
	}
	err := c.get(ctx, "/users/"+url.PathEscape(blockerID)+"/is-blocked/"+url.PathEscape(blockedUserID), &out)
	return out.Blocked, err
}

// UploadAvatar sends an avatar image as multipart form data and returns
// the public URL assigned by the backend. oldPhotoURL, when set, lets the
// backend reap the replaced file.
func (c *Client) UploadAvatar(ctx context.Context, filename string, file io.Reader, oldPhotoURL string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", err
	}
	if oldPhotoURL != "" {
		if err := writer.WriteField("oldPhotoUrl", oldPhotoURL); err != nil {
			return "", err
		}
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload/avatar", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("upload avatar: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{Status: resp.StatusCode, Message: errorMessage(resp, body)}
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	return out.URL, nil
}

// --- Events ---

func (c *Client) CreateEvent(ctx context.Context, event models.Event) (models.Event, error) {
	var out models.Event
	body, err := c.do(ctx, http.MethodPost, "/events", event)
	if err != nil {
		return out, err
	}
	return out, decode(body, "/events", &out)
}

func (c *Client) Events(ctx context.Context, city string) ([]models.Event, error) {
	pathPart := "/events"
	if city != "" {
		pathPart += "?city=" + url.QueryEscape(city)
	}
	var out []models.Event
	return out, c.get(ctx, pathPart, &out)
}

func (c *Client) Event(ctx context.Context, id string) (models.Event, error) {
	var out models.Event
	return out, c.get(ctx, "/events/"+url.PathEscape(id), &out)
}

func (c *Client) MyEvents(ctx context.Context, authorID string) ([]models.Event, error) {
	var out []models.Event
	return out, c.get(ctx, "/events/my/"+url.PathEscape(authorID), &out)
}

func (c *Client) MyParticipations(ctx context.Context, userID string) ([]models.Event, error) {
	var out []models.Event
	return out, c.get(ctx, "/events/participant/"+url.PathEscape(userID), &out)
}

// DeleteEvent soft-deletes an event on behalf of its author.
func (c *Client) DeleteEvent(ctx context.Context, eventID, authorID string) error {
	_, err := c.do(ctx, http.MethodPut, "/events/"+url.PathEscape(eventID)+"/delete", map[string]string{"authorId": authorID})
	return err
}

func (c *Client) LeaveEvent(ctx context.Context, eventID, userID string) error {
	_, err := c.do(ctx, http.MethodPost, "/events/"+url.PathEscape(eventID)+"/leave", map[string]string{"userId": userID})
	return err
}

func (c *Client) RemoveParticipant(ctx context.Context, eventID, userID, authorID string) error {
	_, err := c.do(ctx, http.MethodPost, "/events/participants/remove", map[string]string{
		"eventId":  eventID,
		"userId":   userID,
		"authorId": authorID,
	})
	return err
}

// --- Join requests ---

func (c *Client) CreateEventRequest(ctx context.Context, eventID, userID string) (models.EventRequest, error) {
	var out models.EventRequest
	body, err := c.do(ctx, http.MethodPost, "/events/"+url.PathEscape(eventID)+"/requests", map[string]string{"userId": userID})
	if err != nil {
		return out, err
	}
	return out, decode(body, "/requests", &out)
}

func (c *Client) EventRequests(ctx context.Context, eventID string) ([]models.EventRequest, error) {
	var out []models.EventRequest
	return out, c.get(ctx, "/events/"+url.PathEscape(eventID)+"/requests", &out)
}

// ApproveRequest approves a join request and returns the updated event.
func (c *Client) ApproveRequest(ctx context.Context, requestID string) (models.Event, error) {
	var out models.Event
	body, err := c.do(ctx, http.MethodPut, "/events/requests/"+url.PathEscape(requestID)+"/approve", nil)
	if err != nil {
		return out, err
	}
	return out, decode(body, "/requests/approve", &out)
}

func (c *Client) RejectRequest(ctx context.Context, requestID string) error {
	_, err := c.do(ctx, http.MethodPut, "/events/requests/"+url.PathEscape(requestID)+"/reject", nil)
	return err
}

// --- Chats ---

func (c *Client) Chat(ctx context.Context, id string) (models.Chat, error) {
	var out models.Chat
	return out, c.get(ctx, "/chats/"+url.PathEscape(id), &out)
}

func (c *Client) ChatByEvent(ctx context.Context, eventID string) (models.Chat, error) {
	var out models.Chat
	return out, c.get(ctx, "/chats/event/"+url.PathEscape(eventID), &out)
}

func (c *Client) Messages(ctx context.Context, chatID string) ([]models.Message, error) {
	var out []models.Message
	return out, c.get(ctx, "/chats/"+url.PathEscape(chatID)+"/messages", &out)
}

func (c *Client) SendMessage(ctx context.Context, chatID, userID, text string) (models.Message, error) {
	var out models.Message
	body, err := c.do(ctx, http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/messages", map[string]string{
		"userId": userID,
		"text":   text,
	})
	if err != nil {
		return out, err
	}
	return out, decode(body, "/messages", &out)
}

func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID, userID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/chats/"+url.PathEscape(chatID)+"/messages/"+url.PathEscape(messageID), map[string]string{"userId": userID})
	return err
}

func (c *Client) DeleteAllMessages(ctx context.Context, chatID, userID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/chats/"+url.PathEscape(chatID)+"/messages", map[string]string{"userId": userID})
	return err
}
