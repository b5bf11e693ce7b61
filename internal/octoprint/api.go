package octoprint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxBody = 1 << 20

var (
	ErrMissingBaseURL   = errors.New("missing base url")
	ErrMissingParameter = errors.New("missing parameter")
	ErrInvalidImageName = errors.New("invalid image name")
)

// APIError is returned when OctoPrint answers with a non-2xx status.
// Message carries the JSON "error" field when the response had one.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("octoprint: http %d", e.Status)
	}
	return fmt.Sprintf("octoprint: http %d: %s", e.Status, e.Message)
}

// Message extracts the text worth showing to a user from err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// Client talks to the OctoPrint REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) APIKey() string { return c.apiKey }

// WebsocketURL returns the raw SockJS websocket endpoint of the host.
func (c *Client) WebsocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/sockjs/websocket"
	return u.String(), nil
}

// Command issues a simple-API plugin command and decodes the JSON response
// into out. An empty response body leaves out untouched.
func (c *Client) Command(ctx context.Context, plugin, command string, params map[string]any, out any) error {
	if plugin == "" || command == "" {
		return ErrMissingParameter
	}
	body := map[string]any{"command": command}
	for k, v := range params {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", command, err)
	}
	return c.doJSON(ctx, http.MethodPost, "/api/plugin/"+url.PathEscape(plugin), payload, out)
}

// Settings fetches /api/settings into out.
func (c *Client) Settings(ctx context.Context, out any) error {
	return c.doJSON(ctx, http.MethodGet, "/api/settings", nil, out)
}

// SaveSettings posts a partial settings document.
func (c *Client) SaveSettings(ctx context.Context, settings any) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return c.doJSON(ctx, http.MethodPost, "/api/settings", payload, nil)
}

// Session identifies a logged-in user for the push socket.
type Session struct {
	Name    string `json:"name"`
	Session string `json:"session"`
}

// Login performs a passive login with the API key and returns the session
// the push socket authenticates with.
func (c *Client) Login(ctx context.Context) (Session, error) {
	var session Session
	err := c.doJSON(ctx, http.MethodPost, "/api/login", []byte(`{"passive":true}`), &session)
	if err != nil {
		return Session{}, err
	}
	if session.Name == "" || session.Session == "" {
		return Session{}, errors.New("octoprint: login returned no session")
	}
	return session, nil
}

// Image opens a file served by the plugin's image route. name may carry a
// query string (the backend appends cache busters to test images).
func (c *Client) Image(ctx context.Context, plugin, name string) (io.ReadCloser, string, error) {
	if c.baseURL == "" {
		return nil, "", ErrMissingBaseURL
	}
	if plugin == "" || name == "" {
		return nil, "", ErrMissingParameter
	}
	if !ValidImageName(name) {
		return nil, "", ErrInvalidImageName
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/plugin/"+url.PathEscape(plugin)+"/images/"+name, nil)
	if err != nil {
		return nil, "", err
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, "", decodeError(resp)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// ValidImageName reports whether name is a flat image filename with an
// optional query string. Names that could leave the images directory are
// rejected, including percent-encoded ones.
func ValidImageName(name string) bool {
	file, _, _ := strings.Cut(name, "?")
	decoded, err := url.PathUnescape(file)
	if err != nil || decoded == "" {
		return false
	}
	return !strings.ContainsAny(decoded, "/\\") && !strings.Contains(decoded, "..")
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload []byte, out any) error {
	if c.baseURL == "" {
		return ErrMissingBaseURL
	}
	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	apiErr := &APIError{Status: resp.StatusCode}
	var decoded struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(respBody, &decoded); err == nil && decoded.Error != "" {
		apiErr.Message = decoded.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(respBody))
	}
	return apiErr
}

// PluginImages opens the images served by one plugin.
type PluginImages struct {
	client *Client
	plugin string
}

func (c *Client) PluginImages(plugin string) *PluginImages {
	return &PluginImages{client: c, plugin: plugin}
}

func (p *PluginImages) Open(ctx context.Context, name string) (io.ReadCloser, string, error) {
	return p.client.Image(ctx, p.plugin, name)
}
