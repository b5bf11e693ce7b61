package octoprint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Status summarises the printer host as seen by the panel.
type Status struct {
	Connection string `json:"connection"`
	Job        string `json:"job"`
}

// PollStatus reports the connection and job state every interval until ctx
// is done. Unreachable endpoints report "error" rather than stopping the poll.
func (c *Client) PollStatus(ctx context.Context, interval time.Duration, update func(Status)) {
	if c.baseURL == "" || update == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	client := &http.Client{
		Timeout: 900 * time.Millisecond,
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		update(Status{
			Connection: c.fetchStatus(ctx, client, "/api/connection"),
			Job:        c.fetchStatus(ctx, client, "/api/job"),
		})

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Client) fetchStatus(ctx context.Context, client *http.Client, path string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "error"
	}
	c.authorize(req)
	resp, err := client.Do(req)
	if err != nil {
		return "error"
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("http_%d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "error"
	}
	if len(body) == 0 {
		return "ok"
	}
	state, ok := extractState(body)
	if !ok {
		return "ok"
	}
	return state
}

func extractState(payload []byte) (string, bool) {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", false
	}
	state := findState(decoded)
	if state == "" {
		return "", false
	}
	return strings.ToLower(state), true
}

// findState looks for the first state-like string. /api/connection nests it
// under "current", /api/job keeps it at the top level.
func findState(value any) string {
	switch v := value.(type) {
	case map[string]any:
		for _, key := range []string{"state", "status", "current"} {
			if entry, ok := v[key]; ok {
				switch inner := entry.(type) {
				case string:
					return inner
				default:
					if nested := findState(inner); nested != "" {
						return nested
					}
				}
			}
		}
	case []any:
		for _, entry := range v {
			if nested := findState(entry); nested != "" {
				return nested
			}
		}
	}
	return ""
}
