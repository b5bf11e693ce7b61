// Package backend wraps the BedReady plugin's simple-API commands.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bedready-go/internal/types"
)

// Commander issues one plugin command. *octoprint.Client implements it.
type Commander interface {
	Command(ctx context.Context, plugin, command string, params map[string]any, out any) error
}

// ErrEmptyResponse is returned when take_snapshot succeeds without a body.
var ErrEmptyResponse = errors.New("empty response")

// MaskOptions travel with take_snapshot and check_bed.
type MaskOptions struct {
	Enabled bool
	Points  string
}

// TakeResult is the take_snapshot response: either the refreshed snapshot
// list or an application error.
type TakeResult struct {
	Snapshots []string
	Error     string
}

func (r *TakeResult) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &r.Snapshots)
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("take_snapshot response: %w", err)
	}
	if obj.Error == "" {
		return errors.New("take_snapshot response: object without error field")
	}
	r.Error = obj.Error
	return nil
}

// Client is the typed BedReady command API.
type Client struct {
	cmd    Commander
	plugin string
}

func New(cmd Commander, plugin string) *Client {
	return &Client{cmd: cmd, plugin: plugin}
}

func (c *Client) ListSnapshots(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.cmd.Command(ctx, c.plugin, "list_snapshots", nil, &out); err != nil {
		return nil, fmt.Errorf("list_snapshots: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func (c *Client) TakeSnapshot(ctx context.Context, name string, mask MaskOptions) (TakeResult, error) {
	var out TakeResult
	params := map[string]any{
		"name":        name,
		"enable_mask": mask.Enabled,
		"mask_points": mask.Points,
	}
	if err := c.cmd.Command(ctx, c.plugin, "take_snapshot", params, &out); err != nil {
		return TakeResult{}, fmt.Errorf("take_snapshot: %w", err)
	}
	if out.Snapshots == nil && out.Error == "" {
		return TakeResult{}, fmt.Errorf("take_snapshot: %w", ErrEmptyResponse)
	}
	return out, nil
}

func (c *Client) DeleteSnapshot(ctx context.Context, filename string) error {
	if err := c.cmd.Command(ctx, c.plugin, "delete_snapshot", map[string]any{"filename": filename}, nil); err != nil {
		return fmt.Errorf("delete_snapshot: %w", err)
	}
	return nil
}

func (c *Client) CheckBed(ctx context.Context, reference string, mask MaskOptions) (types.ComparisonResult, error) {
	var out types.ComparisonResult
	params := map[string]any{
		"reference":   reference,
		"enable_mask": mask.Enabled,
		"mask_points": mask.Points,
	}
	if err := c.cmd.Command(ctx, c.plugin, "check_bed", params, &out); err != nil {
		return types.ComparisonResult{}, fmt.Errorf("check_bed: %w", err)
	}
	return out, nil
}
