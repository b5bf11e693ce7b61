package settings

import (
	"context"
	"encoding/json"
	"fmt"
)

// Client is the part of the OctoPrint client the remote store needs.
type Client interface {
	Settings(ctx context.Context, out any) error
	SaveSettings(ctx context.Context, settings any) error
}

// Remote stores settings through OctoPrint's /api/settings.
type Remote struct {
	client Client
	plugin string
}

func NewRemote(client Client, plugin string) *Remote {
	return &Remote{client: client, plugin: plugin}
}

func (r *Remote) Load(ctx context.Context) (Settings, error) {
	var doc struct {
		Plugins map[string]json.RawMessage `json:"plugins"`
		Webcam  struct {
			SnapshotURL string `json:"snapshotUrl"`
		} `json:"webcam"`
	}
	if err := r.client.Settings(ctx, &doc); err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	// Keys the host left out keep their defaults; explicit zeros stay.
	values := Defaults()
	if raw, ok := doc.Plugins[r.plugin]; ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &values); err != nil {
			return Settings{}, fmt.Errorf("decode %s settings: %w", r.plugin, err)
		}
	}
	return Settings{Plugin: values, WebcamSnapshotURL: doc.Webcam.SnapshotURL}, nil
}

func (r *Remote) Save(ctx context.Context, v Values) error {
	payload := map[string]any{
		"plugins": map[string]any{r.plugin: v},
	}
	if err := r.client.SaveSettings(ctx, payload); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
