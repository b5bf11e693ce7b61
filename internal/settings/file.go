package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// File stores settings directly in an OctoPrint config.yaml. Keys outside
// plugins.<id> are preserved on save.
type File struct {
	mu     sync.Mutex
	path   string
	plugin string
}

func NewFile(path, plugin string) *File {
	return &File{path: path, plugin: plugin}
}

type fileDoc struct {
	Plugins map[string]yaml.Node `yaml:"plugins"`
	Webcam  struct {
		Snapshot string `yaml:"snapshot"`
	} `yaml:"webcam"`
}

func (f *File) Load(context.Context) (Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Settings{Plugin: Defaults()}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read %s: %w", f.path, err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Settings{}, fmt.Errorf("parse %s: %w", f.path, err)
	}
	values := Defaults()
	if node, ok := doc.Plugins[f.plugin]; ok {
		if err := node.Decode(&values); err != nil {
			return Settings{}, fmt.Errorf("decode %s settings: %w", f.plugin, err)
		}
	}
	return Settings{Plugin: values, WebcamSnapshotURL: doc.Webcam.Snapshot}, nil
}

func (f *File) Save(_ context.Context, v Values) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc := map[string]any{}
	data, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read %s: %w", f.path, err)
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", f.path, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	}

	plugins, _ := doc["plugins"].(map[string]any)
	if plugins == nil {
		plugins = map[string]any{}
	}
	plugins[f.plugin] = v
	doc["plugins"] = plugins

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
