package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"bedready-go/internal/backend"
	"bedready-go/internal/config"
	"bedready-go/internal/logging"
	"bedready-go/internal/octoprint"
	"bedready-go/internal/panel"
	"bedready-go/internal/server"
	"bedready-go/internal/settings"
	"bedready-go/internal/simulator"
)

type commandContext struct {
	configFlag *string
	debugFlag  *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string, debugFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		debugFlag:  debugFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.debugFlag != nil && *c.debugFlag {
			cfg.Debug.Simulate = true
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) logger(w io.Writer) (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: w,
	})
}

// deps is everything a command needs to drive the panel.
type deps struct {
	cfg     *config.Config
	logger  *slog.Logger
	client  *octoprint.Client
	backend panel.Backend
	store   settings.Store
	images  server.Images
	sim     *simulator.Backend
}

func (c *commandContext) buildDeps(cmd *cobra.Command) (*deps, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.logger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	d := &deps{cfg: cfg, logger: logger}

	if cfg.Debug.Simulate {
		v := settings.Defaults()
		d.sim = simulator.NewBackend(v.MatchPercentage, cfg.Debug.FailureRate, time.Now().UnixNano())
		d.backend = d.sim
		d.store = settings.NewMemory(settings.Settings{Plugin: v, WebcamSnapshotURL: "http://simulator/snapshot"})
		d.images = simulator.Images{}
		logger.Info("running against the simulator", slog.Float64("failure_rate", cfg.Debug.FailureRate))
		return d, nil
	}

	d.client = octoprint.New(cfg.OctoPrint.URL, cfg.OctoPrint.APIKey, cfg.RequestTimeout())
	d.backend = backend.New(d.client, cfg.OctoPrint.Plugin)
	d.images = d.client.PluginImages(cfg.OctoPrint.Plugin)
	switch cfg.Settings.Store {
	case config.StoreFile:
		d.store = settings.NewFile(cfg.Settings.File, cfg.OctoPrint.Plugin)
	default:
		d.store = settings.NewRemote(d.client, cfg.OctoPrint.Plugin)
	}
	return d, nil
}

func (d *deps) newPanel() *panel.Panel {
	return panel.New(d.backend, d.store, panel.Options{
		Plugin:    d.cfg.OctoPrint.Plugin,
		ImageBase: d.cfg.Server.ImageBase,
		Logger:    d.logger,
	})
}

// initPanel builds a panel and loads settings and snapshots into it.
func (c *commandContext) initPanel(cmd *cobra.Command) (*deps, *panel.Panel, error) {
	d, err := c.buildDeps(cmd)
	if err != nil {
		return nil, nil, err
	}
	p := d.newPanel()
	if err := p.Initialize(cmd.Context()); err != nil {
		return nil, nil, fmt.Errorf("load snapshots: %w", err)
	}
	return d, p, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
