// Package config loads the client configuration file and supports live
// reload while the client is running.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/adamavenir/parley/internal/acp"
)

// DefaultFile is the config file name looked up in the working directory.
const DefaultFile = "parley.json"

// Config is the on-disk client configuration.
type Config struct {
	// Agent is the agent command line to spawn when no URL is set.
	Agent []string `json:"agent,omitempty"`
	// URL is a WebSocket endpoint for a remote agent.
	URL string `json:"url,omitempty"`
	// AutoApprove lists glob patterns matched against tool titles;
	// matching permission requests are approved without prompting.
	AutoApprove []string `json:"autoApprove,omitempty"`
	// Models is the model list offered for /model completion.
	Models []acp.Model `json:"models,omitempty"`

	autoApprove []glob.Glob
}

// Load reads the config file if present. A missing file is not an error;
// it returns nil, matching a client run with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if err := cfg.compile(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) compile() error {
	c.autoApprove = c.autoApprove[:0]
	for _, pattern := range c.AutoApprove {
		g, err := glob.Compile(pattern)
		if err != nil {
			return fmt.Errorf("autoApprove pattern %q: %w", pattern, err)
		}
		c.autoApprove = append(c.autoApprove, g)
	}
	return nil
}

// Matches reports whether a tool title is covered by an auto-approve
// pattern. A nil config matches nothing.
func (c *Config) Matches(title string) bool {
	if c == nil {
		return false
	}
	for _, g := range c.autoApprove {
		if g.Match(title) {
			return true
		}
	}
	return false
}

// Watch re-loads the config whenever the file is written or created and
// delivers each successful reload to onChange. It blocks until ctx is
// done. Reload failures are delivered to onError and the previous config
// stays in effect.
func Watch(ctx context.Context, path string, onChange func(*Config), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save, which drops
	// a watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if cfg != nil {
				onChange(cfg)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}
