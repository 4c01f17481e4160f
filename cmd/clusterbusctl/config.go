package main

// Named peer contexts for clusterbusctl, stored at
// $XDG_CONFIG_HOME/clusterbusctl/config.yaml (defaults to
// ~/.config/clusterbusctl/config.yaml). Mirrors the ployz CLI's
// kubeconfig-style context file so operators can refer to peers by name
// instead of retyping host:port.

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PeerContext is one named peer a clusterbusctl invocation can target.
type PeerContext struct {
	Address      string `yaml:"address"`
	AdminAddress string `yaml:"admin-address,omitempty"`
}

// CtlConfig holds named peer contexts and the current selection.
type CtlConfig struct {
	CurrentContext string                 `yaml:"current-context"`
	Contexts       map[string]PeerContext `yaml:"contexts"`
}

// ConfigPath returns the config file location, respecting XDG_CONFIG_HOME.
func ConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "clusterbusctl", "config.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "clusterbusctl", "config.yaml")
}

// LoadConfig reads the config file. A missing file yields an empty config,
// not an error.
func LoadConfig() (*CtlConfig, error) {
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &CtlConfig{Contexts: make(map[string]PeerContext)}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg CtlConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]PeerContext)
	}
	return &cfg, nil
}

// Save writes the config to disk, creating directories as needed.
func (c *CtlConfig) Save() error {
	p := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Set adds or updates a named context.
func (c *CtlConfig) Set(name string, ctx PeerContext) {
	c.Contexts[name] = ctx
}

// Remove deletes a context. If it was the current context, current-context
// is cleared. Returns an error if the name doesn't exist.
func (c *CtlConfig) Remove(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return nil
}

// Use sets the current context. Errors if the name doesn't exist.
func (c *CtlConfig) Use(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	c.CurrentContext = name
	return nil
}

// resolveTarget turns a probe argument into a dial target: if it names a
// known context, that context's address is used; otherwise the argument is
// assumed to already be a host:port and is returned unchanged.
func resolveTarget(cfg *CtlConfig, arg string) string {
	if ctx, ok := cfg.Contexts[arg]; ok {
		return ctx.Address
	}
	return arg
}

// resolveAdminTarget is resolveTarget's counterpart for the status/subs
// admin endpoint: a context's AdminAddress, falling back to the raw
// argument for operators who'd rather pass host:port directly.
func resolveAdminTarget(cfg *CtlConfig, arg string) string {
	if ctx, ok := cfg.Contexts[arg]; ok && ctx.AdminAddress != "" {
		return ctx.AdminAddress
	}
	return arg
}
