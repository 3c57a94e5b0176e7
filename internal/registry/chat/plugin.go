package chat

import (
	"context"
	"errors"
	"fmt"
)

// Request is a single-turn completion: one system prompt and one user message.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// ChatCompleter produces an assistant reply for a prompt.
type ChatCompleter interface {
	Complete(ctx context.Context, req Request) (string, error)
	// ModelName returns the model identifier used for completions.
	ModelName() string
}

// Loader creates a ChatCompleter from config.
type Loader func(ctx context.Context) (ChatCompleter, error)

// Plugin represents a chat completion plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a chat completion plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered chat plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named chat plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown chat completer %q; valid: %v", name, Names())
}

// ErrDisabled reports that no chat completer is configured.
var ErrDisabled = errors.New("chat completion is disabled")
