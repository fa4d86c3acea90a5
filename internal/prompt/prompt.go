// Package prompt fetches exercise prompts from the backend.
package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rbright/recital/internal/backend"
	"github.com/rbright/recital/internal/exercise"
)

// TextPlaceholder marks the synth command argument that receives the prompt text.
const TextPlaceholder = "{text}"

// Prompt is one sentence or topic to respond to.
type Prompt struct {
	// ID is the backend's opaque identifier, kept as raw JSON and sent back verbatim.
	ID       json.RawMessage
	Text     string
	AudioURL string
}

// IDString renders ID for logs and display.
func (p Prompt) IDString() string {
	var s string
	if err := json.Unmarshal(p.ID, &s); err == nil {
		return s
	}
	return string(p.ID)
}

// Provider fetches the next prompt for a module.
type Provider interface {
	Fetch(ctx context.Context, profile exercise.Profile) (Prompt, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(context.Context, exercise.Profile) (Prompt, error)

func (f ProviderFunc) Fetch(ctx context.Context, profile exercise.Profile) (Prompt, error) {
	return f(ctx, profile)
}

// Client fetches prompts over HTTP.
type Client struct {
	backend *backend.Client
}

func NewClient(b *backend.Client) *Client {
	return &Client{backend: b}
}

// Fetch issues GET on the module prompt path. It returns backend.ErrSessionInvalid on 401.
func (c *Client) Fetch(ctx context.Context, profile exercise.Profile) (Prompt, error) {
	var raw map[string]json.RawMessage
	if err := c.backend.GetJSON(ctx, profile.PromptPath, &raw); err != nil {
		return Prompt{}, fmt.Errorf("fetch %s prompt: %w", profile.Name, err)
	}

	var success bool
	if v, ok := raw["success"]; ok {
		_ = json.Unmarshal(v, &success)
	}
	if !success {
		var msg string
		_ = json.Unmarshal(raw["error"], &msg)
		if strings.TrimSpace(msg) == "" {
			msg = "prompt provider reported failure"
		}
		return Prompt{}, fmt.Errorf("fetch %s prompt: %s", profile.Name, msg)
	}

	id, ok := raw[profile.IDKey]
	if !ok || len(id) == 0 || string(id) == "null" {
		return Prompt{}, fmt.Errorf("fetch %s prompt: response missing %q", profile.Name, profile.IDKey)
	}

	var text string
	if err := json.Unmarshal(raw[profile.TextKey], &text); err != nil || strings.TrimSpace(text) == "" {
		return Prompt{}, fmt.Errorf("fetch %s prompt: response missing %s", profile.Name, profile.TextKey)
	}

	var audioURL string
	if v, ok := raw["audio_url"]; ok {
		_ = json.Unmarshal(v, &audioURL)
	}

	return Prompt{
		ID:       append(json.RawMessage(nil), id...),
		Text:     strings.TrimSpace(text),
		AudioURL: strings.TrimSpace(audioURL),
	}, nil
}
