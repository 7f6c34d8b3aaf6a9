// Package ai wraps the Google GenAI client behind the two narrow capabilities
// the rest of the system needs: text embedding and text completion. Domain
// packages declare their own single-method interfaces and take this client as
// an injected dependency.
package ai

import "time"

// Config holds provider settings for the GenAI client.
type Config struct {
	APIKey     string
	EmbedModel string
	ChatModel  string
	// Timeout bounds each provider call so a slow upstream cannot hang a
	// webhook request. Callers see a context deadline error and fall back.
	Timeout time.Duration
}

// Defaults fills zero fields with sensible values.
func (c Config) withDefaults() Config {
	if c.EmbedModel == "" {
		c.EmbedModel = "gemini-embedding-001"
	}
	if c.ChatModel == "" {
		c.ChatModel = "gemini-2.5-flash"
	}
	if c.Timeout <= 0 {
		c.Timeout = 8 * time.Second
	}
	return c
}
