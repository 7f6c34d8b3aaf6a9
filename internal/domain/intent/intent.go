// Package intent translates conversation transcripts into structured order
// changes using a text-completion provider. It is a pure translation layer:
// provider failures and unparsable output degrade to nil / empty results so
// the webhook layer can ask the caller to clarify instead of erroring.
package intent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Completer is the text-completion capability the extractor depends on.
type Completer interface {
	Complete(ctx context.Context, instruction, prompt string) (string, error)
}

// Message is one turn of the conversation in OpenAI message format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Action is the kind of order change the customer asked for.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionModify Action = "modify"
)

// Change is one structured order change extracted from the transcript.
type Change struct {
	Action   Action `json:"action"`
	ItemName string `json:"item_name"`
	Quantity int    `json:"quantity"`
}

// ItemIntent is the legacy single-item extraction result.
type ItemIntent struct {
	ItemName string `json:"item_name"`
	Quantity int    `json:"quantity"`
}

const singleInstruction = `You are an order-taking assistant for a restaurant.
From the conversation, identify the single menu item the customer most
recently asked to order and its quantity. Respond with only a JSON object:
{"item_name": "<name>", "quantity": <number>}
If no item was ordered, respond with: null`

const changesInstruction = `You are an order-taking assistant for a restaurant.
From the conversation, extract every change the customer asked to make to
their order. Respond with only a JSON array of objects:
[{"action": "add"|"remove"|"modify", "item_name": "<name>", "quantity": <number>}]
Use "modify" when the customer changes the quantity of an item already in the
order. If no changes were requested, respond with: []`

// Extractor turns free-text conversation into structured order changes.
type Extractor struct {
	completer Completer
}

// NewExtractor creates an Extractor backed by the given completion provider.
func NewExtractor(completer Completer) *Extractor {
	return &Extractor{completer: completer}
}

// InferSingle extracts the most recent single (item, quantity) request from
// the transcript. It returns nil when the provider fails, the output is
// unparsable, or no item was ordered.
func (e *Extractor) InferSingle(ctx context.Context, messages []Message) *ItemIntent {
	out, err := e.completer.Complete(ctx, singleInstruction, renderTranscript(messages))
	if err != nil {
		zctx.From(ctx).Warn("Single-item inference failed", zap.Error(err))
		return nil
	}

	var item ItemIntent
	if err := json.Unmarshal([]byte(stripFences(out)), &item); err != nil || item.ItemName == "" {
		return nil
	}
	if item.Quantity < 1 {
		item.Quantity = 1
	}
	return &item
}

// InferChanges extracts the full list of order changes from the transcript.
// It returns an empty list when the provider fails or the output is
// unparsable.
func (e *Extractor) InferChanges(ctx context.Context, messages []Message) []Change {
	out, err := e.completer.Complete(ctx, changesInstruction, renderTranscript(messages))
	if err != nil {
		zctx.From(ctx).Warn("Change-list inference failed", zap.Error(err))
		return nil
	}

	var raw []Change
	if err := json.Unmarshal([]byte(stripFences(out)), &raw); err != nil {
		zctx.From(ctx).Warn("Unparsable change list", zap.String("output", out))
		return nil
	}

	changes := make([]Change, 0, len(raw))
	for _, ch := range raw {
		switch ch.Action {
		case ActionAdd, ActionRemove, ActionModify:
		default:
			continue
		}
		if ch.ItemName == "" {
			continue
		}
		if ch.Quantity < 1 {
			ch.Quantity = 1
		}
		changes = append(changes, ch)
	}
	return changes
}

// renderTranscript flattens messages into a role-prefixed transcript.
func renderTranscript(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// stripFences removes a markdown code fence if the model wrapped its JSON in
// one despite the instruction.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
