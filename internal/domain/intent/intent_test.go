package intent

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCompleter struct {
	out string
	err error
}

func (m *mockCompleter) Complete(_ context.Context, _, _ string) (string, error) {
	return m.out, m.err
}

func transcript() []Message {
	return []Message{
		{Role: "assistant", Content: "What can I get you?"},
		{Role: "user", Content: "Two margherita pizzas please"},
	}
}

func TestInferSingle(t *testing.T) {
	e := NewExtractor(&mockCompleter{out: `{"item_name": "Margherita Pizza", "quantity": 2}`})

	item := e.InferSingle(context.Background(), transcript())
	require.NotNil(t, item)
	assert.Equal(t, "Margherita Pizza", item.ItemName)
	assert.Equal(t, 2, item.Quantity)
}

func TestInferSingle_QuantityCoercedToOne(t *testing.T) {
	e := NewExtractor(&mockCompleter{out: `{"item_name": "Tiramisu", "quantity": 0}`})

	item := e.InferSingle(context.Background(), transcript())
	require.NotNil(t, item)
	assert.Equal(t, 1, item.Quantity)
}

func TestInferSingle_ProviderFailureReturnsNil(t *testing.T) {
	e := NewExtractor(&mockCompleter{err: errors.New("timeout")})

	assert.Nil(t, e.InferSingle(context.Background(), transcript()))
}

func TestInferSingle_UnparsableReturnsNil(t *testing.T) {
	e := NewExtractor(&mockCompleter{out: "I'd be happy to help with that!"})

	assert.Nil(t, e.InferSingle(context.Background(), transcript()))
}

func TestInferSingle_NullReturnsNil(t *testing.T) {
	e := NewExtractor(&mockCompleter{out: "null"})

	assert.Nil(t, e.InferSingle(context.Background(), transcript()))
}

func TestInferChanges(t *testing.T) {
	e := NewExtractor(&mockCompleter{out: `[
		{"action": "add", "item_name": "Margherita Pizza", "quantity": 2},
		{"action": "remove", "item_name": "Caesar Salad", "quantity": 1}
	]`})

	changes := e.InferChanges(context.Background(), transcript())
	require.Len(t, changes, 2)
	assert.Equal(t, ActionAdd, changes[0].Action)
	assert.Equal(t, "Margherita Pizza", changes[0].ItemName)
	assert.Equal(t, 2, changes[0].Quantity)
	assert.Equal(t, ActionRemove, changes[1].Action)
}

func TestInferChanges_StripsMarkdownFence(t *testing.T) {
	e := NewExtractor(&mockCompleter{out: "```json\n[{\"action\": \"modify\", \"item_name\": \"Lemonade\", \"quantity\": 3}]\n```"})

	changes := e.InferChanges(context.Background(), transcript())
	require.Len(t, changes, 1)
	assert.Equal(t, ActionModify, changes[0].Action)
	assert.Equal(t, 3, changes[0].Quantity)
}

func TestInferChanges_SkipsInvalidEntries(t *testing.T) {
	e := NewExtractor(&mockCompleter{out: `[
		{"action": "teleport", "item_name": "Garlic Bread", "quantity": 1},
		{"action": "add", "item_name": "", "quantity": 1},
		{"action": "add", "item_name": "Garlic Bread", "quantity": -2}
	]`})

	changes := e.InferChanges(context.Background(), transcript())
	require.Len(t, changes, 1)
	assert.Equal(t, "Garlic Bread", changes[0].ItemName)
	assert.Equal(t, 1, changes[0].Quantity)
}

func TestInferChanges_ProviderFailureReturnsEmpty(t *testing.T) {
	e := NewExtractor(&mockCompleter{err: errors.New("rate limited")})

	assert.Empty(t, e.InferChanges(context.Background(), transcript()))
}
