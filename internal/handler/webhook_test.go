package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/tavolo/internal/broadcast"
	"github.com/xenking/tavolo/internal/domain/intent"
	"github.com/xenking/tavolo/internal/domain/menu"
	"github.com/xenking/tavolo/internal/domain/order"
	"github.com/xenking/tavolo/internal/storage/memory"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return s.vec, s.err
}

type stubCompleter struct {
	out string
	err error
}

func (s *stubCompleter) Complete(_ context.Context, _, _ string) (string, error) {
	return s.out, s.err
}

type testEnv struct {
	handler *Handler
	orders  *memory.OrderRepository
	service *order.Service
	hub     *broadcast.Hub
}

func newTestEnv(t *testing.T, embedder *stubEmbedder, completer *stubCompleter) *testEnv {
	t.Helper()

	catalog := memory.NewMenuRepository()
	seed := []menu.Item{
		{ID: "m1", Name: "Margherita Pizza", Description: "Fresh tomatoes, mozzarella, basil", Price: decimal.RequireFromString("12.99")},
		{ID: "m2", Name: "Caesar Salad", Description: "Romaine, parmesan, croutons", Price: decimal.RequireFromString("8.50")},
	}
	require.NoError(t, catalog.ReplaceAll(context.Background(), seed))

	orderRepo := memory.NewOrderRepository()
	catalog.OnDelete = orderRepo.NullMenuRefs
	hub := broadcast.New(orderRepo.ListAll)
	t.Cleanup(hub.Close)

	resolver := menu.NewResolver(catalog, embedder)
	service := order.NewService(orderRepo, resolver, hub)
	extractor := intent.NewExtractor(completer)

	return &testEnv{
		handler: NewHandler(catalog, embedder, resolver, service, extractor, hub),
		orders:  orderRepo,
		service: service,
		hub:     hub,
	}
}

func postWebhook(t *testing.T, h *Handler, body string) webhookResponse {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/vapi", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Results)
	return resp
}

func TestWebhook_AddOrder_EndToEnd(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{out: "null"})

	sub, err := env.hub.Subscribe(context.Background())
	require.NoError(t, err)
	defer env.hub.Unsubscribe(sub)
	<-sub.Updates() // initial empty snapshot

	resp := postWebhook(t, env.handler, `{
		"message": {"toolCalls": [
			{"id": "x", "function": {"name": "addorder", "arguments": {"Order": {"name": "Margherita Pizza", "quantity": 2}}}}
		]}
	}`)

	res := resp.Results[0]
	assert.Equal(t, "x", res.ToolCallID)
	assert.Equal(t, "Added 2 x Margherita Pizza to your order.", res.Result)
	assert.Equal(t, 2, res.Quantity)
	require.NotEmpty(t, res.OrderID)

	o, err := env.service.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.Equal(t, "25.98", o.Total.StringFixed(2))

	// Create broadcast, then apply broadcast.
	<-sub.Updates()
	var frame broadcast.Frame
	require.NoError(t, json.Unmarshal(<-sub.Updates(), &frame))
	assert.Equal(t, "orders_update", frame.Type)
	require.Len(t, frame.Orders, 1)
	assert.Equal(t, "25.98", frame.Orders[0].TotalAmount)
}

func TestWebhook_ArgumentsAsJSONString(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{out: "null"})

	resp := postWebhook(t, env.handler, `{
		"message": {"toolCalls": [
			{"id": "s1", "function": {"name": "addorder", "arguments": "{\"item_name\": \"caesar salad\", \"quantity\": 1}"}}
		]}
	}`)

	res := resp.Results[0]
	assert.Equal(t, "s1", res.ToolCallID)
	assert.Equal(t, "Added 1 x Caesar Salad to your order.", res.Result)
}

func TestWebhook_AddOrder_InfersFromTranscript(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{
		out: `{"item_name": "Margherita Pizza", "quantity": 3}`,
	})

	resp := postWebhook(t, env.handler, `{
		"message": {"toolCalls": [
			{"id": "t1", "function": {"name": "addorder", "arguments": {}}}
		]},
		"messagesOpenAIFormatted": [
			{"role": "user", "content": "Three margherita pizzas please"}
		]
	}`)

	res := resp.Results[0]
	assert.Equal(t, "Added 3 x Margherita Pizza to your order.", res.Result)
	assert.Equal(t, 3, res.Quantity)
}

func TestWebhook_AddOrder_UnknownItem(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{out: "null"})

	resp := postWebhook(t, env.handler, `{
		"message": {"toolCalls": [
			{"id": "u1", "function": {"name": "addorder", "arguments": {"item_name": "sushi", "quantity": 1}}}
		]}
	}`)

	assert.Contains(t, resp.Results[0].Result, "couldn't find")
	assert.Empty(t, resp.Results[0].OrderID)
}

func TestWebhook_AddOrder_ResolverUnavailable(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{err: fmt.Errorf("provider down")}, &stubCompleter{out: "null"})

	resp := postWebhook(t, env.handler, `{
		"message": {"toolCalls": [
			{"id": "p1", "function": {"name": "addorder", "arguments": {"item_name": "sushi platter"}}}
		]}
	}`)

	assert.Equal(t, textMenuUnavailable, resp.Results[0].Result)
}

func TestWebhook_RemoveOrder(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{out: "null"})

	o, err := env.service.Create(context.Background(), "", "")
	require.NoError(t, err)
	_, err = env.service.ApplyChange(context.Background(), o.ID, order.Change{
		Action: order.ActionAdd, Query: "Caesar Salad", Quantity: 1,
	})
	require.NoError(t, err)

	resp := postWebhook(t, env.handler, fmt.Sprintf(`{
		"message": {"toolCalls": [
			{"id": "r1", "function": {"name": "removeorder", "arguments": {"order_id": %q, "item_name": "caesar salad"}}}
		]}
	}`, o.ID))

	assert.Equal(t, "Removed Caesar Salad from your order.", resp.Results[0].Result)

	got, err := env.service.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Items)
	assert.True(t, got.Total.IsZero())
}

func TestWebhook_UpdateOrder_Batch(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{
		out: `[
			{"action": "add", "item_name": "Caesar Salad", "quantity": 1},
			{"action": "add", "item_name": "nigiri", "quantity": 2}
		]`,
	})

	o, err := env.service.Create(context.Background(), "", "")
	require.NoError(t, err)

	resp := postWebhook(t, env.handler, fmt.Sprintf(`{
		"message": {"toolCalls": [
			{"id": "b1", "function": {"name": "updateorder", "arguments": {"order_id": %q}}}
		]},
		"messagesOpenAIFormatted": [{"role": "user", "content": "a salad and two nigiri"}]
	}`, o.ID))

	result := resp.Results[0].Result
	assert.Contains(t, result, "Added 1 x Caesar Salad.")
	assert.Contains(t, result, "couldn't find nigiri")

	got, err := env.service.Get(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "8.50", got.Total.StringFixed(2))
}

func TestWebhook_MenuSearch(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{out: "null"})

	resp := postWebhook(t, env.handler, `{
		"message": {"toolCalls": [
			{"id": "q1", "function": {"name": "menusearch", "arguments": {"query": "pizza"}}}
		]}
	}`)

	result := resp.Results[0].Result
	assert.Contains(t, result, "I found these menu items:")
	assert.Contains(t, result, "Margherita Pizza ($12.99) - Fresh tomatoes, mozzarella, basil")
}

func TestWebhook_MenuSearch_NoMatch(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{out: "null"})

	resp := postWebhook(t, env.handler, `{
		"message": {"toolCalls": [
			{"id": "q2", "function": {"name": "menusearch", "arguments": {"query": "ramen"}}}
		]}
	}`)

	assert.Equal(t, textSearchNoMatch, resp.Results[0].Result)
}

func TestWebhook_MenuSearch_Unavailable(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{err: fmt.Errorf("provider down")}, &stubCompleter{out: "null"})

	resp := postWebhook(t, env.handler, `{
		"message": {"toolCalls": [
			{"id": "q3", "function": {"name": "menusearch", "arguments": {"query": "ramen"}}}
		]}
	}`)

	assert.Equal(t, textSearchFailed, resp.Results[0].Result)
}

func TestWebhook_FinalizeOrder(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{out: "null"})

	o, err := env.service.Create(context.Background(), "Ada", "")
	require.NoError(t, err)
	_, err = env.service.ApplyChange(context.Background(), o.ID, order.Change{
		Action: order.ActionAdd, Query: "Margherita Pizza", Quantity: 2,
	})
	require.NoError(t, err)

	resp := postWebhook(t, env.handler, fmt.Sprintf(`{
		"message": {"toolCalls": [
			{"id": "f1", "function": {"name": "finalizeorder", "arguments": {"order_id": %q}}}
		]}
	}`, o.ID))

	result := resp.Results[0].Result
	assert.Contains(t, result, "2 x Margherita Pizza")
	assert.Contains(t, result, "$25.98")

	got, err := env.service.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, got.Status)
}

func TestWebhook_FinalizeOrder_Empty(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{out: "null"})

	o, err := env.service.Create(context.Background(), "", "")
	require.NoError(t, err)

	resp := postWebhook(t, env.handler, fmt.Sprintf(`{
		"message": {"toolCalls": [
			{"id": "f2", "function": {"name": "finalizeorder", "arguments": {"order_id": %q}}}
		]}
	}`, o.ID))

	assert.Equal(t, textOrderEmpty, resp.Results[0].Result)

	got, err := env.service.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
}

func TestWebhook_UnknownTool(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{out: "null"})

	resp := postWebhook(t, env.handler, `{
		"message": {"toolCalls": [
			{"id": "z1", "function": {"name": "teleport", "arguments": {}}}
		]}
	}`)

	assert.Equal(t, "z1", resp.Results[0].ToolCallID)
	assert.Equal(t, textUnknownTool, resp.Results[0].Result)
}

func TestWebhook_MalformedPayload(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{out: "null"})

	for _, body := range []string{`not json`, `{}`, `{"message": {}}`} {
		resp := postWebhook(t, env.handler, body)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, fallbackToolCallID, resp.Results[0].ToolCallID)
		assert.Equal(t, textClarify, resp.Results[0].Result)
	}
}

func TestWebhook_MissingToolCallID(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{out: "null"})

	resp := postWebhook(t, env.handler, `{
		"message": {"toolCalls": [
			{"function": {"name": "menusearch", "arguments": {"query": "pizza"}}}
		]}
	}`)

	assert.Equal(t, fallbackToolCallID, resp.Results[0].ToolCallID)
}

func TestWebhook_MultipleToolCalls(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{out: "null"})

	resp := postWebhook(t, env.handler, `{
		"message": {"toolCalls": [
			{"id": "a", "function": {"name": "menusearch", "arguments": {"query": "pizza"}}},
			{"id": "b", "function": {"name": "menusearch", "arguments": {"query": "salad"}}}
		]}
	}`)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a", resp.Results[0].ToolCallID)
	assert.Equal(t, "b", resp.Results[1].ToolCallID)
}
