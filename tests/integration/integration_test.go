//go:build integration

// Package integration exercises the full HTTP surface end to end: real
// router, real middleware chain, real domain services. Storage runs on the
// in-memory driver and the AI provider is stubbed, so the suite needs no
// external services.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/tavolo/internal/broadcast"
	"github.com/xenking/tavolo/internal/domain/intent"
	"github.com/xenking/tavolo/internal/domain/menu"
	"github.com/xenking/tavolo/internal/domain/order"
	"github.com/xenking/tavolo/internal/handler"
	"github.com/xenking/tavolo/internal/storage/memory"
	"github.com/xenking/tavolo/pkg/httpmiddleware"
)

// Response types are defined locally so the assertions stay black-box.

type searchResponse struct {
	Status  string `json:"status"`
	Found   bool   `json:"found"`
	Message string `json:"message"`
	Items   []struct {
		Name      string `json:"name"`
		Price     string `json:"price"`
		Formatted string `json:"formatted"`
	} `json:"items"`
}

type webhookResponse struct {
	Results []struct {
		ToolCallID string `json:"toolCallId"`
		Name       string `json:"name"`
		Result     string `json:"result"`
		OrderID    string `json:"order_id"`
		Quantity   int    `json:"quantity"`
	} `json:"results"`
}

type orderListResponse struct {
	Status     string `json:"status"`
	TotalCount int    `json:"total_count"`
	TotalPages int    `json:"total_pages"`
	Orders     []struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		TotalAmount string `json:"total_amount"`
		Items       []struct {
			ItemName string `json:"item_name"`
			Quantity int    `json:"quantity"`
			Price    string `json:"price"`
		} `json:"items"`
	} `json:"orders"`
}

type ordersFrame struct {
	Type   string `json:"type"`
	Orders []struct {
		ID          string `json:"id"`
		TotalAmount string `json:"total_amount"`
	} `json:"orders"`
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, nil
}

type stubCompleter struct{}

func (stubCompleter) Complete(context.Context, string, string) (string, error) {
	return "null", nil
}

// startServer builds the production handler chain over in-memory storage.
func startServer(t *testing.T) *httptest.Server {
	t.Helper()

	catalog := memory.NewMenuRepository()
	if err := catalog.ReplaceAll(context.Background(), []menu.Item{
		{ID: "m1", Name: "Margherita Pizza", Description: "Fresh tomatoes, mozzarella, basil", Price: decimal.RequireFromString("12.99")},
		{ID: "m2", Name: "Caesar Salad", Description: "Romaine, parmesan, croutons", Price: decimal.RequireFromString("8.50")},
		{ID: "m3", Name: "Tiramisu", Description: "Espresso, mascarpone", Price: decimal.RequireFromString("6.00")},
	}); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}

	orderRepo := memory.NewOrderRepository()
	catalog.OnDelete = orderRepo.NullMenuRefs
	hub := broadcast.New(orderRepo.ListAll)
	t.Cleanup(hub.Close)

	embedder := stubEmbedder{}
	resolver := menu.NewResolver(catalog, embedder)
	service := order.NewService(orderRepo, resolver, hub)
	extractor := intent.NewExtractor(stubCompleter{})

	h := handler.NewHandler(catalog, embedder, resolver, service, extractor, hub)
	mux := http.NewServeMux()
	h.Register(mux)

	chain := httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{AllowOrigins: []string{"*"}}),
		httpmiddleware.InjectLogger(zap.NewNop()),
		httpmiddleware.RequestID(),
		httpmiddleware.LogRequests(),
	)

	srv := httptest.NewServer(chain)
	t.Cleanup(srv.Close)
	return srv
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func doGet(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := httpClient.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func doRaw(t *testing.T, srv *httptest.Server, method, path, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %q: %v", string(data), err)
	}
}

func webhookAddOrder(t *testing.T, srv *httptest.Server, item string, quantity int) webhookResponse {
	t.Helper()

	body := fmt.Sprintf(`{
		"message": {"toolCalls": [
			{"id": "call-1", "function": {"name": "addorder", "arguments": {"Order": {"name": %q, "quantity": %d}}}}
		]}
	}`, item, quantity)
	resp := doRaw(t, srv, http.MethodPost, "/api/webhook/vapi", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook status: %d", resp.StatusCode)
	}

	var out webhookResponse
	decodeInto(t, resp, &out)
	if len(out.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out.Results))
	}
	return out
}
