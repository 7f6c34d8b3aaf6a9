package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/tavolo/internal/domain/order"
)

func TestGetMenu(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{out: "null"})

	req := httptest.NewRequest(http.MethodGet, "/api/menu", nil)
	rec := httptest.NewRecorder()
	env.handler.GetMenu(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Status string         `json:"status"`
		Items  []menuItemView `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "Margherita Pizza", resp.Items[0].Name)
	assert.Equal(t, "12.99", resp.Items[0].Price)
}

func TestUpdateMenu_CreatedAndUpdated(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{vec: []float32{0.1, 0.2}}, &stubCompleter{out: "null"})

	body := `[
		{"name": "Margherita Pizza", "description": "Wood-fired", "price": 13.50},
		{"name": "Tiramisu", "description": "Espresso, mascarpone", "price": "6.00"}
	]`
	req := httptest.NewRequest(http.MethodPost, "/api/menu/update", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.handler.UpdateMenu(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Status string             `json:"status"`
		Items  []menuUpdateResult `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "updated", resp.Items[0].Status)
	assert.Equal(t, "13.50", resp.Items[0].Price)
	assert.Equal(t, "created", resp.Items[1].Status)

	items, err := env.handler.catalog.List(req.Context())
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []float32{0.1, 0.2}, items[0].Embedding)
}

func TestUpdateMenu_EmbedderDown(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{err: assert.AnError}, &stubCompleter{out: "null"})

	body := `[{"name": "Tiramisu", "price": 6.00}]`
	req := httptest.NewRequest(http.MethodPost, "/api/menu/update", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.handler.UpdateMenu(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestUpdateMenu_BadBody(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{out: "null"})

	req := httptest.NewRequest(http.MethodPost, "/api/menu/update", strings.NewReader(`{"not": "an array"}`))
	rec := httptest.NewRecorder()
	env.handler.UpdateMenu(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchMenu(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{out: "null"})

	req := httptest.NewRequest(http.MethodGet, "/api/menu/search?q=pizza", nil)
	rec := httptest.NewRecorder()
	env.handler.SearchMenu(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Found)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "Margherita Pizza ($12.99) - Fresh tomatoes, mozzarella, basil", resp.Items[0].Formatted)
	assert.Equal(t, "Found 1 matching items", resp.Message)
}

func TestSearchMenu_EmptyQuery(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{out: "null"})

	req := httptest.NewRequest(http.MethodGet, "/api/menu/search", nil)
	rec := httptest.NewRecorder()
	env.handler.SearchMenu(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Found)
	assert.Equal(t, "No search query provided", resp.Message)
	assert.NotNil(t, resp.Items)
}

func TestSearchMenu_Unavailable(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{err: assert.AnError}, &stubCompleter{out: "null"})

	req := httptest.NewRequest(http.MethodGet, "/api/menu/search?q=ramen", nil)
	rec := httptest.NewRecorder()
	env.handler.SearchMenu(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "Search service temporarily unavailable", resp.Message)
}

func TestReplaceMenu(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{vec: []float32{0.3}}, &stubCompleter{out: "null"})

	body := `[{"name": "Tiramisu", "description": "Espresso, mascarpone", "price": "6.00"}]`
	req := httptest.NewRequest(http.MethodPost, "/api/menu/replace", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.handler.ReplaceMenu(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Status string         `json:"status"`
		Items  []menuItemView `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "6.00", resp.Items[0].Price)

	items, err := env.handler.catalog.List(req.Context())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Tiramisu", items[0].Name)
	assert.Equal(t, []float32{0.3}, items[0].Embedding)
}

func TestReplaceMenu_EmbedderDown(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{err: assert.AnError}, &stubCompleter{out: "null"})

	body := `[{"name": "Tiramisu", "price": "6.00"}]`
	req := httptest.NewRequest(http.MethodPost, "/api/menu/replace", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.handler.ReplaceMenu(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)

	// The old catalog survives a failed replace.
	items, err := env.handler.catalog.List(req.Context())
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestDeleteMenuItem(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{out: "null"})
	mux := newTestMux(t, env)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/menu/m2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	items, err := env.handler.catalog.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Margherita Pizza", items[0].Name)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/menu/m2", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteMenuItem_KeepsOrderHistory(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{}, &stubCompleter{out: "null"})
	mux := newTestMux(t, env)

	o, err := env.service.Create(context.Background(), "Ada", "")
	require.NoError(t, err)
	_, err = env.service.ApplyChange(context.Background(), o.ID, order.Change{
		Action: order.ActionAdd, Query: "Margherita Pizza", Quantity: 2,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/menu/m1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// The order still serves its name and price snapshots.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/"+o.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Status string `json:"status"`
		Order  struct {
			TotalAmount string `json:"total_amount"`
			Items       []struct {
				ItemName string `json:"item_name"`
				Quantity int    `json:"quantity"`
				Price    string `json:"price"`
			} `json:"items"`
		} `json:"order"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Order.Items, 1)
	assert.Equal(t, "Margherita Pizza", resp.Order.Items[0].ItemName)
	assert.Equal(t, 2, resp.Order.Items[0].Quantity)
	assert.Equal(t, "12.99", resp.Order.Items[0].Price)
	assert.Equal(t, "25.98", resp.Order.TotalAmount)

	// Only the weak catalog reference is cleared.
	stored, err := env.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Nil(t, stored.Items[0].MenuItemID)
}
