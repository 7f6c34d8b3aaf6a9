// Package handler exposes the HTTP surface: menu catalog endpoints, the
// order admin API, the voice-assistant webhook, and the live order feed.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/tavolo/internal/broadcast"
	"github.com/xenking/tavolo/internal/domain/intent"
	"github.com/xenking/tavolo/internal/domain/menu"
	"github.com/xenking/tavolo/internal/domain/order"
)

// Embedder computes the semantic vector for catalog item text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Resolver resolves free text to ranked catalog matches.
type Resolver interface {
	Resolve(ctx context.Context, query string, opts menu.ResolveOptions) ([]menu.Match, error)
}

// Handler wires the domain services to HTTP routes.
type Handler struct {
	catalog   menu.Repository
	embedder  Embedder
	resolver  Resolver
	orders    *order.Service
	extractor *intent.Extractor
	hub       *broadcast.Hub
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	catalog menu.Repository,
	embedder Embedder,
	resolver Resolver,
	orders *order.Service,
	extractor *intent.Extractor,
	hub *broadcast.Hub,
) *Handler {
	return &Handler{
		catalog:   catalog,
		embedder:  embedder,
		resolver:  resolver,
		orders:    orders,
		extractor: extractor,
		hub:       hub,
	}
}

// Register attaches all routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/menu", h.GetMenu)
	mux.HandleFunc("POST /api/menu/update", h.UpdateMenu)
	mux.HandleFunc("POST /api/menu/replace", h.ReplaceMenu)
	mux.HandleFunc("GET /api/menu/search", h.SearchMenu)
	mux.HandleFunc("DELETE /api/menu/{id}", h.DeleteMenuItem)

	mux.HandleFunc("GET /api/orders", h.ListOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("DELETE /api/orders", h.ClearOrders)
	mux.HandleFunc("DELETE /api/orders/{id}", h.DeleteOrder)
	mux.HandleFunc("PATCH /api/orders/{id}/status", h.UpdateOrderStatus)

	mux.HandleFunc("POST /api/webhook/vapi", h.Webhook)

	mux.HandleFunc("GET /ws/orders", h.OrdersFeed)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zctx.From(ctx).Error("Encode response", zap.Error(err))
	}
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	writeJSON(ctx, w, status, errorResponse{Status: "error", Message: msg})
}
