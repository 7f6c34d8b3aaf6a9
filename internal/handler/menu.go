package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/tavolo/internal/domain/menu"
)

// maxSearchResults caps how many catalog matches a search returns.
const maxSearchResults = 5

type menuItemView struct {
	Name        string `json:"name"`
	Price       string `json:"price"`
	Description string `json:"description"`
}

// GetMenu returns the full catalog in insertion order.
func (h *Handler) GetMenu(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	items, err := h.catalog.List(ctx)
	if err != nil {
		zctx.From(ctx).Error("List menu", zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "failed to load menu")
		return
	}

	views := make([]menuItemView, len(items))
	for i, item := range items {
		views[i] = menuItemView{
			Name:        item.Name,
			Price:       item.Price.StringFixed(2),
			Description: item.Description,
		}
	}
	writeJSON(ctx, w, http.StatusOK, struct {
		Status string         `json:"status"`
		Items  []menuItemView `json:"items"`
	}{Status: "success", Items: views})
}

type menuUpdateEntry struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Price       json.Number `json:"price"`
}

type menuUpdateResult struct {
	menuItemView
	Status string `json:"status"`
}

// UpdateMenu upserts a batch of catalog items and recomputes their
// embeddings so search stays in sync with the new text.
func (h *Handler) UpdateMenu(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var entries []menuUpdateEntry
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	existing, err := h.catalog.List(ctx)
	if err != nil {
		zctx.From(ctx).Error("List menu", zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "failed to load menu")
		return
	}
	byName := make(map[string]menu.Item, len(existing))
	for _, item := range existing {
		byName[item.Name] = item
	}

	results := make([]menuUpdateResult, 0, len(entries))
	for _, entry := range entries {
		if entry.Name == "" {
			writeError(ctx, w, http.StatusBadRequest, "item name required")
			return
		}
		price, err := decimal.NewFromString(entry.Price.String())
		if err != nil {
			writeError(ctx, w, http.StatusBadRequest, fmt.Sprintf("invalid price for %q", entry.Name))
			return
		}

		item := menu.Item{
			ID:          uuid.NewString(),
			Name:        entry.Name,
			Description: entry.Description,
			Price:       price,
		}
		status := "created"
		if prev, ok := byName[entry.Name]; ok {
			item.ID = prev.ID
			status = "updated"
		}

		vec, err := h.embedder.Embed(ctx, item.EmbeddingText())
		if err != nil {
			zctx.From(ctx).Error("Embed menu item", zap.String("name", item.Name), zap.Error(err))
			writeError(ctx, w, http.StatusBadGateway, "embedding service unavailable")
			return
		}
		item.Embedding = vec

		if err := h.catalog.Upsert(ctx, &item); err != nil {
			zctx.From(ctx).Error("Upsert menu item", zap.String("name", item.Name), zap.Error(err))
			writeError(ctx, w, http.StatusInternalServerError, "failed to save menu item")
			return
		}

		results = append(results, menuUpdateResult{
			menuItemView: menuItemView{
				Name:        item.Name,
				Price:       item.Price.StringFixed(2),
				Description: item.Description,
			},
			Status: status,
		})
	}

	writeJSON(ctx, w, http.StatusOK, struct {
		Status string             `json:"status"`
		Items  []menuUpdateResult `json:"items"`
	}{Status: "success", Items: results})
}

// ReplaceMenu swaps the whole catalog for the posted item list, computing a
// fresh embedding for every entry. Order history is unaffected: line items
// keep their name and price snapshots, and storage clears the weak catalog
// references of the rows that went away.
func (h *Handler) ReplaceMenu(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var entries []menuUpdateEntry
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	items := make([]menu.Item, 0, len(entries))
	for _, entry := range entries {
		if entry.Name == "" {
			writeError(ctx, w, http.StatusBadRequest, "item name required")
			return
		}
		price, err := decimal.NewFromString(entry.Price.String())
		if err != nil {
			writeError(ctx, w, http.StatusBadRequest, fmt.Sprintf("invalid price for %q", entry.Name))
			return
		}

		item := menu.Item{
			ID:          uuid.NewString(),
			Name:        entry.Name,
			Description: entry.Description,
			Price:       price,
		}
		vec, err := h.embedder.Embed(ctx, item.EmbeddingText())
		if err != nil {
			zctx.From(ctx).Error("Embed menu item", zap.String("name", item.Name), zap.Error(err))
			writeError(ctx, w, http.StatusBadGateway, "embedding service unavailable")
			return
		}
		item.Embedding = vec
		items = append(items, item)
	}

	if err := h.catalog.ReplaceAll(ctx, items); err != nil {
		zctx.From(ctx).Error("Replace menu", zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "failed to replace menu")
		return
	}

	views := make([]menuItemView, len(items))
	for i, item := range items {
		views[i] = menuItemView{
			Name:        item.Name,
			Price:       item.Price.StringFixed(2),
			Description: item.Description,
		}
	}
	writeJSON(ctx, w, http.StatusOK, struct {
		Status string         `json:"status"`
		Items  []menuItemView `json:"items"`
	}{Status: "success", Items: views})
}

// DeleteMenuItem removes one catalog item. Orders that reference it keep
// their line item snapshots; only the weak catalog reference is cleared.
func (h *Handler) DeleteMenuItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if err := h.catalog.Delete(ctx, id); err != nil {
		if errors.Is(err, menu.ErrNotFound) {
			writeError(ctx, w, http.StatusNotFound, "menu item not found")
			return
		}
		zctx.From(ctx).Error("Delete menu item", zap.String("menu_item_id", id), zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "failed to delete menu item")
		return
	}
	writeJSON(ctx, w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "success"})
}

type searchItemView struct {
	Name        string `json:"name"`
	Price       string `json:"price"`
	Description string `json:"description"`
	Formatted   string `json:"formatted"`
}

type searchResponse struct {
	Status  string           `json:"status"`
	Found   bool             `json:"found"`
	Items   []searchItemView `json:"items"`
	Message string           `json:"message"`
}

// SearchMenu resolves the q parameter against the catalog and returns the
// ranked matches. Absent matches are a normal empty result, not an error.
func (h *Handler) SearchMenu(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(ctx, w, http.StatusOK, searchResponse{
			Status:  "success",
			Items:   []searchItemView{},
			Message: "No search query provided",
		})
		return
	}

	matches, err := h.resolver.Resolve(ctx, query, menu.ResolveOptions{})
	if err != nil {
		var unavailable *menu.UnavailableError
		if errors.As(err, &unavailable) {
			zctx.From(ctx).Warn("Search unavailable", zap.Error(err))
		} else {
			zctx.From(ctx).Error("Search menu", zap.Error(err))
		}
		writeJSON(ctx, w, http.StatusInternalServerError, searchResponse{
			Status:  "error",
			Items:   []searchItemView{},
			Message: "Search service temporarily unavailable",
		})
		return
	}
	if len(matches) > maxSearchResults {
		matches = matches[:maxSearchResults]
	}

	items := make([]searchItemView, len(matches))
	for i, m := range matches {
		price := m.Item.Price.StringFixed(2)
		items[i] = searchItemView{
			Name:        m.Item.Name,
			Price:       price,
			Description: m.Item.Description,
			Formatted:   fmt.Sprintf("%s ($%s) - %s", m.Item.Name, price, m.Item.Description),
		}
	}

	message := "No matching items found"
	if len(items) > 0 {
		message = fmt.Sprintf("Found %d matching items", len(items))
	}
	writeJSON(ctx, w, http.StatusOK, searchResponse{
		Status:  "success",
		Found:   len(items) > 0,
		Items:   items,
		Message: message,
	})
}
