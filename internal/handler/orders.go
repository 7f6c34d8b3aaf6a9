package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/tavolo/internal/broadcast"
	"github.com/xenking/tavolo/internal/domain/order"
)

type orderListResponse struct {
	Status     string                `json:"status"`
	Orders     []broadcast.OrderView `json:"orders"`
	TotalCount int                   `json:"total_count"`
	TotalPages int                   `json:"total_pages"`
	Page       int                   `json:"page"`
	PerPage    int                   `json:"per_page"`
}

// ListOrders returns one page of orders, newest first. Supports page,
// per_page and status query parameters.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := order.ListFilter{
		Page:    parseIntParam(q.Get("page")),
		PerPage: parseIntParam(q.Get("per_page")),
	}
	if status := q.Get("status"); status != "" {
		filter.Status = order.Status(status)
		if !filter.Status.Valid() {
			writeError(ctx, w, http.StatusBadRequest, "invalid status filter")
			return
		}
	}

	result, err := h.orders.List(ctx, filter)
	if err != nil {
		zctx.From(ctx).Error("List orders", zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	writeJSON(ctx, w, http.StatusOK, orderListResponse{
		Status:     "success",
		Orders:     broadcast.NewFrame(result.Orders).Orders,
		TotalCount: result.TotalCount,
		TotalPages: result.TotalPages,
		Page:       result.Page,
		PerPage:    result.PerPage,
	})
}

// GetOrder returns a single order with its line items.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	o, err := h.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(ctx, w, http.StatusNotFound, "order not found")
			return
		}
		zctx.From(ctx).Error("Get order", zap.String("order_id", id), zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "failed to load order")
		return
	}

	writeJSON(ctx, w, http.StatusOK, struct {
		Status string              `json:"status"`
		Order  broadcast.OrderView `json:"order"`
	}{
		Status: "success",
		Order:  broadcast.NewFrame([]order.Order{*o}).Orders[0],
	})
}

// DeleteOrder removes a single order.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if err := h.orders.Delete(ctx, id); err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(ctx, w, http.StatusNotFound, "order not found")
			return
		}
		zctx.From(ctx).Error("Delete order", zap.String("order_id", id), zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "failed to delete order")
		return
	}
	writeJSON(ctx, w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "success"})
}

// ClearOrders removes every order.
func (h *Handler) ClearOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.orders.ClearAll(ctx); err != nil {
		zctx.From(ctx).Error("Clear orders", zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "failed to clear orders")
		return
	}
	writeJSON(ctx, w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "success"})
}

// UpdateOrderStatus moves an order through the kitchen workflow.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.orders.UpdateStatus(ctx, id, order.Status(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			writeError(ctx, w, http.StatusNotFound, "order not found")
		case errors.Is(err, order.ErrInvalidStatus):
			writeError(ctx, w, http.StatusBadRequest, "invalid status")
		default:
			zctx.From(ctx).Error("Update order status", zap.String("order_id", id), zap.Error(err))
			writeError(ctx, w, http.StatusInternalServerError, "failed to update order")
		}
		return
	}

	writeJSON(ctx, w, http.StatusOK, struct {
		Status string              `json:"status"`
		Order  broadcast.OrderView `json:"order"`
	}{
		Status: "success",
		Order:  broadcast.NewFrame([]order.Order{*updated}).Orders[0],
	})
}

func parseIntParam(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
