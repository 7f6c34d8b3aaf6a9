package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/tavolo/internal/domain/intent"
	"github.com/xenking/tavolo/internal/domain/menu"
	"github.com/xenking/tavolo/internal/domain/order"
)

// fallbackToolCallID is used when no tool call id could be parsed from the
// payload. The assistant platform requires every response to carry one.
const fallbackToolCallID = "unknown"

const maxWebhookBody = 1 << 20

// Conversational fallback texts. The webhook never surfaces raw errors to
// the voice assistant; every failure maps to something it can say out loud.
const (
	textClarify          = "I didn't catch that. Could you rephrase your request?"
	textUnknownTool      = "I'm not able to help with that request. Could you rephrase it?"
	textInternal         = "Sorry, I'm having trouble with the menu right now."
	textMenuUnavailable  = "I'm having trouble with the menu right now. Please try again in a moment."
	textOrderNotFound    = "I couldn't find that order. Let's start a new one."
	textSearchFailed     = "I'm having trouble searching our menu right now. Please try again in a moment."
	textSearchNoMatch    = "I couldn't find any menu items matching your request. Can I help you find something else?"
	textWhatToOrder      = "What would you like to order?"
	textWhatToRemove     = "Which item would you like to remove?"
	textWhatToChange     = "What would you like to change about your order?"
	textWhatToSearch     = "What would you like to know about the menu?"
	textOrderEmpty       = "Your order is empty. Would you like to add something first?"
)

type toolCall struct {
	ID   string
	Name string
	Args toolArgs
}

// toolArgs is the duck-typed union of every argument shape the assistant
// sends. Individual tools read only the fields they care about.
type toolArgs struct {
	OrderID             string
	CustomerName        string
	ItemName            string
	Query               string
	Quantity            int
	SpecialInstructions string
}

type webhookRequest struct {
	Calls    []toolCall
	Messages []intent.Message
}

type toolResult struct {
	ToolCallID string `json:"toolCallId"`
	Name       string `json:"name,omitempty"`
	Result     string `json:"result"`
	OrderID    string `json:"order_id,omitempty"`
	Quantity   int    `json:"quantity,omitempty"`
}

type webhookResponse struct {
	Results []toolResult `json:"results"`
}

// Webhook handles tool calls from the voice assistant. It always answers
// 200 with at least one results entry, even for payloads it cannot parse;
// anything else derails the conversation on the assistant side.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		zctx.From(ctx).Warn("Read webhook body", zap.Error(err))
		writeJSON(ctx, w, http.StatusOK, fallbackResponse())
		return
	}

	req, err := parseWebhookRequest(body)
	if err != nil || len(req.Calls) == 0 {
		zctx.From(ctx).Warn("Unparseable webhook payload", zap.Error(err))
		writeJSON(ctx, w, http.StatusOK, fallbackResponse())
		return
	}

	results := make([]toolResult, 0, len(req.Calls))
	for _, call := range req.Calls {
		results = append(results, h.dispatchTool(ctx, call, req.Messages))
	}
	writeJSON(ctx, w, http.StatusOK, webhookResponse{Results: results})
}

func fallbackResponse() webhookResponse {
	return webhookResponse{Results: []toolResult{{
		ToolCallID: fallbackToolCallID,
		Result:     textClarify,
	}}}
}

func (h *Handler) dispatchTool(ctx context.Context, call toolCall, transcript []intent.Message) toolResult {
	res := toolResult{ToolCallID: call.ID, Name: call.Name}
	if res.ToolCallID == "" {
		res.ToolCallID = fallbackToolCallID
	}

	switch call.Name {
	case "addorder":
		h.toolAddOrder(ctx, call.Args, transcript, &res)
	case "updateorder":
		h.toolUpdateOrder(ctx, call.Args, transcript, &res)
	case "removeorder":
		h.toolRemoveOrder(ctx, call.Args, transcript, &res)
	case "menusearch":
		h.toolMenuSearch(ctx, call.Args, transcript, &res)
	case "finalizeorder":
		h.toolFinalizeOrder(ctx, call.Args, &res)
	default:
		zctx.From(ctx).Warn("Unknown tool", zap.String("tool", call.Name))
		res.Result = textUnknownTool
	}
	return res
}

// toolAddOrder adds one item. The item comes from the arguments when the
// assistant passed them, otherwise from transcript inference. A missing
// order id means a fresh order.
func (h *Handler) toolAddOrder(ctx context.Context, args toolArgs, transcript []intent.Message, res *toolResult) {
	name, qty := args.ItemName, args.Quantity
	if name == "" {
		if it := h.extractor.InferSingle(ctx, transcript); it != nil {
			name, qty = it.ItemName, it.Quantity
		}
	}
	if name == "" {
		res.Result = textWhatToOrder
		return
	}

	orderID := args.OrderID
	if orderID == "" {
		o, err := h.orders.Create(ctx, args.CustomerName, "")
		if err != nil {
			zctx.From(ctx).Error("Create order", zap.Error(err))
			res.Result = textInternal
			return
		}
		orderID = o.ID
	}

	result, err := h.orders.ApplyChange(ctx, orderID, order.Change{
		Action:              order.ActionAdd,
		Query:               name,
		Quantity:            qty,
		SpecialInstructions: args.SpecialInstructions,
	})
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			res.Result = textOrderNotFound
			return
		}
		zctx.From(ctx).Error("Add item", zap.String("order_id", orderID), zap.Error(err))
		res.Result = textInternal
		return
	}

	switch result.Outcome {
	case order.OutcomeApplied:
		res.Result = fmt.Sprintf("Added %d x %s to your order.", result.Change.Quantity, result.ItemName)
		res.OrderID = orderID
		res.Quantity = result.Change.Quantity
	case order.OutcomeUnavailable:
		res.Result = textMenuUnavailable
	default:
		res.Result = fmt.Sprintf("I couldn't find %q on the menu. Could you try something else?", name)
	}
}

// toolUpdateOrder applies the batch of changes inferred from the
// conversation. Explicit arguments act as a single-change fallback when
// inference yields nothing.
func (h *Handler) toolUpdateOrder(ctx context.Context, args toolArgs, transcript []intent.Message, res *toolResult) {
	if args.OrderID == "" {
		res.Result = textOrderNotFound
		return
	}

	changes := h.extractor.InferChanges(ctx, transcript)
	if len(changes) == 0 && args.ItemName != "" {
		changes = []intent.Change{{
			Action:   intent.ActionModify,
			ItemName: args.ItemName,
			Quantity: args.Quantity,
		}}
	}
	if len(changes) == 0 {
		res.Result = textWhatToChange
		return
	}

	batch := make([]order.Change, len(changes))
	for i, c := range changes {
		batch[i] = order.Change{
			Action:   order.Action(c.Action),
			Query:    c.ItemName,
			Quantity: c.Quantity,
		}
	}

	results, err := h.orders.ApplyChanges(ctx, args.OrderID, batch)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			res.Result = textOrderNotFound
			return
		}
		zctx.From(ctx).Error("Apply changes", zap.String("order_id", args.OrderID), zap.Error(err))
		res.Result = textInternal
		return
	}

	res.Result = summarizeResults(results)
	res.OrderID = args.OrderID
}

func (h *Handler) toolRemoveOrder(ctx context.Context, args toolArgs, transcript []intent.Message, res *toolResult) {
	name := args.ItemName
	if name == "" {
		if it := h.extractor.InferSingle(ctx, transcript); it != nil {
			name = it.ItemName
		}
	}
	if name == "" {
		res.Result = textWhatToRemove
		return
	}
	if args.OrderID == "" {
		res.Result = textOrderNotFound
		return
	}

	result, err := h.orders.ApplyChange(ctx, args.OrderID, order.Change{
		Action: order.ActionRemove,
		Query:  name,
	})
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			res.Result = textOrderNotFound
			return
		}
		zctx.From(ctx).Error("Remove item", zap.String("order_id", args.OrderID), zap.Error(err))
		res.Result = textInternal
		return
	}

	if result.Outcome == order.OutcomeApplied {
		res.Result = fmt.Sprintf("Removed %s from your order.", result.ItemName)
		res.OrderID = args.OrderID
		return
	}
	res.Result = fmt.Sprintf("I couldn't find %s in your order.", name)
}

// toolMenuSearch answers menu questions. The query comes from the
// arguments, falling back to the customer's last utterance.
func (h *Handler) toolMenuSearch(ctx context.Context, args toolArgs, transcript []intent.Message, res *toolResult) {
	query := args.Query
	if query == "" {
		query = args.ItemName
	}
	if query == "" {
		query = lastUserMessage(transcript)
	}
	if query == "" {
		res.Result = textWhatToSearch
		return
	}

	matches, err := h.resolver.Resolve(ctx, query, menu.ResolveOptions{})
	if err != nil {
		zctx.From(ctx).Warn("Menu search", zap.String("query", query), zap.Error(err))
		res.Result = textSearchFailed
		return
	}
	if len(matches) == 0 {
		res.Result = textSearchNoMatch
		return
	}
	if len(matches) > maxSearchResults {
		matches = matches[:maxSearchResults]
	}

	lines := make([]string, len(matches))
	for i, m := range matches {
		lines[i] = fmt.Sprintf("%s ($%s) - %s", m.Item.Name, m.Item.Price.StringFixed(2), m.Item.Description)
	}
	res.Result = fmt.Sprintf(
		"I found these menu items:\n\n%s\n\nWould you like to know more about any of these items?",
		strings.Join(lines, "\n"))
}

// toolFinalizeOrder confirms the order and reads the summary back.
func (h *Handler) toolFinalizeOrder(ctx context.Context, args toolArgs, res *toolResult) {
	if args.OrderID == "" {
		res.Result = textOrderNotFound
		return
	}

	o, err := h.orders.Get(ctx, args.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			res.Result = textOrderNotFound
			return
		}
		zctx.From(ctx).Error("Get order", zap.String("order_id", args.OrderID), zap.Error(err))
		res.Result = textInternal
		return
	}
	if len(o.Items) == 0 {
		res.Result = textOrderEmpty
		return
	}

	o, err = h.orders.UpdateStatus(ctx, args.OrderID, order.StatusConfirmed)
	if err != nil {
		zctx.From(ctx).Error("Confirm order", zap.String("order_id", args.OrderID), zap.Error(err))
		res.Result = textInternal
		return
	}

	lines := make([]string, len(o.Items))
	for i, item := range o.Items {
		lines[i] = fmt.Sprintf("%d x %s", item.Quantity, item.Name)
	}
	res.Result = fmt.Sprintf("Your order is confirmed: %s. Your total is $%s. Thank you!",
		strings.Join(lines, ", "), o.Total.StringFixed(2))
	res.OrderID = o.ID
}

// summarizeResults renders a batch outcome as one spoken sentence per
// change, successes and failures interleaved in request order.
func summarizeResults(results []order.ChangeResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		switch r.Outcome {
		case order.OutcomeApplied:
			switch r.Change.Action {
			case order.ActionAdd:
				parts = append(parts, fmt.Sprintf("Added %d x %s.", r.Change.Quantity, r.ItemName))
			case order.ActionRemove:
				parts = append(parts, fmt.Sprintf("Removed %s.", r.ItemName))
			case order.ActionModify:
				parts = append(parts, fmt.Sprintf("Changed %s to %d.", r.ItemName, r.Change.Quantity))
			}
		case order.OutcomeUnavailable:
			parts = append(parts, fmt.Sprintf("I couldn't update %s right now.", r.Change.Query))
		default:
			parts = append(parts, fmt.Sprintf("I couldn't find %s.", r.Change.Query))
		}
	}
	if len(parts) == 0 {
		return textWhatToChange
	}
	return strings.Join(parts, " ")
}

func lastUserMessage(messages []intent.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if strings.EqualFold(messages[i].Role, "user") {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

// parseWebhookRequest decodes the assistant payload. The shape is only
// loosely specified, so parsing is duck-typed: unknown keys are skipped and
// arguments may arrive as an object or as a JSON-encoded string.
func parseWebhookRequest(data []byte) (*webhookRequest, error) {
	var req webhookRequest
	d := jx.DecodeBytes(data)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "message":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if string(key) != "toolCalls" || d.Next() != jx.Array {
					return d.Skip()
				}
				return d.Arr(func(d *jx.Decoder) error {
					call, err := parseToolCall(d)
					if err != nil {
						return err
					}
					req.Calls = append(req.Calls, call)
					return nil
				})
			})
		case "messagesOpenAIFormatted":
			if d.Next() != jx.Array {
				return d.Skip()
			}
			return d.Arr(func(d *jx.Decoder) error {
				m, err := parseMessage(d)
				if err != nil {
					return err
				}
				if m.Content != "" {
					req.Messages = append(req.Messages, m)
				}
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode webhook payload")
	}
	return &req, nil
}

func parseToolCall(d *jx.Decoder) (toolCall, error) {
	var call toolCall
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			return strInto(d, &call.ID)
		case "function":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				switch string(key) {
				case "name":
					if err := strInto(d, &call.Name); err != nil {
						return err
					}
					call.Name = strings.ToLower(call.Name)
					return nil
				case "arguments":
					return parseArguments(d, &call.Args)
				default:
					return d.Skip()
				}
			})
		default:
			return d.Skip()
		}
	})
	return call, err
}

func parseMessage(d *jx.Decoder) (intent.Message, error) {
	var m intent.Message
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "role":
			return strInto(d, &m.Role)
		case "content":
			return strInto(d, &m.Content)
		default:
			return d.Skip()
		}
	})
	return m, err
}

// parseArguments accepts both an inline object and the OpenAI convention of
// a JSON object serialized into a string. A malformed embedded string is
// treated as absent arguments rather than a hard failure.
func parseArguments(d *jx.Decoder, args *toolArgs) error {
	switch d.Next() {
	case jx.String:
		raw, err := d.Str()
		if err != nil {
			return err
		}
		if strings.TrimSpace(raw) == "" {
			return nil
		}
		if err := decodeArgs(jx.DecodeStr(raw), args); err != nil {
			*args = toolArgs{}
		}
		return nil
	case jx.Object:
		return decodeArgs(d, args)
	default:
		return d.Skip()
	}
}

func decodeArgs(d *jx.Decoder, args *toolArgs) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch strings.ToLower(string(key)) {
		case "order":
			// Legacy shape: {"Order": {"name": ..., "quantity": ...}}.
			if d.Next() != jx.Object {
				return d.Skip()
			}
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				switch strings.ToLower(string(key)) {
				case "name", "item_name":
					return strInto(d, &args.ItemName)
				case "quantity":
					return intInto(d, &args.Quantity)
				default:
					return d.Skip()
				}
			})
		case "order_id", "orderid":
			return strInto(d, &args.OrderID)
		case "item", "item_name", "itemname", "name":
			return strInto(d, &args.ItemName)
		case "query", "q":
			return strInto(d, &args.Query)
		case "quantity", "qty":
			return intInto(d, &args.Quantity)
		case "special_instructions", "specialinstructions", "notes":
			return strInto(d, &args.SpecialInstructions)
		case "customer_name", "customername":
			return strInto(d, &args.CustomerName)
		default:
			return d.Skip()
		}
	})
}

func strInto(d *jx.Decoder, dst *string) error {
	if d.Next() != jx.String {
		return d.Skip()
	}
	v, err := d.Str()
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func intInto(d *jx.Decoder, dst *int) error {
	switch d.Next() {
	case jx.Number:
		n, err := d.Int()
		if err != nil {
			return err
		}
		*dst = n
		return nil
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return err
		}
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
		return nil
	default:
		return d.Skip()
	}
}
