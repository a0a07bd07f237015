package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/oriys/quasar/internal/envelope"
)

// MergeBatch folds a batch event (a JSON array of envelopes) into a single
// envelope: the first session found wins, and the bodies are collected, in
// order, into one body list. Used when a function is fed batched records
// instead of a single invocation.
func MergeBatch(event json.RawMessage) (json.RawMessage, error) {
	if !envelope.IsArray(event) {
		return nil, &envelope.ValidationError{
			Code:    envelope.CodeInvalidEvent,
			Message: "invalid batch event, must be an array of envelopes",
		}
	}
	var entries []envelope.Raw
	if err := json.Unmarshal(event, &entries); err != nil {
		return nil, &envelope.ValidationError{
			Code:    envelope.CodeInvalidEvent,
			Message: "invalid batch event, must be an array of envelopes",
		}
	}

	merged := struct {
		Session json.RawMessage   `json:"session,omitempty"`
		Body    []json.RawMessage `json:"body"`
	}{
		Body: make([]json.RawMessage, 0, len(entries)),
	}

	for _, entry := range entries {
		if merged.Session == nil && len(entry.Session) > 0 && !envelope.IsNull(entry.Session) {
			merged.Session = entry.Session
		}
		merged.Body = append(merged.Body, entry.Body)
	}

	return json.Marshal(merged)
}

// HandleBatch merges a batch event and dispatches it as one invocation.
func (h *Handler) HandleBatch(ctx context.Context, fn Function, event json.RawMessage) (any, error) {
	merged, err := MergeBatch(event)
	if err != nil {
		h.emit(ctx)
		strategy := h.OnError
		if strategy == nil {
			strategy = FormatError
		}
		return strategy(err)
	}
	return h.Handle(ctx, fn, merged)
}
