// Package offload implements the oversized-payload protocol. When a body's
// serialized size would exceed the transport's payload ceiling, the sender
// writes it to durable blob storage and substitutes a reference; the
// receiver fetches the blob back before processing. The protocol is
// symmetric: the same substitution is applied to request bodies and to
// workflow-step responses.
package offload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/quasar/internal/metrics"
)

// Threshold is the serialized size, in bytes, at or above which a body is
// offloaded. Chosen with margin below the 262144-byte transport ceiling.
const Threshold = 256000

// RefField is the wire name of the blob reference on an offloaded body.
// It is read by other implementations and must not change.
const RefField = "contentS3Path"

// errorField is the out-of-band error metadata that may ride alongside the
// reference and must survive rehydration.
const errorField = "error"

// ErrNotFound is returned by stores when a blob key does not exist.
var ErrNotFound = errors.New("offload: blob not found")

// Store is the narrow blob storage interface the protocol needs.
type Store interface {
	// Put writes data under key and returns the key.
	Put(ctx context.Context, key string, data []byte) (string, error)

	// Get reads the blob stored under key. Returns ErrNotFound for
	// unknown keys.
	Get(ctx context.Context, key string) ([]byte, error)
}

// Key builds a time-partitioned blob key under the given namespace.
func Key(namespace string, now time.Time) string {
	return fmt.Sprintf("%s/%d/%d/%d/%s.json", namespace, now.Year(), int(now.Month()), now.Day(), uuid.NewString())
}

// Offload replaces body with a blob reference when its serialized size meets
// the threshold. Fixed properties named by the target stay inline on the
// reference so receivers can route without a full fetch.
//
// A nil store makes offload a passthrough: the oversized body is sent inline
// anyway. That is a deliberate degradation for deployments without blob
// storage, not a failure.
func Offload(ctx context.Context, store Store, namespace string, body json.RawMessage, fixedProperties []string) (json.RawMessage, error) {
	if store == nil || len(body) < Threshold {
		return body, nil
	}

	key, err := store.Put(ctx, Key(namespace, time.Now()), body)
	if err != nil {
		return nil, fmt.Errorf("offload: put blob: %w", err)
	}
	metrics.RecordOffload()

	stand := map[string]json.RawMessage{
		RefField: mustMarshal(key),
	}
	if len(fixedProperties) > 0 {
		var original map[string]json.RawMessage
		if err := json.Unmarshal(body, &original); err == nil {
			for _, name := range fixedProperties {
				if v, ok := original[name]; ok {
					stand[name] = v
				}
			}
		}
	}

	return json.Marshal(stand)
}

// Rehydrate substitutes an offloaded body with its blob contents. A body
// with no blob reference is returned unchanged, so rehydration is
// idempotent. An "error" sibling attached alongside the reference is merged
// back onto the rehydrated object.
func Rehydrate(ctx context.Context, store Store, body json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return body, nil
	}

	ref, ok := fields[RefField]
	if !ok {
		return body, nil
	}

	var key string
	if err := json.Unmarshal(ref, &key); err != nil {
		return body, nil
	}

	if store == nil {
		return nil, fmt.Errorf("offload: body references blob %s but no store is configured", key)
	}

	blob, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("offload: get blob %s: %w", key, err)
	}
	metrics.RecordRehydration()

	errMeta, hadError := fields[errorField]
	if !hadError {
		return blob, nil
	}

	var rehydrated map[string]json.RawMessage
	if err := json.Unmarshal(blob, &rehydrated); err != nil {
		// Blob is not an object; the error sibling cannot be merged in
		// place, so wrap both.
		return json.Marshal(map[string]json.RawMessage{
			"body":     blob,
			errorField: errMeta,
		})
	}
	rehydrated[errorField] = errMeta
	return json.Marshal(rehydrated)
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
