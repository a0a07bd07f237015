package offload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"
)

// bigBody builds an object whose serialized size is at least Threshold.
func bigBody(t *testing.T) json.RawMessage {
	t.Helper()
	padding := strings.Repeat("x", Threshold)
	body, err := json.Marshal(map[string]any{
		"organizationCode": "acme",
		"padding":          padding,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(body) < Threshold {
		t.Fatalf("test body too small: %d bytes", len(body))
	}
	return body
}

func TestOffload_BelowThresholdPassesThrough(t *testing.T) {
	store := NewMemoryStore()
	body := json.RawMessage(`{"small":true}`)

	out, err := Offload(context.Background(), store, "acme", body, nil)
	if err != nil {
		t.Fatalf("offload failed: %v", err)
	}
	if !bytes.Equal(out, body) {
		t.Fatalf("expected passthrough, got %s", out)
	}
	if store.Len() != 0 {
		t.Fatal("no blob should be written below the threshold")
	}
}

func TestOffload_NilStorePassesThrough(t *testing.T) {
	body := bigBody(t)

	out, err := Offload(context.Background(), nil, "acme", body, nil)
	if err != nil {
		t.Fatalf("offload failed: %v", err)
	}
	if !bytes.Equal(out, body) {
		t.Fatal("nil store must send the body inline untouched")
	}
}

func TestOffload_RoundTrip(t *testing.T) {
	store := NewMemoryStore()
	body := bigBody(t)

	out, err := Offload(context.Background(), store, "acme", body, nil)
	if err != nil {
		t.Fatalf("offload failed: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one stored blob, got %d", store.Len())
	}

	var stand map[string]json.RawMessage
	if err := json.Unmarshal(out, &stand); err != nil {
		t.Fatalf("stand-in is not an object: %v", err)
	}
	if _, ok := stand[RefField]; !ok {
		t.Fatalf("stand-in is missing %s: %s", RefField, out)
	}
	if len(stand) != 1 {
		t.Fatalf("stand-in should carry only the reference, got %s", out)
	}

	back, err := Rehydrate(context.Background(), store, out)
	if err != nil {
		t.Fatalf("rehydrate failed: %v", err)
	}
	if !bytes.Equal(back, body) {
		t.Fatal("rehydrated body does not match the original")
	}
}

func TestOffload_FixedPropertiesStayInline(t *testing.T) {
	store := NewMemoryStore()
	padding := strings.Repeat("x", Threshold)
	body, _ := json.Marshal(map[string]any{
		"organizationCode": "acme",
		"status":           "ready",
		"padding":          padding,
	})

	out, err := Offload(context.Background(), store, "acme", body, []string{"organizationCode", "status", "missing"})
	if err != nil {
		t.Fatalf("offload failed: %v", err)
	}

	var stand map[string]json.RawMessage
	if err := json.Unmarshal(out, &stand); err != nil {
		t.Fatal(err)
	}
	if string(stand["organizationCode"]) != `"acme"` {
		t.Fatalf("expected organizationCode inline, got %s", out)
	}
	if string(stand["status"]) != `"ready"` {
		t.Fatalf("expected status inline, got %s", out)
	}
	if _, ok := stand["missing"]; ok {
		t.Fatal("absent properties must not be invented on the stand-in")
	}
	if _, ok := stand["padding"]; ok {
		t.Fatal("non-fixed properties must not stay inline")
	}
}

func TestRehydrate_NoReferenceIsIdempotent(t *testing.T) {
	body := json.RawMessage(`{"plain":"body"}`)

	out, err := Rehydrate(context.Background(), NewMemoryStore(), body)
	if err != nil {
		t.Fatalf("rehydrate failed: %v", err)
	}
	if !bytes.Equal(out, body) {
		t.Fatal("a body without a reference must pass through unchanged")
	}
}

func TestRehydrate_NonObjectPassesThrough(t *testing.T) {
	for _, body := range []string{`"text"`, `[1,2,3]`, `42`, `null`} {
		out, err := Rehydrate(context.Background(), NewMemoryStore(), json.RawMessage(body))
		if err != nil {
			t.Fatalf("rehydrate(%s) failed: %v", body, err)
		}
		if string(out) != body {
			t.Fatalf("rehydrate(%s) changed the body to %s", body, out)
		}
	}
}

func TestRehydrate_MissingStoreFails(t *testing.T) {
	body := json.RawMessage(fmt.Sprintf(`{"%s":"acme/2026/3/1/abc.json"}`, RefField))

	if _, err := Rehydrate(context.Background(), nil, body); err == nil {
		t.Fatal("a referenced blob without a configured store must fail")
	}
}

func TestRehydrate_ErrorSiblingMerged(t *testing.T) {
	store := NewMemoryStore()
	key, err := store.Put(context.Background(), "acme/blob.json", []byte(`{"items":[1]}`))
	if err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(map[string]any{
		RefField: key,
		"error":  map[string]string{"Cause": "timed out"},
	})

	out, err := Rehydrate(context.Background(), store, body)
	if err != nil {
		t.Fatalf("rehydrate failed: %v", err)
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(out, &merged); err != nil {
		t.Fatal(err)
	}
	if string(merged["items"]) != `[1]` {
		t.Fatalf("expected blob contents preserved, got %s", out)
	}
	if !bytes.Contains(merged["error"], []byte("timed out")) {
		t.Fatalf("expected error metadata merged onto the body, got %s", out)
	}
}

func TestRehydrate_ErrorSiblingWrapsNonObjectBlob(t *testing.T) {
	store := NewMemoryStore()
	key, err := store.Put(context.Background(), "acme/blob.json", []byte(`[1,2]`))
	if err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(map[string]any{
		RefField: key,
		"error":  map[string]string{"Cause": "boom"},
	})

	out, err := Rehydrate(context.Background(), store, body)
	if err != nil {
		t.Fatalf("rehydrate failed: %v", err)
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(out, &wrapped); err != nil {
		t.Fatal(err)
	}
	if string(wrapped["body"]) != `[1,2]` {
		t.Fatalf("expected non-object blob wrapped under body, got %s", out)
	}
	if _, ok := wrapped["error"]; !ok {
		t.Fatalf("expected error metadata preserved, got %s", out)
	}
}

func TestKey_Layout(t *testing.T) {
	now := time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC)
	key := Key("acme", now)

	pattern := regexp.MustCompile(`^acme/2026/3/7/[0-9a-f-]{36}\.json$`)
	if !pattern.MatchString(key) {
		t.Fatalf("unexpected key layout: %s", key)
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
