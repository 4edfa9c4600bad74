package analysis

import (
	"context"
	"testing"

	"github.com/spf13/afero"
)

func TestHandleReadBytes(t *testing.T) {
	svc, _, fs := newTestService(t)
	_ = afero.WriteFile(fs, "/bin/raw.bin", []byte("MZ\x90\x00hello"), 0o644)
	h := NewInspectHandler(svc)

	res, _, err := h.HandleReadBytes(context.Background(), nil, ReadBytesArgument{Path: "/bin/raw.bin", Offset: 0, Length: 9})
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	env := decodeEnvelope(t, res)
	if env.Status != "success" {
		t.Fatalf("Expected success, got %q: %s", env.Status, env.Error)
	}

	data := env.Data.(map[string]any)
	if data["hex"] != "4d5a900068656c6c6f" {
		t.Errorf("Unexpected hex: %v", data["hex"])
	}
	if data["ascii"] != "MZ..hello" {
		t.Errorf("Unexpected ascii: %v", data["ascii"])
	}
	if data["length"] != float64(9) {
		t.Errorf("Unexpected length: %v", data["length"])
	}
}

func TestHandleReadBytes_MissingFile(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := NewInspectHandler(svc)

	res, _, _ := h.HandleReadBytes(context.Background(), nil, ReadBytesArgument{Path: "/bin/nope.bin", Length: 16})
	env := decodeEnvelope(t, res)
	if env.ErrorCode != CodeNotFound {
		t.Errorf("Expected code %s, got %s", CodeNotFound, env.ErrorCode)
	}
}

func TestHandleListSections_UnknownFormat(t *testing.T) {
	svc, _, fs := newTestService(t)
	_ = afero.WriteFile(fs, "/bin/garbage.bin", []byte("not an executable at all"), 0o644)
	h := NewInspectHandler(svc)

	res, _, _ := h.HandleListSections(context.Background(), nil, BinaryArgument{Path: "/bin/garbage.bin"})
	env := decodeEnvelope(t, res)
	if env.ErrorCode != CodeCorrupt {
		t.Errorf("Expected code %s, got %s", CodeCorrupt, env.ErrorCode)
	}
}

func TestHandleSearchStrings(t *testing.T) {
	svc, _, fs := newTestService(t)
	_ = afero.WriteFile(fs, "/bin/raw.bin", []byte("junk\x00http://example.com\x00"), 0o644)
	h := NewInspectHandler(svc)

	res, _, _ := h.HandleSearchStrings(context.Background(), nil, SearchStringsArgument{
		Path:    "/bin/raw.bin",
		Pattern: `https?://[a-z.]+`,
	})
	env := decodeEnvelope(t, res)
	if env.Status != "success" {
		t.Fatalf("Expected success, got %q: %s", env.Status, env.Error)
	}

	data := env.Data.(map[string]any)
	if data["count"] != float64(1) {
		t.Fatalf("Expected 1 match, got %v", data["count"])
	}
	match := data["matches"].([]any)[0].(map[string]any)
	if match["value"] != "http://example.com" {
		t.Errorf("Unexpected match: %v", match["value"])
	}
}

func TestHandleSearchStrings_EmptyPattern(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := NewInspectHandler(svc)

	res, _, _ := h.HandleSearchStrings(context.Background(), nil, SearchStringsArgument{Path: "/bin/raw.bin"})
	env := decodeEnvelope(t, res)
	if env.ErrorCode != CodeInvalidArgument {
		t.Errorf("Expected code %s, got %s", CodeInvalidArgument, env.ErrorCode)
	}
}

func TestHandleSearchStrings_BadPattern(t *testing.T) {
	svc, _, fs := newTestService(t)
	_ = afero.WriteFile(fs, "/bin/raw.bin", []byte("data"), 0o644)
	h := NewInspectHandler(svc)

	res, _, _ := h.HandleSearchStrings(context.Background(), nil, SearchStringsArgument{Path: "/bin/raw.bin", Pattern: `([`})
	env := decodeEnvelope(t, res)
	if env.ErrorCode != CodeInvalidArgument {
		t.Errorf("Expected code %s, got %s", CodeInvalidArgument, env.ErrorCode)
	}
}
