package analysis

import (
	"context"
	"strings"
	"testing"

	"github.com/binsight/binsight-mcp/internal/domain"
)

// analyzedQueryHandler returns a query handler over a service with one
// analyzed binary in its session table.
func analyzedQueryHandler(t *testing.T) *QueryHandler {
	t.Helper()
	svc, runner, _ := newTestService(t)
	runner.record = domain.Record{
		Functions: []domain.Function{
			{Name: "main", Entry: "0x401000", Code: "int main(void) { greet(); return 0; }"},
			{Name: "greet", Entry: "0x401040", Code: `void greet(void) { puts("hi"); }`},
			{Name: "cleanup", Entry: "0x401080", Code: "void cleanup(void) {}"},
		},
		Strings: []domain.StringEntry{
			{Value: "hi", Address: "0x404000"},
			{Value: "configuration loaded", Address: "0x404010"},
			{Value: "err", Address: "0x404030"},
		},
		Imports: []domain.Import{
			{Name: "puts", Library: "libc.so.6"},
			{Name: "malloc", Library: "libc.so.6"},
			{Name: "mystery", Library: ""},
		},
		Exports: []domain.Export{
			{Name: "main", Address: "0x401000"},
		},
	}

	if _, err := svc.Analyze(context.Background(), "/bin/sample.exe", false); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	return NewQueryHandler(svc)
}

func TestHandleListFunctions(t *testing.T) {
	h := analyzedQueryHandler(t)

	res, _, err := h.HandleListFunctions(context.Background(), nil, ListArgument{Path: "/bin/sample.exe"})
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	env := decodeEnvelope(t, res)
	if env.Status != "success" {
		t.Fatalf("Expected success, got %q: %s", env.Status, env.Error)
	}

	data := env.Data.(map[string]any)
	if data["total_count"] != float64(3) {
		t.Errorf("Expected total_count 3, got %v", data["total_count"])
	}
	functions := data["functions"].([]any)
	if len(functions) != 3 {
		t.Fatalf("Expected 3 functions, got %d", len(functions))
	}
	first := functions[0].(map[string]any)
	if first["name"] != "main" {
		t.Errorf("Expected first function 'main', got %v", first["name"])
	}
}

func TestHandleListFunctions_Pagination(t *testing.T) {
	h := analyzedQueryHandler(t)

	res, _, _ := h.HandleListFunctions(context.Background(), nil, ListArgument{Path: "/bin/sample.exe", Offset: 1, Limit: 1})
	env := decodeEnvelope(t, res)
	data := env.Data.(map[string]any)

	if data["returned_count"] != float64(1) {
		t.Errorf("Expected returned_count 1, got %v", data["returned_count"])
	}
	if data["total_count"] != float64(3) {
		t.Errorf("Expected total_count 3, got %v", data["total_count"])
	}
	fn := data["functions"].([]any)[0].(map[string]any)
	if fn["name"] != "greet" {
		t.Errorf("Expected 'greet' at offset 1, got %v", fn["name"])
	}
}

func TestHandleListFunctions_NoSession(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := NewQueryHandler(svc)

	res, _, _ := h.HandleListFunctions(context.Background(), nil, ListArgument{Path: "/bin/never-analyzed.exe"})
	env := decodeEnvelope(t, res)
	if env.Status != "error" {
		t.Fatalf("Expected error for missing session, got %q", env.Status)
	}
	if env.ErrorCode != CodeNotFound {
		t.Errorf("Expected code %s, got %s", CodeNotFound, env.ErrorCode)
	}
}

func TestHandleListFunctions_NegativeOffset(t *testing.T) {
	h := analyzedQueryHandler(t)

	res, _, _ := h.HandleListFunctions(context.Background(), nil, ListArgument{Path: "/bin/sample.exe", Offset: -1})
	env := decodeEnvelope(t, res)
	if env.ErrorCode != CodeInvalidArgument {
		t.Errorf("Expected code %s, got %s", CodeInvalidArgument, env.ErrorCode)
	}
}

func TestHandleReadFunction(t *testing.T) {
	h := analyzedQueryHandler(t)

	res, _, _ := h.HandleReadFunction(context.Background(), nil, FunctionArgument{Path: "/bin/sample.exe", Name: "greet"})
	env := decodeEnvelope(t, res)
	if env.Status != "success" {
		t.Fatalf("Expected success, got %q: %s", env.Status, env.Error)
	}
	data := env.Data.(map[string]any)
	if data["function_name"] != "greet" {
		t.Errorf("Expected function 'greet', got %v", data["function_name"])
	}
	if data["decompiled_code"] != `void greet(void) { puts("hi"); }` {
		t.Errorf("Unexpected code: %v", data["decompiled_code"])
	}
}

func TestHandleReadFunction_MissingFunction(t *testing.T) {
	h := analyzedQueryHandler(t)

	res, _, _ := h.HandleReadFunction(context.Background(), nil, FunctionArgument{Path: "/bin/sample.exe", Name: "ghost"})
	env := decodeEnvelope(t, res)
	if env.ErrorCode != CodeNotFound {
		t.Errorf("Expected code %s, got %s", CodeNotFound, env.ErrorCode)
	}
	// A missing function on an analyzed binary must not ask for analysis.
	if !strings.Contains(env.Error, "ghost") {
		t.Errorf("Expected function-specific error, got %q", env.Error)
	}
}

func TestHandleReadFunction_EmptyName(t *testing.T) {
	h := analyzedQueryHandler(t)

	res, _, _ := h.HandleReadFunction(context.Background(), nil, FunctionArgument{Path: "/bin/sample.exe", Name: "  "})
	env := decodeEnvelope(t, res)
	if env.ErrorCode != CodeInvalidArgument {
		t.Errorf("Expected code %s, got %s", CodeInvalidArgument, env.ErrorCode)
	}
}

func TestHandleReadStrings_MinLengthFilter(t *testing.T) {
	h := analyzedQueryHandler(t)

	res, _, _ := h.HandleReadStrings(context.Background(), nil, StringsArgument{Path: "/bin/sample.exe", MinLength: 4})
	env := decodeEnvelope(t, res)
	if env.Status != "success" {
		t.Fatalf("Expected success, got %q: %s", env.Status, env.Error)
	}
	data := env.Data.(map[string]any)
	strs := data["strings"].([]any)
	if len(strs) != 1 {
		t.Fatalf("Expected 1 string of at least 4 chars, got %d", len(strs))
	}
	entry := strs[0].(map[string]any)
	if entry["value"] != "configuration loaded" {
		t.Errorf("Unexpected string: %v", entry["value"])
	}
	// Total reflects the unfiltered collection size.
	if data["total_count"] != float64(3) {
		t.Errorf("Expected total_count 3, got %v", data["total_count"])
	}
}

func TestHandleListImports_GroupedByLibrary(t *testing.T) {
	h := analyzedQueryHandler(t)

	res, _, _ := h.HandleListImports(context.Background(), nil, BinaryArgument{Path: "/bin/sample.exe"})
	env := decodeEnvelope(t, res)
	if env.Status != "success" {
		t.Fatalf("Expected success, got %q: %s", env.Status, env.Error)
	}
	data := env.Data.(map[string]any)
	if data["total_imports"] != float64(3) {
		t.Errorf("Expected 3 imports, got %v", data["total_imports"])
	}
	grouped := data["imports_by_library"].(map[string]any)
	libc := grouped["libc.so.6"].([]any)
	if len(libc) != 2 {
		t.Errorf("Expected 2 libc imports, got %d", len(libc))
	}
	// Empty library names group under "Unknown".
	unknown, ok := grouped["Unknown"]
	if !ok {
		t.Fatal("Expected 'Unknown' library group")
	}
	if unknown.([]any)[0] != "mystery" {
		t.Errorf("Unexpected unknown import: %v", unknown)
	}
}

func TestHandleListExports(t *testing.T) {
	h := analyzedQueryHandler(t)

	res, _, _ := h.HandleListExports(context.Background(), nil, BinaryArgument{Path: "/bin/sample.exe"})
	env := decodeEnvelope(t, res)
	if env.Status != "success" {
		t.Fatalf("Expected success, got %q: %s", env.Status, env.Error)
	}
	data := env.Data.(map[string]any)
	if data["total_exports"] != float64(1) {
		t.Errorf("Expected 1 export, got %v", data["total_exports"])
	}
}

func TestDefaultedLimit(t *testing.T) {
	h := analyzedQueryHandler(t)
	maxResults := h.service.Settings().MaxResults

	tests := []struct {
		limit int
		want  int
	}{
		{0, maxResults},
		{-5, maxResults},
		{maxResults + 1, maxResults},
		{10, 10},
	}
	for _, tt := range tests {
		if got := h.defaultedLimit(tt.limit); got != tt.want {
			t.Errorf("defaultedLimit(%d) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}
