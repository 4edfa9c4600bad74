package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/binsight/binsight-mcp/internal/config"
	"github.com/binsight/binsight-mcp/internal/domain"
)

// fakeRunner stands in for the headless analyzer: it writes a canned
// record into the output directory and announces it.
type fakeRunner struct {
	fs     afero.Fs
	record domain.Record
	calls  int

	err         error
	missingPath bool
}

func (r *fakeRunner) Run(ctx context.Context, binaryPath, projectDir, outputDir string) (RunResult, error) {
	r.calls++
	if r.err != nil {
		return RunResult{}, r.err
	}
	if r.missingPath {
		return RunResult{RecordPath: filepath.Join(outputDir, "never-written.json")}, nil
	}

	data, err := json.Marshal(&r.record)
	if err != nil {
		return RunResult{}, err
	}
	path := filepath.Join(outputDir, "staged.json")
	if err := afero.WriteFile(r.fs, path, data, 0o644); err != nil {
		return RunResult{}, err
	}
	return RunResult{RecordPath: path}, nil
}

type fakeIndexer struct {
	calls        int
	fingerprints []string
}

func (i *fakeIndexer) IndexFunctions(fingerprint, binaryName string, acc Accessor) error {
	i.calls++
	i.fingerprints = append(i.fingerprints, fingerprint)
	return nil
}

func testSettings() *config.AnalysisSettings {
	return &config.AnalysisSettings{
		BaseDir:            "/base",
		StreamingThreshold: 1 << 20,
		SessionCapacity:    4,
		AnalysisTimeout:    time.Minute,
		MaxResults:         100,
	}
}

func testRecord() domain.Record {
	return domain.Record{
		Functions: []domain.Function{
			{Name: "main", Entry: "0x401000", Code: "int main(void) { return 0; }", Callees: []string{"helper"}},
			{Name: "helper", Entry: "0x401020", Code: "void helper(void) {}", Callers: []string{"main"}},
		},
		Strings: []domain.StringEntry{{Value: "hello", Address: "0x404000"}},
		Imports: []domain.Import{{Name: "printf", Library: "libc.so.6"}},
		Exports: []domain.Export{{Name: "main", Address: "0x401000"}},
	}
}

func newTestService(t *testing.T) (*Service, *fakeRunner, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()

	svc, err := NewServiceWithFs(fs, testSettings())
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}

	runner := &fakeRunner{fs: fs, record: testRecord()}
	svc.SetRunner(runner)

	if err := afero.WriteFile(fs, "/bin/sample.exe", []byte("sample binary bytes"), 0o644); err != nil {
		t.Fatalf("Failed to write binary: %v", err)
	}
	return svc, runner, fs
}

func TestService_AnalyzeMiss(t *testing.T) {
	svc, runner, fs := newTestService(t)

	res, err := svc.Analyze(context.Background(), "/bin/sample.exe", false)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if res.Status != "analyzed" {
		t.Errorf("Expected status 'analyzed', got %q", res.Status)
	}
	if runner.calls != 1 {
		t.Errorf("Expected 1 pipeline invocation, got %d", runner.calls)
	}
	if len(res.Fingerprint) != FingerprintLength {
		t.Errorf("Expected fingerprint length %d, got %q", FingerprintLength, res.Fingerprint)
	}
	if res.BinaryName != "sample.exe" {
		t.Errorf("Expected binary name 'sample.exe', got %q", res.BinaryName)
	}
	if res.Counts.Functions != 2 || res.Counts.Strings != 1 || res.Counts.Imports != 1 || res.Counts.Exports != 1 {
		t.Errorf("Unexpected counts: %+v", res.Counts)
	}

	// The record must land at the canonical cache location.
	if res.RecordPath != svc.Store().RecordPath(res.Fingerprint) {
		t.Errorf("Expected canonical record path, got %q", res.RecordPath)
	}
	if _, err := fs.Stat(res.RecordPath); err != nil {
		t.Errorf("Expected record on disk: %v", err)
	}

	// Cache index records the summary.
	summary, ok := svc.CachedSummaries()[res.Fingerprint]
	if !ok {
		t.Fatal("Expected cache index entry")
	}
	if summary.Name != "sample.exe" {
		t.Errorf("Expected summary name 'sample.exe', got %q", summary.Name)
	}
}

func TestService_AnalyzeHit(t *testing.T) {
	svc, runner, _ := newTestService(t)

	if _, err := svc.Analyze(context.Background(), "/bin/sample.exe", false); err != nil {
		t.Fatalf("First analyze failed: %v", err)
	}

	res, err := svc.Analyze(context.Background(), "/bin/sample.exe", false)
	if err != nil {
		t.Fatalf("Second analyze failed: %v", err)
	}
	if res.Status != "cached" {
		t.Errorf("Expected status 'cached', got %q", res.Status)
	}
	if runner.calls != 1 {
		t.Errorf("Expected cache hit to skip the pipeline, got %d invocations", runner.calls)
	}
	if res.Counts.Functions != 2 {
		t.Errorf("Expected counts from cache index, got %+v", res.Counts)
	}
}

func TestService_AnalyzeForce(t *testing.T) {
	svc, runner, _ := newTestService(t)

	if _, err := svc.Analyze(context.Background(), "/bin/sample.exe", false); err != nil {
		t.Fatalf("First analyze failed: %v", err)
	}

	res, err := svc.Analyze(context.Background(), "/bin/sample.exe", true)
	if err != nil {
		t.Fatalf("Forced analyze failed: %v", err)
	}
	if res.Status != "analyzed" {
		t.Errorf("Expected force to re-run the pipeline, got status %q", res.Status)
	}
	if runner.calls != 2 {
		t.Errorf("Expected 2 pipeline invocations, got %d", runner.calls)
	}
}

func TestService_AnalyzeCorruptCachedRecord(t *testing.T) {
	svc, runner, fs := newTestService(t)

	// Seed a corrupt record at the canonical location with no index entry,
	// so the hit path has to read it for counts and discovers the damage.
	fp, err := Fingerprint(fs, "/bin/sample.exe")
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	dst := svc.Store().RecordPath(fp)
	if err := afero.WriteFile(fs, dst, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("Failed to seed corrupt record: %v", err)
	}

	res, err := svc.Analyze(context.Background(), "/bin/sample.exe", false)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if res.Status != "analyzed" {
		t.Errorf("Expected corrupt cached record to be re-analyzed, got status %q", res.Status)
	}
	if runner.calls != 1 {
		t.Errorf("Expected 1 pipeline invocation, got %d", runner.calls)
	}

	// The replacement record is valid again.
	acc, err := svc.Resolve("/bin/sample.exe")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if n, err := acc.Count(domain.CollectionFunctions); err != nil || n != 2 {
		t.Errorf("Expected 2 functions after re-analysis, got %d (err %v)", n, err)
	}
}

func TestService_AnalyzeMissingBinary(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Analyze(context.Background(), "/bin/nope.exe", false)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got: %v", err)
	}
}

func TestService_AnalyzeOutsideSafeDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	settings := testSettings()
	settings.SafeDir = "/samples"

	svc, err := NewServiceWithFs(fs, settings)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	svc.SetRunner(&fakeRunner{fs: fs, record: testRecord()})

	_ = afero.WriteFile(fs, "/bin/outside.exe", []byte("x"), 0o644)
	_ = afero.WriteFile(fs, "/samples/inside.exe", []byte("y"), 0o644)

	if _, err := svc.Analyze(context.Background(), "/bin/outside.exe", false); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for path outside safe dir, got: %v", err)
	}

	if _, err := svc.Analyze(context.Background(), "/samples/inside.exe", false); err != nil {
		t.Errorf("Expected analyze inside safe dir to succeed, got: %v", err)
	}
}

func TestService_AnalyzeUpstreamFailure(t *testing.T) {
	svc, runner, _ := newTestService(t)
	runner.err = errors.New("analyzer crashed")

	_, err := svc.Analyze(context.Background(), "/bin/sample.exe", false)
	if err == nil {
		t.Fatal("Expected error from failing pipeline")
	}
}

func TestService_AnalyzeAnnouncedRecordMissing(t *testing.T) {
	svc, runner, _ := newTestService(t)
	runner.missingPath = true

	_, err := svc.Analyze(context.Background(), "/bin/sample.exe", false)
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("Expected ErrUpstream when announced record is absent, got: %v", err)
	}
}

func TestService_ResolveWithoutSession(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Resolve("/bin/sample.exe")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound without a session, got: %v", err)
	}
}

func TestService_ListAndFind(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.Analyze(context.Background(), "/bin/sample.exe", false); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	page, total, err := svc.List("/bin/sample.exe", domain.CollectionFunctions, 0, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 2 {
		t.Errorf("Expected total 2, got %d", total)
	}
	if len(page) != 2 {
		t.Errorf("Expected 2 elements, got %d", len(page))
	}

	page, total, err = svc.List("/bin/sample.exe", domain.CollectionFunctions, 1, 10)
	if err != nil {
		t.Fatalf("List with offset failed: %v", err)
	}
	if total != 2 || len(page) != 1 {
		t.Errorf("Expected offset page of 1 with total 2, got %d/%d", len(page), total)
	}

	e, err := svc.Find("/bin/sample.exe", domain.CollectionFunctions, "helper")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	fn := e.(domain.Function)
	if fn.Name != "helper" || len(fn.Callers) != 1 || fn.Callers[0] != "main" {
		t.Errorf("Unexpected function: %+v", fn)
	}

	if _, err := svc.Find("/bin/sample.exe", domain.CollectionFunctions, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing function, got: %v", err)
	}
}

func TestService_SessionsAndEvictAll(t *testing.T) {
	svc, _, fs := newTestService(t)

	_ = afero.WriteFile(fs, "/bin/other.exe", []byte("different content"), 0o644)

	if _, err := svc.Analyze(context.Background(), "/bin/sample.exe", false); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if _, err := svc.Analyze(context.Background(), "/bin/other.exe", false); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	sessions := svc.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	// Most recently analyzed first.
	if sessions[0].Handle != "/bin/other.exe" {
		t.Errorf("Expected MRU session first, got %q", sessions[0].Handle)
	}

	if n := svc.EvictAll(); n != 2 {
		t.Errorf("Expected 2 evicted, got %d", n)
	}
	if len(svc.Sessions()) != 0 {
		t.Error("Expected no sessions after eviction")
	}

	// Cached records survive eviction; the next analyze is a cache hit.
	res, err := svc.Analyze(context.Background(), "/bin/sample.exe", false)
	if err != nil {
		t.Fatalf("Analyze after eviction failed: %v", err)
	}
	if res.Status != "cached" {
		t.Errorf("Expected cache hit after eviction, got %q", res.Status)
	}
}

func TestService_AccessorSurvivesEviction(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.Analyze(context.Background(), "/bin/sample.exe", false); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	acc, err := svc.Resolve("/bin/sample.exe")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	svc.EvictAll()

	if n, err := acc.Count(domain.CollectionFunctions); err != nil || n != 2 {
		t.Errorf("Expected accessor to remain valid after eviction, got %d (err %v)", n, err)
	}
}

func TestService_IndexerInvoked(t *testing.T) {
	svc, _, _ := newTestService(t)

	idx := &fakeIndexer{}
	svc.SetIndexer(idx)

	res, err := svc.Analyze(context.Background(), "/bin/sample.exe", false)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if idx.calls != 1 {
		t.Fatalf("Expected 1 indexing call, got %d", idx.calls)
	}
	if idx.fingerprints[0] != res.Fingerprint {
		t.Errorf("Indexer got fingerprint %q, want %q", idx.fingerprints[0], res.Fingerprint)
	}
}

func TestNewServiceWithFs_NilSettings(t *testing.T) {
	if _, err := NewServiceWithFs(afero.NewMemMapFs(), nil); err == nil {
		t.Error("Expected error for nil settings")
	}
}
