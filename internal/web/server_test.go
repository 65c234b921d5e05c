package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
)

// fakeTarget records statements. When gate is set, the first INSERT signals
// started and waits for gate to close.
type fakeTarget struct {
	columns map[string][]string

	mu      sync.Mutex
	log     []string
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

func newFakeTarget(columns map[string][]string) *fakeTarget {
	return &fakeTarget{columns: columns}
}

func (f *fakeTarget) blockFirstInsert() {
	f.gate = make(chan struct{})
	f.started = make(chan struct{})
}

func (f *fakeTarget) UserColumns(ctx context.Context, table string) ([]string, error) {
	return f.columns[table], nil
}

func (f *fakeTarget) Begin(ctx context.Context) (core.Session, error) {
	return &fakeSession{target: f}, nil
}

func (f *fakeTarget) Savepoints() core.SavepointDialect { return core.StandardSavepoints }

func (f *fakeTarget) statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

type fakeSession struct {
	target *fakeTarget
}

func (s *fakeSession) ExecSQL(ctx context.Context, stmt string) (int64, error) {
	f := s.target
	if f.gate != nil && strings.HasPrefix(stmt, "INSERT") {
		first := false
		f.once.Do(func() { first = true })
		if first {
			close(f.started)
			<-f.gate
		}
	}
	f.mu.Lock()
	f.log = append(f.log, stmt)
	f.mu.Unlock()
	return 1, nil
}

func (s *fakeSession) Commit(ctx context.Context) error   { return nil }
func (s *fakeSession) Rollback(ctx context.Context) error { return nil }

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite"},
		Import: config.ImportConfig{
			MaxFileSize:     1 << 10,
			MaxConcurrent:   2,
			MaxWaitTime:     100 * time.Millisecond,
			Timeout:         time.Minute,
			PreviewRows:     2,
			ResultRetention: time.Minute,
			UploadDir:       t.TempDir(),
			Separator:       ",",
			LineTerminator:  "LF",
			Enclosure:       `"`,
			NullKeyword:     "NO",
			Encoding:        "UTF-8",
			HeaderOnTop:     true,
		},
	}
}

func newTestServer(t *testing.T, target *fakeTarget, cfg *config.Config, opts ...Option) *Server {
	t.Helper()
	svc, err := core.NewService(target, cfg)
	if err != nil {
		t.Fatal(err)
	}
	profiles := config.Profiles{
		"semi": {Name: "semi", Separator: ";", LineTerminator: "LF", Enclosure: `"`, NullKeyword: "NO", Encoding: "UTF-8"},
	}
	srv := NewServer(svc, cfg, profiles, opts...)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv
}

// form builds a multipart body with an optional "file" part.
func form(t *testing.T, fields map[string]string, file string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if file != "" {
		fw, err := mw.CreateFormFile("file", "people.csv")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(file))
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, srv *Server, method, path string, fields map[string]string, file string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if method == http.MethodPost {
		body, ct := form(t, fields, file)
		req = httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", ct)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func startImport(t *testing.T, srv *Server, table, file string) string {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/imports", map[string]string{"table": table}, file)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start import: status %d, body %s", rec.Code, rec.Body)
	}
	return decode[map[string]string](t, rec)["import_id"]
}

func waitResult(t *testing.T, srv *Server, id string) core.Result {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := do(t, srv, http.MethodGet, "/api/imports/"+id+"/result", nil, "")
		if rec.Code == http.StatusOK {
			return decode[core.Result](t, rec)
		}
		if rec.Code != http.StatusAccepted {
			t.Fatalf("result: status %d, body %s", rec.Code, rec.Body)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("import did not finish")
	return core.Result{}
}

func TestHealth(t *testing.T) {
	target := newFakeTarget(nil)

	srv := newTestServer(t, target, testConfig(t), WithHealthCheck(fakePinger{}))
	if rec := do(t, srv, http.MethodGet, "/healthz", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("healthy: status %d", rec.Code)
	}

	srv = newTestServer(t, target, testConfig(t), WithHealthCheck(fakePinger{err: errors.New("down")}))
	if rec := do(t, srv, http.MethodGet, "/healthz", nil, ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy: status %d", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, newFakeTarget(nil), testConfig(t))
	rec := do(t, srv, http.MethodGet, "/healthz", nil, "")

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

func TestTableColumns(t *testing.T) {
	srv := newTestServer(t, newFakeTarget(map[string][]string{"people": {"id", "name"}}), testConfig(t))

	rec := do(t, srv, http.MethodGet, "/api/tables/people/columns", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	got := decode[struct {
		Table   string   `json:"table"`
		Columns []string `json:"columns"`
	}](t, rec)
	if got.Table != "people" || strings.Join(got.Columns, ",") != "id,name" {
		t.Errorf("response = %+v", got)
	}
}

func TestHeader(t *testing.T) {
	srv := newTestServer(t, newFakeTarget(nil), testConfig(t))

	tests := []struct {
		name   string
		fields map[string]string
		file   string
		want   string
	}{
		{"default dialect", nil, "id,name\n1,a\n", "id|name"},
		{"profile", map[string]string{"profile": "semi"}, "id;name\n1;a\n", "id|name"},
		{"inline dialect", map[string]string{"dialect": `{"separator":"TAB"}`}, "id\tname\n", "id|name"},
		{"no header", map[string]string{"dialect": `{"header_on_top":false}`}, "1,a,b\n", "Column1|Column2|Column3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/header", tt.fields, tt.file)
			if rec.Code != http.StatusOK {
				t.Fatalf("status %d, body %s", rec.Code, rec.Body)
			}
			got := decode[struct {
				File   string   `json:"file"`
				Header []string `json:"header"`
			}](t, rec)
			if strings.Join(got.Header, "|") != tt.want {
				t.Errorf("header = %q, want %s", got.Header, tt.want)
			}
			if got.File != "people.csv" {
				t.Errorf("file = %q", got.File)
			}
		})
	}
}

func TestHeader_RequestErrors(t *testing.T) {
	cfg := testConfig(t)
	srv := newTestServer(t, newFakeTarget(nil), cfg)

	tests := []struct {
		name   string
		fields map[string]string
		file   string
		status int
		code   string
	}{
		{"no file", nil, "", http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown profile", map[string]string{"profile": "nope"}, "a\n", http.StatusBadRequest, "BAD_REQUEST"},
		{"bad dialect json", map[string]string{"dialect": "{"}, "a\n", http.StatusBadRequest, "BAD_REQUEST"},
		{"invalid dialect", map[string]string{"dialect": `{"separator":"x"}`}, "a\n", http.StatusBadRequest, "BAD_REQUEST"},
		{"empty file", nil, "\n", http.StatusUnprocessableEntity, "CSV001"},
		{"too large", nil, strings.Repeat("a,b\n", 300), http.StatusRequestEntityTooLarge, "FILE002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/header", tt.fields, tt.file)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body)
			}
			if got := decode[ErrorResponse](t, rec); got.Code != tt.code {
				t.Errorf("code = %q, want %q", got.Code, tt.code)
			}
		})
	}

	entries, err := os.ReadDir(cfg.Import.UploadDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("upload dir still holds %d files", len(entries))
	}
}

func TestPreview(t *testing.T) {
	srv := newTestServer(t, newFakeTarget(map[string][]string{"people": {"id", "name"}}), testConfig(t))

	rec := do(t, srv, http.MethodPost, "/api/preview", nil, "id,name\n1,a\n")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing table: status %d", rec.Code)
	}

	rec = do(t, srv, http.MethodPost, "/api/preview", map[string]string{"table": "people"}, "id,name\n1,a\n2,b\n3,c\n")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body)
	}
	got := decode[core.Preview](t, rec)
	if got.Path != "people.csv" {
		t.Errorf("path = %q, want the uploaded file name", got.Path)
	}
	if len(got.Rows) != 2 {
		t.Errorf("rows = %d, want PreviewRows", len(got.Rows))
	}
	if strings.Join(got.Mapping, ",") != "id,name" {
		t.Errorf("mapping = %q", got.Mapping)
	}
}

func TestImport_Commits(t *testing.T) {
	cfg := testConfig(t)
	target := newFakeTarget(map[string][]string{"people": {"id", "name"}})
	srv := newTestServer(t, target, cfg)

	id := startImport(t, srv, "people", "id,name\n1,a\n2,b\n")
	result := waitResult(t, srv, id)

	if result.State != core.StateCommitted || result.Executed != 2 {
		t.Fatalf("result = %+v", result)
	}
	if strings.ContainsRune(result.Path, os.PathSeparator) {
		t.Errorf("result exposes server path %q", result.Path)
	}

	stmts := target.statements()
	if len(stmts) != 4 || !strings.HasPrefix(stmts[0], "SAVEPOINT ") || !strings.HasPrefix(stmts[3], "RELEASE SAVEPOINT ") {
		t.Errorf("statements = %q", stmts)
	}

	srv.uploads.Wait()
	entries, _ := os.ReadDir(cfg.Import.UploadDir)
	if len(entries) != 0 {
		t.Errorf("upload not removed after import: %d files", len(entries))
	}
}

func TestImport_ExplicitMapping(t *testing.T) {
	target := newFakeTarget(map[string][]string{"people": {"id", "name"}})
	srv := newTestServer(t, target, testConfig(t))

	rec := do(t, srv, http.MethodPost, "/api/imports",
		map[string]string{"table": "people", "mapping": `["", "name"]`}, "x,y\n1,a\n")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body)
	}
	id := decode[map[string]string](t, rec)["import_id"]
	if result := waitResult(t, srv, id); result.State != core.StateCommitted {
		t.Fatalf("result = %+v", result)
	}

	want := `INSERT INTO "people" ("name") VALUES ('a');`
	found := false
	for _, s := range target.statements() {
		found = found || s == want
	}
	if !found {
		t.Errorf("statements = %q, want %s", target.statements(), want)
	}

	rec = do(t, srv, http.MethodPost, "/api/imports",
		map[string]string{"table": "people", "mapping": "not json"}, "x,y\n1,a\n")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad mapping: status %d", rec.Code)
	}
}

func TestImport_FailureReportsCode(t *testing.T) {
	srv := newTestServer(t, newFakeTarget(map[string][]string{"people": {"id"}}), testConfig(t))

	id := startImport(t, srv, "people", "id\n")
	result := waitResult(t, srv, id)

	if result.ErrorCode != "IMP001" {
		t.Errorf("ErrorCode = %q, want IMP001 for a header-only file", result.ErrorCode)
	}
}

func TestImport_CancelAndBusy(t *testing.T) {
	target := newFakeTarget(map[string][]string{"people": {"id"}})
	target.blockFirstInsert()
	srv := newTestServer(t, target, testConfig(t))

	id := startImport(t, srv, "people", "id\n1\n2\n3\n")
	<-target.started

	// Still running: result reports progress with 202.
	rec := do(t, srv, http.MethodGet, "/api/imports/"+id+"/result", nil, "")
	if rec.Code != http.StatusAccepted {
		t.Errorf("running result: status %d", rec.Code)
	}

	rec = do(t, srv, http.MethodPost, "/api/imports", map[string]string{"table": "people"}, "id\n9\n")
	if rec.Code != http.StatusConflict || decode[ErrorResponse](t, rec).Code != "IMP003" {
		t.Errorf("second import: status %d, body %s", rec.Code, rec.Body)
	}

	rec = do(t, srv, http.MethodGet, "/api/imports", nil, "")
	if list := decode[[]core.Progress](t, rec); len(list) != 1 || list[0].ImportID != id {
		t.Errorf("imports = %+v", list)
	}

	rec = do(t, srv, http.MethodPost, "/api/imports/"+id+"/cancel", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: status %d", rec.Code)
	}
	close(target.gate)

	result := waitResult(t, srv, id)
	if result.State != core.StateRolledBack || result.ErrorCode != "IMP002" {
		t.Errorf("result = %+v", result)
	}
}

func TestImport_NoWait(t *testing.T) {
	target := newFakeTarget(map[string][]string{"people": {"id"}, "pets": {"id"}})
	target.blockFirstInsert()
	cfg := testConfig(t)
	cfg.Import.MaxConcurrent = 1
	srv := newTestServer(t, target, cfg)

	id := startImport(t, srv, "people", "id\n1\n")
	<-target.started

	rec := do(t, srv, http.MethodPost, "/api/imports", map[string]string{"table": "pets", "wait": "false"}, "id\n2\n")
	if rec.Code != http.StatusServiceUnavailable || decode[ErrorResponse](t, rec).Code != "IMP004" {
		t.Errorf("no-wait import: status %d, body %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	rec = do(t, srv, http.MethodPost, "/api/imports", map[string]string{"table": "pets", "wait": "soon"}, "id\n2\n")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid wait: status %d", rec.Code)
	}

	close(target.gate)
	if result := waitResult(t, srv, id); result.State != core.StateCommitted {
		t.Errorf("first import = %+v", result)
	}
}

func TestImport_NotFound(t *testing.T) {
	srv := newTestServer(t, newFakeTarget(nil), testConfig(t))

	for _, path := range []string{"/api/imports/nope/result", "/api/imports/nope/progress"} {
		rec := do(t, srv, http.MethodGet, path, nil, "")
		if rec.Code != http.StatusNotFound || decode[ErrorResponse](t, rec).Code != "IMP005" {
			t.Errorf("%s: status %d, body %s", path, rec.Code, rec.Body)
		}
	}
	rec := do(t, srv, http.MethodPost, "/api/imports/nope/cancel", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("cancel: status %d", rec.Code)
	}
}

func TestProgressStream(t *testing.T) {
	srv := newTestServer(t, newFakeTarget(map[string][]string{"people": {"id"}}), testConfig(t))
	id := startImport(t, srv, "people", "id\n1\n2\n")
	waitResult(t, srv, id)

	tests := []struct {
		name  string
		query string
	}{
		{"fresh", ""},
		// The final event is delivered even when its percent was seen.
		{"resumed", "?lastEventId=100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodGet, "/api/imports/"+id+"/progress"+tt.query, nil, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status %d", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
				t.Errorf("Content-Type = %q", ct)
			}
			body := rec.Body.String()
			for _, want := range []string{"id: 100\nevent: progress\n", `"done":true`, `"success":true`, "event: complete\n"} {
				if !strings.Contains(body, want) {
					t.Errorf("stream missing %q:\n%s", want, body)
				}
			}
		})
	}
}

func TestProfilesAndStatus(t *testing.T) {
	srv := newTestServer(t, newFakeTarget(nil), testConfig(t))

	rec := do(t, srv, http.MethodGet, "/api/profiles", nil, "")
	got := decode[struct {
		Default  config.Profile   `json:"default"`
		Profiles []config.Profile `json:"profiles"`
	}](t, rec)
	if len(got.Profiles) != 1 || got.Profiles[0].Name != "semi" || got.Default.Separator != "," {
		t.Errorf("profiles = %+v", got)
	}

	rec = do(t, srv, http.MethodGet, "/api/status", nil, "")
	status := decode[map[string]any](t, rec)
	if status["driver"] != "sqlite" || status["imports"] != float64(0) {
		t.Errorf("status = %v", status)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	srv := newTestServer(t, newFakeTarget(nil), cfg)

	for i := 1; i <= 3; i++ {
		rec := do(t, srv, http.MethodGet, "/api/status", nil, "")
		want := http.StatusOK
		if i == 3 {
			want = http.StatusTooManyRequests
		}
		if rec.Code != want {
			t.Errorf("request %d: status %d, want %d", i, rec.Code, want)
		}
	}
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	srv := newTestServer(t, newFakeTarget(nil), cfg)

	if rec := do(t, srv, http.MethodGet, "/api/status", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/healthz", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("healthz: status %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with key: status %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", core.ErrImportNotFound), http.StatusNotFound},
		{core.ErrTableBusy, http.StatusConflict},
		{core.ErrTooManyImports, http.StatusServiceUnavailable},
		{&core.FileAccessError{Path: "f", Err: core.ErrFileTooLarge}, http.StatusRequestEntityTooLarge},
		{&core.FileAccessError{Path: "f", Err: os.ErrNotExist}, http.StatusBadRequest},
		{&core.FormatError{Reason: "empty"}, http.StatusUnprocessableEntity},
		{&core.SchemaMismatchError{Table: "t", Duplicates: []string{"a"}}, http.StatusUnprocessableEntity},
		{&core.EmptyImportError{Table: "t"}, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
