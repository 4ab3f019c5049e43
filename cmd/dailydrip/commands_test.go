package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kalambet/dailydrip/internal/config"
	"github.com/kalambet/dailydrip/internal/engine"
	"github.com/kalambet/dailydrip/internal/rag"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// useClient points every command at c for the duration of the test.
func useClient(t *testing.T, c *apiClient) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return c, nil }
	t.Cleanup(func() { newAPIClient = old })
}

// resetFlags restores every flag of cmd and its children to its default so
// tests sharing rootCmd do not leak state.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		resetFlags(rootCmd)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

// localEnv points config at a scratch persist dir with the hash engine.
func localEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DAILYDRIP_CONFIG", filepath.Join(dir, "config.toml"))
	t.Setenv("DAILYDRIP_STORAGE_PERSIST_DIR", filepath.Join(dir, "data"))
	t.Setenv("DAILYDRIP_ENGINE_KIND", engine.KindHash)
	t.Setenv("DAILYDRIP_ENGINE_DIMENSION", "64")
	t.Setenv("DAILYDRIP_LOG_LEVEL", "error")
	return dir
}

const brewLog = `[
 {"id":"r1","bean":{"name":"Guji Hambela","origin":"Ethiopia","process":"washed"},"brewing":{"brewer":"V60","temperature":93},"evaluation":{"liking":8}},
 {"id":"r2","bean":{"name":"Huila Supremo","origin":"Colombia"},"brewing":{"brewer":"Kalita"},"access":"private","user_id":"u1"},
 {"id":"r3","bean":{"name":"Kiambu AA"},"access":"secret"}
]`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

var ctx = context.Background()

func TestIngestCommand_MissingArgs(t *testing.T) {
	_, err := execute(t, "ingest")
	if err == nil {
		t.Fatal("expected error for missing brew log argument")
	}
}

func TestIngestCommand_WritesRecords(t *testing.T) {
	dir := localEnv(t)
	in := writeFile(t, dir, "brews.json", brewLog)
	out := filepath.Join(dir, "records.jsonl")

	if _, err := execute(t, "ingest", in, "--out", out); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Errorf("got %d records, want 2 (malformed access skipped)", len(lines))
	}
}

func TestBuildThenQuery_Local(t *testing.T) {
	dir := localEnv(t)
	in := writeFile(t, dir, "brews.json", brewLog)

	if _, err := execute(t, "build", in); err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "artifacts", "chunks.jsonl")); err != nil {
		t.Errorf("chunks artifact missing: %v", err)
	}

	out, err := execute(t, "query", "--json", "Guji", "Hambela", "Ethiopia")
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	var resp rag.Response
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decoding output %q: %v", out, err)
	}
	if resp.Query != "Guji Hambela Ethiopia" {
		t.Errorf("Query = %q", resp.Query)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "r1" {
		t.Errorf("results = %+v, want only public r1", resp.Results)
	}
}

func TestQueryCommand_Remote(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /rag": `{"query":"washed gesha","results":[{"rank":1,"id":"b1","distance":0.1,"bean_text":"Gesha, Panama","bean":{},"brewing":{"pours":[]},"evaluation":null}]}`,
	})
	useClient(t, ts.client())

	out, err := execute(t, "query", "--remote", "--k", "2", "--rerank", "--user", "alice", "washed", "gesha")
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	var sent map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &sent); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if sent["query"] != "washed gesha" || sent["k"] != float64(2) || sent["use_evaluation_reranking"] != true || sent["user_id"] != "alice" {
		t.Errorf("unexpected request body: %v", sent)
	}
	if _, ok := sent["similarity_weight"]; ok {
		t.Error("unset weight should not be sent")
	}
	if !strings.Contains(out, "b1") || !strings.Contains(out, "Gesha, Panama") {
		t.Errorf("output missing result: %q", out)
	}
}

func TestQueryFromFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		check   func(t *testing.T, q rag.Query)
	}{
		{
			name:    "nothing to query",
			args:    nil,
			wantErr: true,
		},
		{
			name: "bean json",
			args: []string{"--bean", `{"name":"Gesha","origin":"Panama"}`},
			check: func(t *testing.T, q rag.Query) {
				if q.Bean["name"] != "Gesha" || q.Bean["origin"] != "Panama" {
					t.Errorf("Bean = %v", q.Bean)
				}
				if q.K != nil || q.SimilarityWeight != nil || q.RetrievalMultiplier != nil {
					t.Error("unset numeric flags should stay nil")
				}
			},
		},
		{
			name:    "bad bean json",
			args:    []string{"--bean", `[1,2]`},
			wantErr: true,
		},
		{
			name: "explicit numbers",
			args: []string{"--weight", "0.5", "--multiplier", "4", "--k", "7", "text"},
			check: func(t *testing.T, q rag.Query) {
				if q.SimilarityWeight == nil || *q.SimilarityWeight != 0.5 {
					t.Errorf("SimilarityWeight = %v", q.SimilarityWeight)
				}
				if q.RetrievalMultiplier == nil || *q.RetrievalMultiplier != 4 {
					t.Errorf("RetrievalMultiplier = %v", q.RetrievalMultiplier)
				}
				if q.K == nil || *q.K != 7 {
					t.Errorf("K = %v", q.K)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "query"}
			addQueryFlags(cmd)
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("parse: %v", err)
			}
			q, err := queryFromFlags(cmd, cmd.Flags().Args())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, q)
		})
	}
}

func TestQueryFromFlags_RecordFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rec.json", `{"bean":{"name":"Gesha"}}`)
	cmd := &cobra.Command{Use: "query"}
	addQueryFlags(cmd)
	if err := cmd.ParseFlags([]string{"--record", path}); err != nil {
		t.Fatal(err)
	}

	q, err := queryFromFlags(cmd, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bean, _ := q.Record["bean"].(map[string]any)
	if bean["name"] != "Gesha" {
		t.Errorf("Record = %v", q.Record)
	}
}

func TestSubmitCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /admin/ingest": `{"id":"job-1","status":"queued"}`,
	})
	useClient(t, ts.client())
	path := writeFile(t, t.TempDir(), "brews.csv", "id,bean_name\nb1,Gesha\n")

	if _, err := execute(t, "submit", path); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	req := ts.requests[0]
	if req.Path != "/admin/ingest" || req.Auth != "Bearer test-token" {
		t.Errorf("request = %s %s", req.Path, req.Auth)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if body["source"] != "brews.csv" || body["encoding"] != "base64" {
		t.Errorf("body = %v", body)
	}
	decoded, _ := base64.StdEncoding.DecodeString(body["content"])
	if string(decoded) != "id,bean_name\nb1,Gesha\n" {
		t.Errorf("content = %q", decoded)
	}
}

func TestSubmitCommand_NoToken(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.client()
	c.token = ""
	useClient(t, c)
	path := writeFile(t, t.TempDir(), "brews.csv", "id\n")

	if _, err := execute(t, "submit", path); err == nil {
		t.Fatal("expected error without admin token")
	}
	if len(ts.requests) != 0 {
		t.Error("no request should be sent without a token")
	}
}

func TestBuildsCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /admin/builds": `[{"id":"b-1","status":"completed","source":"brews.csv","rows":3,"records":3,"added":3,"started_at":"2026-01-02T10:00:00Z","finished_at":"2026-01-02T10:00:01Z"},
			{"id":"b-2","status":"failed","source":"bad.csv","error":"store unavailable","started_at":"2026-01-02T11:00:00Z","finished_at":"2026-01-02T11:00:00Z"}]`,
	})
	useClient(t, ts.client())

	out, err := execute(t, "--no-color", "builds", "--limit", "5")
	if err != nil {
		t.Fatalf("builds: %v", err)
	}

	if ts.requests[0].Path != "/admin/builds?limit=5" {
		t.Errorf("path = %s", ts.requests[0].Path)
	}
	for _, want := range []string{"b-1", "brews.csv", "b-2", "store unavailable"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
}

func TestBuildsShow_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	useClient(t, ts.client())

	_, err := execute(t, "builds", "show", "missing")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestJobCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /admin/jobs/job-1": `{"id":"job-1","status":"completed","attempts":1,"max_attempts":3,"build_id":"b-1"}`,
	})
	useClient(t, ts.client())

	if _, err := execute(t, "job", "job-1"); err != nil {
		t.Fatalf("job: %v", err)
	}
	if ts.requests[0].Path != "/admin/jobs/job-1" {
		t.Errorf("path = %s", ts.requests[0].Path)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "hello")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	result = colorize(colorGreen, "hello")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestWriteResults(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	temp := 93.0
	score := 0.805
	var buf bytes.Buffer
	writeResults(&buf, rag.Response{
		Query: "gesha",
		Results: []rag.Result{{
			Rank:          1,
			ID:            "b1",
			Distance:      0.25,
			BeanText:      "Gesha, Panama",
			CombinedScore: &score,
		}},
	})
	out := buf.String()
	for _, want := range []string{"query: gesha", "#1 b1", "distance=0.2500", "score=0.805", "Gesha, Panama"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	writeResults(&buf, rag.Response{Query: "none"})
	if !strings.Contains(buf.String(), "no matching brews") {
		t.Errorf("empty response output = %q", buf.String())
	}

	r := rag.Result{}
	r.Brewing.Temperature = &temp
	r.Evaluation = nil
	if got := brewingLine(r); got != "93°C" {
		t.Errorf("brewingLine = %q", got)
	}
}

func TestAPIClientAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"healthy"}`,
	})

	resp, err := ts.client().get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("expected Authorization 'Bearer test-token', got %q", ts.requests[0].Auth)
	}

	c := ts.client()
	c.token = ""
	resp, err = c.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if ts.requests[1].Auth != "" {
		t.Errorf("expected no Authorization header, got %q", ts.requests[1].Auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client().get(ctx, "/nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "not_found") {
		t.Errorf("error should carry status and type, got %q", err.Error())
	}
}

func TestClientFor_ServerFlag(t *testing.T) {
	old := serverURL
	defer func() { serverURL = old }()

	cfg := config.Config{Server: config.ServerConfig{Port: 9123, AdminToken: "tok"}}

	serverURL = ""
	if c := clientFor(cfg); c.baseURL != "http://127.0.0.1:9123" || c.token != "tok" {
		t.Errorf("default client = %s %s", c.baseURL, c.token)
	}

	serverURL = "http://brew.example:8000/"
	if c := clientFor(cfg); c.baseURL != "http://brew.example:8000" {
		t.Errorf("baseURL = %s", c.baseURL)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug": "DEBUG",
		"WARN":  "WARN",
		"error": "ERROR",
		"":      "INFO",
		"bogus": "INFO",
	}
	for in, want := range tests {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestEmbedModel(t *testing.T) {
	cfg := config.Config{Engine: config.EngineConfig{Kind: engine.KindHash, EmbedModel: "nomic-embed-text"}}
	if got := embedModel(cfg); got != engine.HashModel {
		t.Errorf("hash engine model = %q", got)
	}
	cfg.Engine.Kind = engine.KindOllama
	if got := embedModel(cfg); got != "nomic-embed-text" {
		t.Errorf("ollama model = %q", got)
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "data"))

	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}

	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected error after removal")
	}
}
