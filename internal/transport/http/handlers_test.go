package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/pawmatch/pawsync/internal/config"
	"github.com/pawmatch/pawsync/internal/exchange"
	"github.com/pawmatch/pawsync/internal/ident"
	transphttp "github.com/pawmatch/pawsync/internal/transport/http"
	"github.com/pawmatch/pawsync/internal/types"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) http.Handler {
	t.Helper()
	cfg := config.Default()
	cfg.Node.DataDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	ex, err := exchange.Open(filepath.Join(cfg.Node.DataDir, "exchange.db"),
		cfg.Limits.MaxBatchSize, cfg.Limits.MaxMessageSizeKB)
	if err != nil {
		t.Fatalf("exchange.Open: %v", err)
	}
	t.Cleanup(func() { _ = ex.Close() })

	srv := transphttp.New(ex, cfg, "test-node", nil)
	return srv.Handler()
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &reqBody)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeResp(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v, body: %s", err, rr.Body.String())
	}
}

func syncItem(t *testing.T, matchID, body string) types.OutboxItem {
	t.Helper()
	return types.OutboxItem{
		ID:       ident.MustNewID(),
		MatchID:  matchID,
		SenderID: "owner-1",
		Body:     []byte(body),
		QueuedAt: time.Now().UnixMilli(),
	}
}

// ─── Health ───────────────────────────────────────────────────────────────────

func TestHTTP_Health(t *testing.T) {
	h := newTestServer(t, nil)
	rr := doRequest(t, h, "GET", "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health: want 200, got %d — body: %s", rr.Code, rr.Body)
	}
	var resp map[string]any
	decodeResp(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("health status: want ok, got %v", resp["status"])
	}
	if resp["node_id"] != "test-node" {
		t.Errorf("health node_id: want test-node, got %v", resp["node_id"])
	}
}

// ─── Sync ─────────────────────────────────────────────────────────────────────

func TestHTTP_SyncOutbox(t *testing.T) {
	h := newTestServer(t, nil)

	items := []types.OutboxItem{syncItem(t, "m1", "woof"), syncItem(t, "m1", "borf")}
	rr := doRequest(t, h, "POST", "/v1/outbox/sync", types.SyncRequest{Items: items})
	if rr.Code != http.StatusOK {
		t.Fatalf("sync: want 200, got %d — body: %s", rr.Code, rr.Body)
	}

	var res types.BatchResult
	decodeResp(t, rr, &res)
	if !res.Success || res.Synced != 2 || res.Failed != 0 {
		t.Fatalf("sync result = %+v, want success 2/0", res)
	}

	// The messages are now visible in the match history.
	rr = doRequest(t, h, "GET", "/v1/matches/m1/messages", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("messages: want 200, got %d", rr.Code)
	}
	var hist struct {
		Messages []exchange.Message `json:"messages"`
	}
	decodeResp(t, rr, &hist)
	if len(hist.Messages) != 2 {
		t.Fatalf("history has %d messages, want 2", len(hist.Messages))
	}
}

func TestHTTP_SyncOutbox_PartialRejection(t *testing.T) {
	h := newTestServer(t, nil)

	bad := types.OutboxItem{ID: "not-a-ulid", MatchID: "m1", SenderID: "owner-1", Body: []byte("x")}
	items := []types.OutboxItem{syncItem(t, "m1", "fine"), bad}
	rr := doRequest(t, h, "POST", "/v1/outbox/sync", types.SyncRequest{Items: items})
	if rr.Code != http.StatusOK {
		t.Fatalf("sync: want 200, got %d — body: %s", rr.Code, rr.Body)
	}

	var res types.BatchResult
	decodeResp(t, rr, &res)
	if res.Synced != 1 || res.Failed != 1 {
		t.Fatalf("sync result = %+v, want 1 synced / 1 failed", res)
	}
	if res.Results[1].Error == "" {
		t.Error("rejected item has no reason")
	}
}

func TestHTTP_SyncOutbox_BatchTooLarge(t *testing.T) {
	h := newTestServer(t, func(cfg *config.Config) { cfg.Limits.MaxBatchSize = 1 })

	items := []types.OutboxItem{syncItem(t, "m1", "a"), syncItem(t, "m1", "b")}
	rr := doRequest(t, h, "POST", "/v1/outbox/sync", types.SyncRequest{Items: items})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("oversized batch: want 400, got %d — body: %s", rr.Code, rr.Body)
	}
}

func TestHTTP_SyncOutbox_InvalidJSON(t *testing.T) {
	h := newTestServer(t, nil)
	req := httptest.NewRequest("POST", "/v1/outbox/sync", bytes.NewBufferString("{nope"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid json: want 400, got %d", rr.Code)
	}
}

func TestHTTP_SyncOutbox_MetadataLimits(t *testing.T) {
	h := newTestServer(t, nil)

	it := syncItem(t, "m1", "hello")
	it.Metadata = map[string]string{"photo": string(make([]byte, 1024))}
	rr := doRequest(t, h, "POST", "/v1/outbox/sync", types.SyncRequest{Items: []types.OutboxItem{it}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("oversized metadata value: want 400, got %d — body: %s", rr.Code, rr.Body)
	}
}

// ─── Match history ────────────────────────────────────────────────────────────

func TestHTTP_MatchMessages_LimitAndValidation(t *testing.T) {
	h := newTestServer(t, nil)

	var items []types.OutboxItem
	for i := 0; i < 5; i++ {
		items = append(items, syncItem(t, "m1", "msg"))
	}
	doRequest(t, h, "POST", "/v1/outbox/sync", types.SyncRequest{Items: items})

	rr := doRequest(t, h, "GET", "/v1/matches/m1/messages?limit=2", nil)
	var hist struct {
		Messages []exchange.Message `json:"messages"`
	}
	decodeResp(t, rr, &hist)
	if len(hist.Messages) != 2 {
		t.Errorf("limited history has %d messages, want 2", len(hist.Messages))
	}

	if rr := doRequest(t, h, "GET", "/v1/matches/m1/messages?limit=-1", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("negative limit: want 400, got %d", rr.Code)
	}
	if rr := doRequest(t, h, "GET", "/v1/matches/..%2Fetc/messages", nil); rr.Code == http.StatusOK {
		t.Errorf("traversal-ish match id accepted")
	}
}

func TestHTTP_MatchMessages_EmptyIsArray(t *testing.T) {
	h := newTestServer(t, nil)
	rr := doRequest(t, h, "GET", "/v1/matches/lonely/messages", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("messages: want 200, got %d", rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte(`"messages":[]`)) {
		t.Errorf("empty history not rendered as []: %s", rr.Body)
	}
}

// ─── Auth ─────────────────────────────────────────────────────────────────────

func TestHTTP_AuthRequired(t *testing.T) {
	h := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.Enabled = true
		cfg.Auth.APIKey = "s3cret"
	})

	rr := doRequest(t, h, "GET", "/health", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no key: want 401, got %d", rr.Code)
	}

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Api-Key", "s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with key: want 200, got %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Api-Key", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: want 401, got %d", rec.Code)
	}
}

// ─── Stats ────────────────────────────────────────────────────────────────────

func TestHTTP_Stats(t *testing.T) {
	h := newTestServer(t, nil)
	doRequest(t, h, "POST", "/v1/outbox/sync",
		types.SyncRequest{Items: []types.OutboxItem{syncItem(t, "m1", "hi")}})

	rr := doRequest(t, h, "GET", "/api/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("stats: want 200, got %d", rr.Code)
	}
	var st exchange.Stats
	decodeResp(t, rr, &st)
	if st.Messages != 1 {
		t.Errorf("stats messages = %d, want 1", st.Messages)
	}
}
