package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pawmatch/pawsync/internal/metrics"
)

// ─── labelCounter ─────────────────────────────────────────────────────────────

func TestRegistry_MessageCounters(t *testing.T) {
	var reg metrics.Registry

	reg.Ingested.Inc("match-1")
	reg.Ingested.Inc("match-1")
	reg.Ingested.Add("match-1", 3)

	got := int64(0)
	reg.Ingested.Each(func(k string, v int64) {
		if k == "match-1" {
			got = v
		}
	})
	if got != 5 {
		t.Fatalf("Ingested count = %d, want 5", got)
	}
}

func TestRegistry_HTTPCounters(t *testing.T) {
	var reg metrics.Registry

	reqKey := metrics.HTTPKey("POST", "/v1/outbox/sync", "200")
	durKey := metrics.HTTPDurKey("POST", "/v1/outbox/sync")

	reg.HTTPReqs.Inc(reqKey)
	reg.HTTPReqs.Inc(reqKey)
	reg.HTTPDurMs.Add(durKey, 42)
	reg.HTTPDurMs.Add(durKey, 18)
	reg.HTTPDurCnt.Inc(durKey)
	reg.HTTPDurCnt.Inc(durKey)

	reqCount := int64(0)
	reg.HTTPReqs.Each(func(k string, v int64) {
		if k == reqKey {
			reqCount = v
		}
	})
	if reqCount != 2 {
		t.Fatalf("HTTPReqs count = %d, want 2", reqCount)
	}

	durSum := int64(0)
	reg.HTTPDurMs.Each(func(k string, v int64) {
		if k == durKey {
			durSum = v
		}
	})
	if durSum != 60 {
		t.Fatalf("HTTPDurMs sum = %d, want 60", durSum)
	}
}

// ─── Prometheus exposition ────────────────────────────────────────────────────

func TestRegistry_Handler(t *testing.T) {
	var reg metrics.Registry
	reg.Ingested.Add("match-1", 7)
	reg.Rejected.Inc("match-2")
	reg.HTTPReqs.Inc(metrics.HTTPKey("GET", "/health", "200"))

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`pawsync_messages_ingested_total{match="match-1"} 7`,
		`pawsync_messages_rejected_total{match="match-2"} 1`,
		`pawsync_http_requests_total{method="GET",path="/health",status="200"} 1`,
		"# TYPE pawsync_messages_ingested_total counter",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q\n---\n%s", want, text)
		}
	}

	// Families with no observations are omitted entirely.
	if strings.Contains(text, "pawsync_messages_pushed_total") {
		t.Error("empty family rendered")
	}
}
