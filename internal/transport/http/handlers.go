package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pawmatch/pawsync/internal/exchange"
	"github.com/pawmatch/pawsync/internal/metrics"
	"github.com/pawmatch/pawsync/internal/types"
)

// Metadata limits — enforced on every sync path.
const (
	metaMaxKeys     = 16  // max number of key/value pairs
	metaMaxKeyBytes = 64  // max bytes per key
	metaMaxValBytes = 512 // max bytes per value
)

// validateMetadata returns a non-nil error if m violates any metadata limit.
func validateMetadata(m map[string]string) error {
	if len(m) > metaMaxKeys {
		return fmt.Errorf("metadata: too many keys (max %d)", metaMaxKeys)
	}
	for k, v := range m {
		if len(k) == 0 {
			return errors.New("metadata: key must not be empty")
		}
		if len(k) > metaMaxKeyBytes {
			return fmt.Errorf("metadata: key too long (max %d bytes)", metaMaxKeyBytes)
		}
		if len(v) > metaMaxValBytes {
			return fmt.Errorf("metadata: value too long (max %d bytes)", metaMaxValBytes)
		}
	}
	return nil
}

// validMatchID returns true when id is safe to use as a storage key
// component. It rejects strings that are empty, too long, or that could
// collide with the key separator.
func validMatchID(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	if strings.ContainsAny(s, "/\\\x00") {
		return false
	}
	if s == "." || s == ".." {
		return false
	}
	return true
}

// Handler groups all HTTP request handlers around the Exchange.
type Handler struct {
	exchange *exchange.Exchange
	nodeID   string
	reg      *metrics.Registry
}

// ─── DTOs ─────────────────────────────────────────────────────────────────────

type messagesResp struct {
	Messages []exchange.Message `json:"messages"`
}

type healthResp struct {
	Status   string `json:"status"`
	NodeID   string `json:"node_id"`
	Messages int    `json:"messages"`
	Uptime   string `json:"uptime"`
	UptimeMs int64  `json:"uptime_ms"`
	Version  string `json:"version"`
}

// ─── Health ───────────────────────────────────────────────────────────────────

var startTime = time.Now()

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	st, err := h.exchange.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	elapsed := time.Since(startTime)
	writeJSON(w, http.StatusOK, healthResp{
		Status:   "ok",
		NodeID:   h.nodeID,
		Messages: st.Messages,
		Uptime:   elapsed.Round(time.Second).String(),
		UptimeMs: elapsed.Milliseconds(),
		Version:  "1.0.0",
	})
}

// ─── Sync ─────────────────────────────────────────────────────────────────────

func (h *Handler) syncOutbox(w http.ResponseWriter, r *http.Request) {
	var req types.SyncRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	for i := range req.Items {
		if err := validateMetadata(req.Items[i].Metadata); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	res, err := h.exchange.Ingest(req.Items)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, exchange.ErrBatchTooLarge) {
			code = http.StatusBadRequest
		}
		writeError(w, code, err)
		return
	}

	if h.reg != nil {
		for i, it := range req.Items {
			if i >= len(res.Results) {
				break
			}
			if res.Results[i].Sent() {
				h.reg.Ingested.Inc(it.MatchID)
			} else {
				h.reg.Rejected.Inc(it.MatchID)
			}
		}
	}
	writeJSON(w, http.StatusOK, res)
}

// ─── Match history ────────────────────────────────────────────────────────────

func (h *Handler) matchMessages(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("id")
	if !validMatchID(matchID) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid match id"})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	msgs, err := h.exchange.Messages(matchID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if msgs == nil {
		msgs = []exchange.Message{}
	}
	writeJSON(w, http.StatusOK, messagesResp{Messages: msgs})
}

// ─── Stats ────────────────────────────────────────────────────────────────────

func (h *Handler) statsAPI(w http.ResponseWriter, r *http.Request) {
	st, err := h.exchange.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ─── JSON helpers ─────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}
