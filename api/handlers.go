// Package api exposes the oracle's read-only status surface over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/relaypulse/relaypulse/anchor"
	"github.com/relaypulse/relaypulse/common"
	"github.com/relaypulse/relaypulse/epoch"
	"github.com/relaypulse/relaypulse/ledger"
	"github.com/relaypulse/relaypulse/log"
	"github.com/relaypulse/relaypulse/oracle"
)

// Handler contains the HTTP handlers for the status API endpoints
type Handler struct {
	Ledger      *ledger.Ledger
	Anchor      *anchor.Anchor
	Coordinator *oracle.Coordinator
}

// NewHandler creates and returns a new Handler instance
func NewHandler(l *ledger.Ledger, a *anchor.Anchor, c *oracle.Coordinator) *Handler {
	return &Handler{Ledger: l, Anchor: a, Coordinator: c}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Status reports the pool totals and the last heartbeat cycle.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"relays":        h.Ledger.RelayCount(),
		"balance":       h.Ledger.Balance().Dec(),
		"totalStake":    h.Ledger.TotalStake().Dec(),
		"totalReleased": h.Ledger.TotalReleased().Dec(),
		"distributable": h.Ledger.DistributableFunds().Dec(),
		"lastEpoch":     uint64(h.Anchor.EpochID()),
	}
	if report, ok := h.Coordinator.LastReport(); ok {
		resp["lastCycle"] = report
	}
	writeJSON(w, http.StatusOK, resp)
}

// Root returns the published commitment for an epoch.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["epoch"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid epoch")
		return
	}
	root := h.Anchor.Roots(epoch.Epoch(id))
	if common.IsNilHash(root) {
		writeError(w, http.StatusNotFound, "no root published for epoch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"epoch": id,
		"root":  root.Hex(),
	})
}

// Relays lists the directory.
func (h *Handler) Relays(w http.ResponseWriter, r *http.Request) {
	n := h.Ledger.RelayCount()
	relays := make([]map[string]string, 0, n)
	for i := 0; i < n; i++ {
		addr, ok := h.Ledger.RelayAt(i)
		if !ok {
			continue
		}
		url, _ := h.Ledger.RelayURL(addr)
		relays = append(relays, map[string]string{
			"address": addr.Hex(),
			"url":     url,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(relays),
		"relays": relays,
	})
}

// Relay returns one relay's ledger record.
func (h *Handler) Relay(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["addr"]
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid relay address")
		return
	}
	record, ok := h.Ledger.Record(common.HexToAddress(raw))
	if !ok {
		writeError(w, http.StatusNotFound, "relay not registered")
		return
	}
	log.Trace(log.APIMonitoring, "relay queried", "relay", record.Address.String_short())
	writeJSON(w, http.StatusOK, record)
}
