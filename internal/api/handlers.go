package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/courierhq/courier/internal/archive"
	"github.com/courierhq/courier/internal/blocklist"
	"github.com/courierhq/courier/internal/intake"
	"github.com/courierhq/courier/internal/model"
	"github.com/courierhq/courier/internal/receipt"
	"github.com/courierhq/courier/internal/store"
	"github.com/courierhq/courier/internal/sweep"
)

type Handler struct {
	intake   *intake.Service
	store    store.Store
	receipts receipt.Recorder
	blocked  blocklist.Manager
	sweeper  *sweep.Sweeper
	archiver archive.Archiver // nil when archiving is disabled
}

func NewHandler(in *intake.Service, st store.Store, rec receipt.Recorder, bl blocklist.Manager, sw *sweep.Sweeper, ar archive.Archiver) *Handler {
	return &Handler{intake: in, store: st, receipts: rec, blocked: bl, sweeper: sw, archiver: ar}
}

type enqueueRequest struct {
	Recipient        string   `json:"recipient"`
	Body             string   `json:"body"`
	Channel          string   `json:"channel"`
	FallbackChannels []string `json:"fallback_channels"`
	MaxAttempts      int      `json:"max_attempts"`
}

type messageView struct {
	ID               string   `json:"id"`
	Recipient        string   `json:"recipient"`
	Body             string   `json:"body"`
	Channel          string   `json:"channel"`
	FallbackChannels []string `json:"fallback_channels,omitempty"`
	State            string   `json:"state"`
	Attempts         int      `json:"attempts"`
	MaxAttempts      int      `json:"max_attempts"`
	LastError        string   `json:"last_error,omitempty"`
	CreatedAt        string   `json:"created_at"`
	SentAt           string   `json:"sent_at,omitempty"`
	ConfirmedAt      string   `json:"confirmed_at,omitempty"`
}

func viewOf(m *model.Message) messageView {
	v := messageView{
		ID:               m.ID,
		Recipient:        m.Recipient,
		Body:             m.Body,
		Channel:          m.Channel,
		FallbackChannels: m.FallbackChannels,
		State:            string(m.State),
		Attempts:         m.Attempts,
		MaxAttempts:      m.MaxAttempts,
		LastError:        m.LastError,
		CreatedAt:        m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if m.SentAt != nil {
		v.SentAt = m.SentAt.UTC().Format(time.RFC3339Nano)
	}
	if m.ConfirmedAt != nil {
		v.ConfirmedAt = m.ConfirmedAt.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) EnqueueMessage(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	id, err := h.intake.Enqueue(r.Context(), intake.Request{
		Recipient:        req.Recipient,
		Body:             req.Body,
		Channel:          req.Channel,
		FallbackChannels: req.FallbackChannels,
		MaxAttempts:      req.MaxAttempts,
	})
	if err != nil {
		if errors.Is(err, intake.ErrEmptyRecipient) ||
			errors.Is(err, intake.ErrEmptyBody) ||
			errors.Is(err, intake.ErrInvalidChannel) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"id": id})
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	m, err := h.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "message not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(m))
}

type receiptRequest struct {
	Status string `json:"status"`
}

func (h *Handler) RecordReceipt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req receiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	status, ok := receipt.ParseStatus(req.Status)
	if !ok {
		http.Error(w, "status must be received or expired", http.StatusBadRequest)
		return
	}

	if err := h.receipts.Record(r.Context(), id, status); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListArchive(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		http.Error(w, "archive is not configured", http.StatusNotImplemented)
		return
	}

	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.archiver.ListRecent(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	views := make([]messageView, 0, len(items))
	for i := range items {
		views = append(views, viewOf(&items[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (h *Handler) CheckBlocked(w http.ResponseWriter, r *http.Request) {
	recipient := r.PathValue("recipient")

	blocked, err := h.blocked.Contains(r.Context(), recipient)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipient": recipient, "blocked": blocked})
}

func (h *Handler) BlockRecipient(w http.ResponseWriter, r *http.Request) {
	recipient := r.PathValue("recipient")

	if err := h.blocked.Add(r.Context(), recipient); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UnblockRecipient(w http.ResponseWriter, r *http.Request) {
	recipient := r.PathValue("recipient")

	if err := h.blocked.Remove(r.Context(), recipient); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SweeperStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sweeper.IsRunning()})
}

func (h *Handler) SweeperStart(w http.ResponseWriter, r *http.Request) {
	h.sweeper.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sweeper.IsRunning()})
}

func (h *Handler) SweeperStop(w http.ResponseWriter, r *http.Request) {
	h.sweeper.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sweeper.IsRunning()})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
