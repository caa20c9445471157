package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("POST /v1/messages", h.EnqueueMessage)
	mux.HandleFunc("GET /v1/messages/{id}", h.GetMessage)
	mux.HandleFunc("GET /v1/messages/archive", h.ListArchive)

	mux.HandleFunc("POST /v1/receipts/{id}", h.RecordReceipt)

	mux.HandleFunc("GET /v1/blocklist/{recipient}", h.CheckBlocked)
	mux.HandleFunc("PUT /v1/blocklist/{recipient}", h.BlockRecipient)
	mux.HandleFunc("DELETE /v1/blocklist/{recipient}", h.UnblockRecipient)

	mux.HandleFunc("GET /v1/sweeper/status", h.SweeperStatus)
	mux.HandleFunc("POST /v1/sweeper/start", h.SweeperStart)
	mux.HandleFunc("POST /v1/sweeper/stop", h.SweeperStop)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("courier"))
	})

	return mux
}
