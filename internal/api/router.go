package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("GET /scheduler/status", h.SchedulerStatus)
	mux.HandleFunc("POST /scheduler/start", h.SchedulerStart)
	mux.HandleFunc("POST /scheduler/stop", h.SchedulerStop)

	mux.HandleFunc("POST /notifications", h.CreateNotification)
	mux.HandleFunc("GET /notifications", h.ListNotifications)
	mux.HandleFunc("GET /notifications/{id}", h.GetNotification)

	mux.HandleFunc("POST /devices", h.RegisterDevice)
	mux.HandleFunc("DELETE /devices", h.UnregisterDevice)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("push-dispatch"))
	})

	return mux
}
