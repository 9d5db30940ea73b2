package ws

import "net/http"

func httpHandler(h *Handler) http.Handler {
	return http.HandlerFunc(h.Handle)
}
