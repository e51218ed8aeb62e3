package handlers

import (
	"net/http"

	"reelcast/internal/httpkit"
)

// PostDispatch runs one dispatcher pass for an external scheduler.
func (h *Handler) PostDispatch(w http.ResponseWriter, r *http.Request) error {
	sum, err := h.dispatcher.Dispatch(r.Context())
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, sum)
	return nil
}

// PostReap runs one stale sweep.
func (h *Handler) PostReap(w http.ResponseWriter, r *http.Request) error {
	sum, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, sum)
	return nil
}
