package api

import "net/http"

// sweep runs one retry sweep and reports what it did. A sweep already in
// flight yields 409.
func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.herald.Sweep(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
