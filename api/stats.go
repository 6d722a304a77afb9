package api

import (
	"net/http"

	"github.com/xraph/herald/attempt"
)

type statsResponse struct {
	Pending  int64 `json:"pending"`
	Success  int64 `json:"success"`
	Failed   int64 `json:"failed"`
	Retrying int64 `json:"retrying"`
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts := make(map[attempt.Outcome]int64, 4)
	for _, o := range []attempt.Outcome{
		attempt.OutcomePending,
		attempt.OutcomeSuccess,
		attempt.OutcomeFailed,
		attempt.OutcomeRetrying,
	} {
		n, err := h.store.CountAttempts(ctx, o)
		if err != nil {
			h.writeErr(w, r, err)
			return
		}
		counts[o] = n
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Pending:  counts[attempt.OutcomePending],
		Success:  counts[attempt.OutcomeSuccess],
		Failed:   counts[attempt.OutcomeFailed],
		Retrying: counts[attempt.OutcomeRetrying],
	})
}
