package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/imsks/pulse"
	"github.com/imsks/pulse/engine"
	"github.com/imsks/pulse/id"
	"github.com/imsks/pulse/job"
)

// submitJob admits a job to the queue. Submissions pass through the
// distributed rate limiter before validation; the limit identity is the
// tenant when present, the client IP otherwise.
func (a *API) submitJob(w http.ResponseWriter, r *http.Request) {
	var sub engine.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		a.writeError(w, fmt.Errorf("%w: malformed request body", pulse.ErrInvalidJob))
		return
	}

	if a.limiter != nil {
		// Trimmed the same way admission trims it, so padded and bare
		// spellings of a tenant share one budget.
		if ok := a.rateGate(w, r, strings.TrimSpace(sub.TenantID)); !ok {
			return
		}
	}

	result, err := a.eng.Submit(r.Context(), sub)
	if err != nil {
		a.writeError(w, err)
		return
	}

	status := http.StatusAccepted
	if result.Status == engine.AdmitDuplicate {
		status = http.StatusOK
	}
	a.writeJSON(w, status, result)
}

// rateGate runs the limiter check and writes the 429 response itself
// when the budget is exhausted. Returns false if the request was denied.
func (a *API) rateGate(w http.ResponseWriter, r *http.Request, tenantID string) bool {
	cfg := a.eng.Config()

	res, err := a.limiter.Check(r.Context(), limitIdentity(r, tenantID), cfg.RateLimitMax, cfg.RateLimitWindow)
	if err != nil {
		a.writeError(w, err)
		return false
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RateLimitMax))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

	if !res.Allowed {
		retryAfter := int64(res.RetryAfter / time.Second)
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		a.writeError(w, fmt.Errorf("%w: retry after %s", pulse.ErrRateLimited, res.RetryAfter.Round(time.Second)))
		return false
	}
	return true
}

// limitIdentity picks the identity the rate budget applies to.
func limitIdentity(r *http.Request, tenantID string) string {
	if tenantID != "" {
		return tenantID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "anonymous"
}

// getJob returns a job's status snapshot.
func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		a.writeError(w, fmt.Errorf("%w: invalid job ID", pulse.ErrInvalidJob))
		return
	}

	status, err := a.eng.GetStatus(r.Context(), jobID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, status)
}

// cancelJob cancels a job that has not started executing.
func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		a.writeError(w, fmt.Errorf("%w: invalid job ID", pulse.ErrInvalidJob))
		return
	}

	if err := a.eng.Cancel(r.Context(), jobID); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// jobCountsResponse groups job counts by state.
type jobCountsResponse struct {
	Queued    int64 `json:"queued"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dead      int64 `json:"dead"`
	Cancelled int64 `json:"cancelled"`
}

func (a *API) jobCounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := r.URL.Query().Get("tenantId")

	var resp jobCountsResponse
	for _, st := range []struct {
		state job.State
		dst   *int64
	}{
		{job.StateQueued, &resp.Queued},
		{job.StateActive, &resp.Active},
		{job.StateCompleted, &resp.Completed},
		{job.StateFailed, &resp.Failed},
		{job.StateDead, &resp.Dead},
		{job.StateCancelled, &resp.Cancelled},
	} {
		count, err := a.eng.Store().CountJobs(ctx, job.CountOpts{State: st.state, TenantID: tenantID})
		if err != nil {
			a.writeError(w, fmt.Errorf("count jobs (%s): %w", st.state, err))
			return
		}
		*st.dst = count
	}
	a.writeJSON(w, http.StatusOK, resp)
}
