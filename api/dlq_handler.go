package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/imsks/pulse"
	"github.com/imsks/pulse/dlq"
	"github.com/imsks/pulse/id"
)

// defaultDLQRetention bounds how far back /v1/dlq/purge reaches when the
// caller does not give an olderThan duration.
const defaultDLQRetention = 30 * 24 * time.Hour

func (a *API) listDLQ(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))   //nolint:errcheck // zero means default
	offset, _ := strconv.Atoi(q.Get("offset")) //nolint:errcheck // zero means first page

	entries, err := a.dlq.List(r.Context(), dlq.ListOpts{
		Limit:           defaultLimit(limit),
		Offset:          offset,
		TenantID:        q.Get("tenantId"),
		JobType:         q.Get("jobType"),
		IncludeReplayed: q.Get("includeReplayed") == "true",
	})
	if err != nil {
		a.writeError(w, fmt.Errorf("list dlq: %w", err))
		return
	}
	a.writeJSON(w, http.StatusOK, entries)
}

func (a *API) getDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryID"))
	if err != nil {
		a.writeError(w, fmt.Errorf("%w: invalid DLQ entry ID", pulse.ErrInvalidJob))
		return
	}

	entry, err := a.dlq.Get(r.Context(), entryID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, entry)
}

// replayDLQ re-enqueues a dead job as a fresh submission with its
// attempt budget reset.
func (a *API) replayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryID"))
	if err != nil {
		a.writeError(w, fmt.Errorf("%w: invalid DLQ entry ID", pulse.ErrInvalidJob))
		return
	}

	j, err := a.dlq.Replay(r.Context(), entryID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, j)
}

type purgeDLQResponse struct {
	Purged int64 `json:"purged"`
}

func (a *API) purgeDLQ(w http.ResponseWriter, r *http.Request) {
	retention := defaultDLQRetention
	if v := r.URL.Query().Get("olderThan"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			a.writeError(w, fmt.Errorf("%w: invalid olderThan duration", pulse.ErrInvalidJob))
			return
		}
		retention = d
	}

	count, err := a.dlq.Purge(r.Context(), time.Now().UTC().Add(-retention))
	if err != nil {
		a.writeError(w, fmt.Errorf("purge dlq: %w", err))
		return
	}
	a.writeJSON(w, http.StatusOK, purgeDLQResponse{Purged: count})
}

type dlqCountResponse struct {
	Count int64 `json:"count"`
}

func (a *API) dlqCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.dlq.Count(r.Context())
	if err != nil {
		a.writeError(w, fmt.Errorf("count dlq: %w", err))
		return
	}
	a.writeJSON(w, http.StatusOK, dlqCountResponse{Count: count})
}
