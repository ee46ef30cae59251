package api

import (
	"net/http"
	"time"
)

// handlerInfo describes a registered job type.
type handlerInfo struct {
	Type        string        `json:"jobType"`
	Queue       string        `json:"queue"`
	MaxAttempts int           `json:"maxAttempts"`
	Priority    string        `json:"priority"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// listHandlers reports the job types registered on this instance. The
// control plane and workers may register different sets; this reflects
// only the local registry.
func (a *API) listHandlers(w http.ResponseWriter, _ *http.Request) {
	infos := []handlerInfo{}
	if a.registry != nil {
		for _, t := range a.registry.Types() {
			opts, _ := a.registry.Opts(t)
			infos = append(infos, handlerInfo{
				Type:        t,
				Queue:       opts.Queue,
				MaxAttempts: opts.MaxAttempts,
				Priority:    string(opts.Priority),
				Timeout:     opts.Timeout,
			})
		}
	}
	a.writeJSON(w, http.StatusOK, infos)
}

// healthResponse reports process and store health.
type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
}

// health reports liveness plus store reachability when a pinger is
// configured. A degraded store yields 503 so load balancers stop
// routing submissions here.
func (a *API) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if a.pinger != nil {
		if err := a.pinger.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Store = err.Error()
			a.writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Store = "ok"
	}
	a.writeJSON(w, http.StatusOK, resp)
}
