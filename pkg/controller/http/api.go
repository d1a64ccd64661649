package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/domain/model/alert"
	"github.com/secmon-lab/vigil/pkg/domain/model/errs"
	"github.com/secmon-lab/vigil/pkg/domain/types"
)

func (x *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": x.dispatcher.ActiveSessions(),
	})
}

// handleQueryAlerts serves the dashboard query API. All filters combine with
// AND; times are RFC 3339.
func (x *Server) handleQueryAlerts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAlertFilter(r)
	if err != nil {
		handleError(w, r, err)
		return
	}

	alerts, err := x.repo.QueryAlerts(r.Context(), filter)
	if err != nil {
		handleError(w, r, goerr.Wrap(err, "failed to query alerts", goerr.T(errs.TagDatabase)))
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func parseAlertFilter(r *http.Request) (*alert.QueryFilter, error) {
	q := r.URL.Query()
	filter := &alert.QueryFilter{
		Status:   types.AlertStatus(q.Get("status")),
		UserName: types.UserName(q.Get("user")),
	}

	if filter.Status != "" {
		if err := filter.Status.Validate(); err != nil {
			return nil, goerr.Wrap(err, "invalid status filter", goerr.T(errs.TagInvalidRequest))
		}
	}

	for key, dst := range map[string]**bool{
		"performed":     &filter.Performed,
		"authenticated": &filter.Authenticated,
	} {
		if raw := q.Get(key); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, goerr.Wrap(err, "invalid boolean filter",
					goerr.T(errs.TagInvalidRequest), goerr.V("key", key))
			}
			*dst = &v
		}
	}

	for key, dst := range map[string]*time.Time{
		"before": &filter.Before,
		"after":  &filter.After,
	} {
		if raw := q.Get(key); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return nil, goerr.Wrap(err, "invalid time filter",
					goerr.T(errs.TagInvalidRequest), goerr.V("key", key))
			}
			*dst = ts
		}
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return nil, goerr.New("invalid limit filter",
				goerr.T(errs.TagInvalidRequest), goerr.V("limit", raw))
		}
		filter.Limit = limit
	}

	return filter, nil
}

// handleCancelAlert aborts an in-flight verification. Only alerts currently
// queued or mid-conversation can be cancelled.
func (x *Server) handleCancelAlert(w http.ResponseWriter, r *http.Request) {
	fingerprint := types.AlertFingerprint(chi.URLParam(r, "fingerprint"))
	if err := fingerprint.Validate(); err != nil {
		handleError(w, r, goerr.Wrap(err, "invalid fingerprint", goerr.T(errs.TagInvalidRequest)))
		return
	}

	if err := x.dispatcher.Cancel(r.Context(), fingerprint); err != nil {
		handleError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"fingerprint": fingerprint})
}

func (x *Server) handleListIgnores(w http.ResponseWriter, r *http.Request) {
	ignores, err := x.repo.ListIgnores(r.Context())
	if err != nil {
		handleError(w, r, goerr.Wrap(err, "failed to list ignores", goerr.T(errs.TagDatabase)))
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"ignores": ignores})
}

func (x *Server) handleListBlacklist(w http.ResponseWriter, r *http.Request) {
	entries, err := x.repo.ListBlacklist(r.Context())
	if err != nil {
		handleError(w, r, goerr.Wrap(err, "failed to list blacklist", goerr.T(errs.TagDatabase)))
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"blacklist": entries})
}
