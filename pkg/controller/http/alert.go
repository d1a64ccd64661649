package http

import (
	"encoding/json"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/domain/model/alert"
	"github.com/secmon-lab/vigil/pkg/domain/model/errs"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/utils/safe"
)

type rawAlertRequest struct {
	Fingerprint string `json:"fingerprint"`
	Title       string `json:"title"`
	User        string `json:"user"`
	Description string `json:"description"`
	Reason      string `json:"reason"`
	URL         string `json:"url"`
}

// handleRawAlert ingests one alert from an upstream detection pipeline. The
// fingerprint makes the endpoint idempotent: re-posting the same alert after
// it was stored is a no-op.
func (x *Server) handleRawAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req rawAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleError(w, r, goerr.Wrap(err, "failed to decode alert payload",
			goerr.T(errs.TagInvalidRequest)))
		return
	}

	fingerprint := types.AlertFingerprint(req.Fingerprint)
	if fingerprint == types.EmptyAlertFingerprint {
		fingerprint = types.NewAlertFingerprint()
	}

	if existing, err := x.repo.GetAlert(ctx, fingerprint); err == nil && existing != nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"fingerprint": existing.Fingerprint,
			"status":      existing.Status,
		})
		return
	}

	a, err := alert.New(ctx, fingerprint, types.UserName(req.User), req.Title, req.Description, req.Reason)
	if err != nil {
		handleError(w, r, goerr.Wrap(err, "invalid alert", goerr.T(errs.TagInvalidRequest)))
		return
	}
	a.URL = req.URL

	if err := x.repo.PutAlert(ctx, *a); err != nil {
		handleError(w, r, goerr.Wrap(err, "failed to store alert", goerr.T(errs.TagDatabase)))
		return
	}

	writeJSON(w, r, http.StatusCreated, map[string]any{
		"fingerprint": a.Fingerprint,
		"status":      a.Status,
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	raw, err := json.Marshal(body)
	if err != nil {
		handleError(w, r, goerr.Wrap(err, "failed to marshal response"))
		return
	}
	safe.Write(r.Context(), w, raw)
}
