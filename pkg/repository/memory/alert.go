package memory

import (
	"context"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/domain/model/alert"
	"github.com/secmon-lab/vigil/pkg/domain/model/errs"
	"github.com/secmon-lab/vigil/pkg/domain/types"
)

func (r *Memory) PutAlert(ctx context.Context, a alert.Alert) error {
	if err := a.Validate(); err != nil {
		return goerr.Wrap(err, "invalid alert", goerr.T(errs.TagValidation))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if stored, ok := r.alerts[a.Fingerprint]; ok && stored.Status == types.AlertStatusComplete {
		if stored.Response != a.Response || a.Status != types.AlertStatusComplete {
			return goerr.New("complete alert is immutable",
				goerr.T(errs.TagConflict),
				goerr.V("fingerprint", a.Fingerprint))
		}
	}

	r.alerts[a.Fingerprint] = &a
	return nil
}

func (r *Memory) GetAlert(ctx context.Context, fingerprint types.AlertFingerprint) (*alert.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.alerts[fingerprint]
	if !ok {
		return nil, goerr.New("alert not found",
			goerr.T(errs.TagNotFound),
			goerr.V("fingerprint", fingerprint))
	}

	copied := *a
	return &copied, nil
}

func (r *Memory) ClaimNewAlerts(ctx context.Context) (alert.Alerts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var claimed alert.Alerts
	for _, a := range r.alerts {
		if a.Status != types.AlertStatusNew {
			continue
		}
		a.Status = types.AlertStatusInProgress
		copied := *a
		claimed = append(claimed, &copied)
	}

	sort.Slice(claimed, func(i, j int) bool {
		return claimed[i].CreatedAt.Before(claimed[j].CreatedAt)
	})
	return claimed, nil
}

func (r *Memory) GetAlertsByStatus(ctx context.Context, status types.AlertStatus) (alert.Alerts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var alerts alert.Alerts
	for _, a := range r.alerts {
		if a.Status == status {
			copied := *a
			alerts = append(alerts, &copied)
		}
	}

	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
	})
	return alerts, nil
}

func (r *Memory) QueryAlerts(ctx context.Context, filter *alert.QueryFilter) (alert.Alerts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var alerts alert.Alerts
	for _, a := range r.alerts {
		if filter.Match(a) {
			copied := *a
			alerts = append(alerts, &copied)
		}
	}

	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})

	if filter.Limit > 0 && len(alerts) > filter.Limit {
		alerts = alerts[:filter.Limit]
	}
	return alerts, nil
}
