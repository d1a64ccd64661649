package interfaces

import (
	"context"

	"github.com/secmon-lab/vigil/pkg/domain/model/alert"
	"github.com/secmon-lab/vigil/pkg/domain/model/suppress"
	"github.com/secmon-lab/vigil/pkg/domain/types"
)

// Repository is the durable store of alerts and suppression entries. The
// dispatch loop assumes at-least-once semantics and tolerates duplicate reads
// because alerts are idempotent by fingerprint.
type Repository interface {
	PutAlert(ctx context.Context, a alert.Alert) error
	GetAlert(ctx context.Context, fingerprint types.AlertFingerprint) (*alert.Alert, error)

	// ClaimNewAlerts returns all new alerts oldest first, atomically flipping
	// each to in_progress so that no other claimer can obtain the same alert.
	ClaimNewAlerts(ctx context.Context) (alert.Alerts, error)

	GetAlertsByStatus(ctx context.Context, status types.AlertStatus) (alert.Alerts, error)
	QueryAlerts(ctx context.Context, filter *alert.QueryFilter) (alert.Alerts, error)

	PutIgnore(ctx context.Context, entry *suppress.Ignore) error
	// ActiveIgnore returns the unexpired ignore entry covering the given user
	// and alert class, or nil if none applies.
	ActiveIgnore(ctx context.Context, userName types.UserName, alertTitle string) (*suppress.Ignore, error)
	ListIgnores(ctx context.Context) ([]*suppress.Ignore, error)

	PutBlacklist(ctx context.Context, entry *suppress.BlacklistEntry) error
	DeleteBlacklist(ctx context.Context, userName types.UserName) error
	IsBlacklisted(ctx context.Context, userName types.UserName) (bool, error)
	ListBlacklist(ctx context.Context) ([]*suppress.BlacklistEntry, error)
}
