package repository

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/domain/interfaces"
	"github.com/secmon-lab/vigil/pkg/domain/model/alert"
	"github.com/secmon-lab/vigil/pkg/domain/model/errs"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/utils/clock"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Firestore struct {
	db *firestore.Client
}

var _ interfaces.Repository = &Firestore{}

func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	db, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.T(errs.TagDatabase),
			goerr.V("project_id", projectID))
	}

	return &Firestore{db: db}, nil
}

func (r *Firestore) Close() error {
	return r.db.Close()
}

const (
	collectionAlerts    = "alerts"
	collectionIgnores   = "ignores"
	collectionBlacklist = "blacklist"
)

func (r *Firestore) alertDoc(fingerprint types.AlertFingerprint) *firestore.DocumentRef {
	return r.db.Collection(collectionAlerts).Doc(fingerprint.String())
}

func (r *Firestore) ignoreDoc(userName types.UserName, alertTitle string) *firestore.DocumentRef {
	return r.db.Collection(collectionIgnores).Doc(fmt.Sprintf("%s__%s", userName, alertTitle))
}

func (r *Firestore) PutAlert(ctx context.Context, a alert.Alert) error {
	if err := a.Validate(); err != nil {
		return goerr.Wrap(err, "invalid alert", goerr.T(errs.TagValidation))
	}

	err := r.db.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(r.alertDoc(a.Fingerprint))
		if err != nil && status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to get alert in transaction")
		}

		if err == nil {
			var stored alert.Alert
			if err := doc.DataTo(&stored); err != nil {
				return goerr.Wrap(err, "failed to unmarshal stored alert")
			}
			if stored.Status == types.AlertStatusComplete &&
				(stored.Response != a.Response || a.Status != types.AlertStatusComplete) {
				return goerr.New("complete alert is immutable",
					goerr.T(errs.TagConflict),
					goerr.V("fingerprint", a.Fingerprint))
			}
		}

		return tx.Set(r.alertDoc(a.Fingerprint), a)
	})
	if err != nil {
		return goerr.Wrap(err, "failed to put alert",
			goerr.T(errs.TagDatabase),
			goerr.V("fingerprint", a.Fingerprint))
	}
	return nil
}

func (r *Firestore) GetAlert(ctx context.Context, fingerprint types.AlertFingerprint) (*alert.Alert, error) {
	doc, err := r.alertDoc(fingerprint).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.New("alert not found",
				goerr.T(errs.TagNotFound),
				goerr.V("fingerprint", fingerprint))
		}
		return nil, goerr.Wrap(err, "failed to get alert",
			goerr.T(errs.TagDatabase),
			goerr.V("fingerprint", fingerprint))
	}

	var a alert.Alert
	if err := doc.DataTo(&a); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal alert", goerr.V("fingerprint", fingerprint))
	}
	return &a, nil
}

// ClaimNewAlerts flips each new alert to in_progress inside a transaction so
// that concurrent dispatch processes sharing one database never obtain the
// same alert twice.
func (r *Firestore) ClaimNewAlerts(ctx context.Context) (alert.Alerts, error) {
	iter := r.db.Collection(collectionAlerts).
		Where("status", "==", types.AlertStatusNew.String()).
		OrderBy("created_at", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var refs []*firestore.DocumentRef
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate new alerts", goerr.T(errs.TagDatabase))
		}
		refs = append(refs, doc.Ref)
	}

	var claimed alert.Alerts
	for _, ref := range refs {
		var a alert.Alert
		var won bool
		err := r.db.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			won = false
			doc, err := tx.Get(ref)
			if err != nil {
				return goerr.Wrap(err, "failed to get alert in claim transaction")
			}
			if err := doc.DataTo(&a); err != nil {
				return goerr.Wrap(err, "failed to unmarshal alert")
			}
			if a.Status != types.AlertStatusNew {
				// Another process claimed it between query and transaction.
				return nil
			}
			a.Status = types.AlertStatusInProgress
			a.UpdatedAt = clock.Now(ctx)
			won = true
			return tx.Set(ref, a)
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to claim alert", goerr.T(errs.TagDatabase))
		}
		if won {
			copied := a
			claimed = append(claimed, &copied)
		}
	}

	return claimed, nil
}

func (r *Firestore) GetAlertsByStatus(ctx context.Context, st types.AlertStatus) (alert.Alerts, error) {
	iter := r.db.Collection(collectionAlerts).
		Where("status", "==", st.String()).
		OrderBy("created_at", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var alerts alert.Alerts
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate alerts",
				goerr.T(errs.TagDatabase),
				goerr.V("status", st))
		}

		var a alert.Alert
		if err := doc.DataTo(&a); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal alert")
		}
		alerts = append(alerts, &a)
	}

	return alerts, nil
}

func (r *Firestore) QueryAlerts(ctx context.Context, filter *alert.QueryFilter) (alert.Alerts, error) {
	q := r.db.Collection(collectionAlerts).Query
	if filter.Status != "" {
		q = q.Where("status", "==", filter.Status.String())
	}
	if filter.UserName != "" {
		q = q.Where("user", "==", filter.UserName.String())
	}
	q = q.OrderBy("created_at", firestore.Desc)

	iter := q.Documents(ctx)
	defer iter.Stop()

	var alerts alert.Alerts
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to query alerts", goerr.T(errs.TagDatabase))
		}

		var a alert.Alert
		if err := doc.DataTo(&a); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal alert")
		}
		// Performed/authenticated/time-range constraints filtered client side
		// to keep the composite index requirements minimal.
		if !filter.Match(&a) {
			continue
		}
		alerts = append(alerts, &a)
		if filter.Limit > 0 && len(alerts) >= filter.Limit {
			break
		}
	}

	return alerts, nil
}
