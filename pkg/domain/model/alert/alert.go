package alert

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/utils/clock"
)

const (
	DefaultAlertTitle       = "(no title)"
	DefaultAlertDescription = "(no description)"
)

// Alert represents one security event waiting for verification by its target
// user. Identity is the caller-supplied content fingerprint; once the status
// reaches complete the response fields are immutable.
type Alert struct {
	Fingerprint types.AlertFingerprint `json:"fingerprint" firestore:"fingerprint"`
	Title       string                 `json:"title" firestore:"title"`
	UserName    types.UserName         `json:"user" firestore:"user"`
	Description string                 `json:"description" firestore:"description"`
	Reason      string                 `json:"reason" firestore:"reason"`
	URL         string                 `json:"url,omitempty" firestore:"url"`

	Status   types.AlertStatus `json:"status" firestore:"status"`
	Response Response          `json:"response" firestore:"response"`

	CreatedAt time.Time `json:"created_at" firestore:"created_at"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updated_at"`
}

// Response carries what the user reported back about the event.
type Response struct {
	Performed     bool   `json:"performed" firestore:"performed"`
	Authenticated bool   `json:"authenticated" firestore:"authenticated"`
	Comment       string `json:"comment" firestore:"comment"`
}

type Alerts []*Alert

func New(ctx context.Context, fingerprint types.AlertFingerprint, userName types.UserName, title, description, reason string) (*Alert, error) {
	if err := fingerprint.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid fingerprint for new alert")
	}
	if err := userName.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid user for new alert")
	}

	a := &Alert{
		Fingerprint: fingerprint,
		Title:       title,
		UserName:    userName,
		Description: description,
		Reason:      reason,
		Status:      types.AlertStatusNew,
		CreatedAt:   clock.Now(ctx),
		UpdatedAt:   clock.Now(ctx),
	}

	if a.Title == "" {
		a.Title = DefaultAlertTitle
	}
	if a.Description == "" {
		a.Description = DefaultAlertDescription
	}

	return a, nil
}

func (x *Alert) Validate() error {
	if err := x.Fingerprint.Validate(); err != nil {
		return err
	}
	if err := x.UserName.Validate(); err != nil {
		return err
	}
	if err := x.Status.Validate(); err != nil {
		return err
	}
	return nil
}

// Finalize marks the alert complete with its final response. Finalizing an
// already complete alert is allowed only when the response is identical, so
// repeated persistence of the same decision stays idempotent.
func (x *Alert) Finalize(ctx context.Context, resp Response) error {
	if x.Status == types.AlertStatusComplete {
		if x.Response != resp {
			return goerr.New("response of complete alert is immutable",
				goerr.V("fingerprint", x.Fingerprint),
				goerr.V("stored", x.Response),
				goerr.V("proposed", resp))
		}
		return nil
	}

	x.Status = types.AlertStatusComplete
	x.Response = resp
	x.UpdatedAt = clock.Now(ctx)
	return nil
}

// QueryFilter selects alerts for the read-only dashboard API. Nil pointer
// fields mean "no constraint".
type QueryFilter struct {
	Status        types.AlertStatus
	UserName      types.UserName
	Performed     *bool
	Authenticated *bool
	Before        time.Time
	After         time.Time
	Limit         int
}

// Match reports whether the alert satisfies every set constraint.
func (f *QueryFilter) Match(a *Alert) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.UserName != "" && a.UserName != f.UserName {
		return false
	}
	if f.Performed != nil && a.Response.Performed != *f.Performed {
		return false
	}
	if f.Authenticated != nil && a.Response.Authenticated != *f.Authenticated {
		return false
	}
	if !f.Before.IsZero() && a.CreatedAt.After(f.Before) {
		return false
	}
	if !f.After.IsZero() && a.CreatedAt.Before(f.After) {
		return false
	}
	return true
}
