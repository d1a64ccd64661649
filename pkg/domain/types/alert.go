package types

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/m-mizutani/goerr/v2"
)

// AlertFingerprint is the caller-supplied 256-bit content hash identifying an
// alert. It is the primary key of an alert across every store.
type AlertFingerprint string

func (x AlertFingerprint) String() string {
	return string(x)
}

// NewAlertFingerprint generates a random fingerprint. Used only for synthetic
// alerts; real alerts carry the hash computed by the ingestion pipeline.
func NewAlertFingerprint() AlertFingerprint {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("failed to read random source: " + err.Error())
	}
	return AlertFingerprint(hex.EncodeToString(buf))
}

const EmptyAlertFingerprint AlertFingerprint = ""

func (x AlertFingerprint) Validate() error {
	if x == EmptyAlertFingerprint {
		return goerr.New("empty alert fingerprint")
	}
	if len(x) != 64 {
		return goerr.New("alert fingerprint must be 64 hex characters", goerr.V("fingerprint", x))
	}
	if _, err := hex.DecodeString(string(x)); err != nil {
		return goerr.Wrap(err, "invalid alert fingerprint format", goerr.V("fingerprint", x))
	}
	return nil
}

// AlertStatus is the durable lifecycle of an alert.
type AlertStatus string

const (
	AlertStatusNew        AlertStatus = "new"
	AlertStatusInProgress AlertStatus = "in_progress"
	AlertStatusComplete   AlertStatus = "complete"
)

var alertStatusLabels = map[AlertStatus]string{
	AlertStatusNew:        "🆕 New",
	AlertStatusInProgress: "🔄 In Progress",
	AlertStatusComplete:   "✅ Complete",
}

func (s AlertStatus) Label() string {
	return alertStatusLabels[s]
}

func (s AlertStatus) Validate() error {
	switch s {
	case AlertStatusNew, AlertStatusInProgress, AlertStatusComplete:
		return nil
	}
	return goerr.New("invalid alert status", goerr.V("status", s))
}

func (s AlertStatus) String() string {
	return string(s)
}
