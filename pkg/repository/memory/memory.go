package memory

import (
	"sync"

	"github.com/secmon-lab/vigil/pkg/domain/interfaces"
	"github.com/secmon-lab/vigil/pkg/domain/model/alert"
	"github.com/secmon-lab/vigil/pkg/domain/model/suppress"
	"github.com/secmon-lab/vigil/pkg/domain/types"
)

// Memory is an in-memory Repository for tests and dev mode. It mirrors the
// semantics of the Firestore repository including the atomic claim of new
// alerts.
type Memory struct {
	mu        sync.RWMutex
	alerts    map[types.AlertFingerprint]*alert.Alert
	ignores   map[ignoreKey]*suppress.Ignore
	blacklist map[types.UserName]*suppress.BlacklistEntry
}

type ignoreKey struct {
	user  types.UserName
	title string
}

var _ interfaces.Repository = &Memory{}

func New() *Memory {
	return &Memory{
		alerts:    make(map[types.AlertFingerprint]*alert.Alert),
		ignores:   make(map[ignoreKey]*suppress.Ignore),
		blacklist: make(map[types.UserName]*suppress.BlacklistEntry),
	}
}
