package config

import "time"

func NewTestDispatch(tz, messagesPath string) *Dispatch {
	return &Dispatch{
		tickInterval:    5 * time.Second,
		responseTimeout: 2 * time.Hour,
		authTimeout:     10 * time.Minute,
		maxRetries:      3,
		backoffTTL:      21 * time.Hour,
		businessHoursTZ: tz,
		messagesPath:    messagesPath,
	}
}
