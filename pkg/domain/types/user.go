package types

import "github.com/m-mizutani/goerr/v2"

// UserID is the chat platform's stable identifier of a user (e.g. Slack
// "U12345678").
type UserID string

func (x UserID) String() string {
	return string(x)
}

const EmptyUserID UserID = ""

// UserName is the directory identifier alerts are addressed to (the original
// pipeline calls this "ldap").
type UserName string

func (x UserName) String() string {
	return string(x)
}

func (x UserName) Validate() error {
	if x == "" {
		return goerr.New("empty user name")
	}
	return nil
}

// ChannelID identifies a chat channel, such as the monitoring channel
// escalation notices are posted to.
type ChannelID string

func (x ChannelID) String() string {
	return string(x)
}
