package types

// CommandKind is the closed vocabulary the command interpreter maps inbound
// chat text onto.
type CommandKind string

const (
	CommandGreet   CommandKind = "greet"
	CommandAffirm  CommandKind = "affirm"
	CommandDeny    CommandKind = "deny"
	CommandComment CommandKind = "comment"
	CommandHelp    CommandKind = "help"
	CommandTest    CommandKind = "test"
	CommandIgnore  CommandKind = "ignore"
	CommandUnknown CommandKind = "unknown"
)

func (k CommandKind) String() string {
	return string(k)
}
