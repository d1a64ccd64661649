package command

import (
	"regexp"
	"strings"
	"time"

	"github.com/secmon-lab/vigil/pkg/domain/types"
)

// Command is the interpreted form of one inbound chat message.
type Command struct {
	Kind types.CommandKind
	// Text is the free-text remainder of the message, kept so that
	// comment-accepting states can attach it to the alert.
	Text string
	// Duration is set only for ignore commands.
	Duration time.Duration
}

// MaxIgnoreDuration caps user-requested ignore windows.
const MaxIgnoreDuration = 4 * time.Hour

var keywordKinds = map[string]types.CommandKind{
	"hi":     types.CommandGreet,
	"hello":  types.CommandGreet,
	"hey":    types.CommandGreet,
	"yes":    types.CommandAffirm,
	"y":      types.CommandAffirm,
	"yep":    types.CommandAffirm,
	"yeah":   types.CommandAffirm,
	"yup":    types.CommandAffirm,
	"sure":   types.CommandAffirm,
	"ok":     types.CommandAffirm,
	"okay":   types.CommandAffirm,
	"did":    types.CommandAffirm,
	"no":     types.CommandDeny,
	"n":      types.CommandDeny,
	"nope":   types.CommandDeny,
	"nah":    types.CommandDeny,
	"didnt":  types.CommandDeny,
	"didn't": types.CommandDeny,
	"help":   types.CommandHelp,
	"test":   types.CommandTest,
	"ignore": types.CommandIgnore,
}

var smartQuoteReplacer = strings.NewReplacer(
	"‘", "'",
	"’", "'",
	"“", `"`,
	"”", `"`,
	"–", "--",
	"—", "--",
)

const trailingPunctuation = ".,!?'\"`"

var ignoreDurationRe = regexp.MustCompile(`^(?:([0-9]+)h)?(?:([0-9]+)m)?$`)

// Parse maps free text onto the closed command vocabulary. Matching is
// case-insensitive, keyword based, and stateless per message; unrecognized
// text yields an unknown command with the raw text preserved.
func Parse(raw string) Command {
	text := strings.TrimSpace(smartQuoteReplacer.Replace(raw))
	if text == "" {
		return Command{Kind: types.CommandUnknown}
	}

	fields := strings.Fields(text)
	head := cleanWord(fields[0])
	rest := strings.Join(fields[1:], " ")

	kind, ok := keywordKinds[head]
	if !ok {
		return Command{Kind: types.CommandUnknown, Text: text}
	}

	cmd := Command{Kind: kind, Text: rest}
	if kind == types.CommandIgnore {
		d, ok := parseIgnoreDuration(fields[1:])
		if !ok {
			return Command{Kind: types.CommandUnknown, Text: text}
		}
		cmd.Duration = d
		cmd.Text = ""
	}

	return cmd
}

func cleanWord(word string) string {
	word = strings.ToLower(word)
	return strings.TrimFunc(word, func(r rune) bool {
		return strings.ContainsRune(trailingPunctuation, r)
	})
}

func parseIgnoreDuration(args []string) (time.Duration, bool) {
	if len(args) != 1 {
		return 0, false
	}

	m := ignoreDurationRe.FindStringSubmatch(strings.ToLower(args[0]))
	if m == nil || (m[1] == "" && m[2] == "") {
		return 0, false
	}

	var d time.Duration
	if m[1] != "" {
		h, err := time.ParseDuration(m[1] + "h")
		if err != nil {
			return 0, false
		}
		d += h
	}
	if m[2] != "" {
		min, err := time.ParseDuration(m[2] + "m")
		if err != nil {
			return 0, false
		}
		d += min
	}

	if d <= 0 {
		return 0, false
	}
	if d > MaxIgnoreDuration {
		d = MaxIgnoreDuration
	}
	return d, true
}
