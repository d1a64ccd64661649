package command_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/service/command"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		in   string
		kind types.CommandKind
		text string
	}{
		{"plain yes", "yes", types.CommandAffirm, ""},
		{"yes with punctuation", "Yes!", types.CommandAffirm, ""},
		{"yes with comment", "yes I reset my password", types.CommandAffirm, "I reset my password"},
		{"yep", "yep", types.CommandAffirm, ""},
		{"okay", "Okay.", types.CommandAffirm, ""},
		{"plain no", "no", types.CommandDeny, ""},
		{"nope with comment", "nope, wasn't me", types.CommandDeny, "wasn't me"},
		{"didnt", "didn't", types.CommandDeny, ""},
		{"greeting", "Hello", types.CommandGreet, ""},
		{"hey", "hey there", types.CommandGreet, "there"},
		{"help", "help", types.CommandHelp, ""},
		{"test", "test", types.CommandTest, ""},
		{"free text", "what is this about?", types.CommandUnknown, "what is this about?"},
		{"empty", "   ", types.CommandUnknown, ""},
		{"smart quote yes", "yes ‘totally’ me", types.CommandAffirm, "'totally' me"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := command.Parse(tc.in)
			gt.Equal(t, cmd.Kind, tc.kind)
			gt.Equal(t, cmd.Text, tc.text)
		})
	}
}

func TestParseIgnore(t *testing.T) {
	t.Run("hours and minutes", func(t *testing.T) {
		cmd := command.Parse("ignore 1h30m")
		gt.Equal(t, cmd.Kind, types.CommandIgnore)
		gt.Equal(t, cmd.Duration, 90*time.Minute)
	})

	t.Run("minutes only", func(t *testing.T) {
		cmd := command.Parse("ignore 45m")
		gt.Equal(t, cmd.Kind, types.CommandIgnore)
		gt.Equal(t, cmd.Duration, 45*time.Minute)
	})

	t.Run("capped at limit", func(t *testing.T) {
		cmd := command.Parse("ignore 12h")
		gt.Equal(t, cmd.Kind, types.CommandIgnore)
		gt.Equal(t, cmd.Duration, command.MaxIgnoreDuration)
	})

	t.Run("missing duration is unknown", func(t *testing.T) {
		cmd := command.Parse("ignore")
		gt.Equal(t, cmd.Kind, types.CommandUnknown)
	})

	t.Run("garbage duration is unknown", func(t *testing.T) {
		cmd := command.Parse("ignore forever")
		gt.Equal(t, cmd.Kind, types.CommandUnknown)
	})
}
