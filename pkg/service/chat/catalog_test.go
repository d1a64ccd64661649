package chat_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/vigil/pkg/service/chat"
)

func TestCatalog(t *testing.T) {
	catalog := gt.R1(chat.NewCatalog()).NoError(t)

	t.Run("renders greeting with name", func(t *testing.T) {
		msg := gt.R1(catalog.Render("greeting", map[string]any{"Name": "Alice"})).NoError(t)
		gt.True(t, strings.Contains(msg, "Alice"))
	})

	t.Run("renders report with alert fields", func(t *testing.T) {
		msg := gt.R1(catalog.Render("report", map[string]any{
			"Title":       "Password reset",
			"User":        "alice",
			"Reason":      "response timeout",
			"Elapsed":     "2 hours",
			"Description": "reset from new device",
			"Comment":     "> no comment provided",
			"URL":         "https://example.com/alerts/1",
		})).NoError(t)
		gt.True(t, strings.Contains(msg, "Password reset"))
		gt.True(t, strings.Contains(msg, "`alice`"))
		gt.True(t, strings.Contains(msg, "response timeout"))
	})

	t.Run("unknown key is an error", func(t *testing.T) {
		_, err := catalog.Render("no_such_key", nil)
		gt.Error(t, err)
	})
}

func TestLoadCatalogOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.yml")
	gt.NoError(t, os.WriteFile(path, []byte(`bye: "see you"`), 0600))

	catalog := gt.R1(chat.LoadCatalog(path)).NoError(t)

	msg := gt.R1(catalog.Render("bye", nil)).NoError(t)
	gt.Equal(t, msg, "see you")

	// Keys not overridden fall back to defaults.
	msg = gt.R1(catalog.Render("action_prompt", nil)).NoError(t)
	gt.True(t, strings.Contains(msg, "yes"))
}
