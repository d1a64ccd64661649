package chat

import (
	"bytes"
	_ "embed"
	"os"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/domain/model/errs"
	"gopkg.in/yaml.v3"
)

//go:embed messages.yml
var defaultMessages []byte

// Catalog holds every user-facing message template, keyed the same way the
// embedded messages.yml is. Operators can override single keys with their own
// file; missing keys fall back to the defaults.
type Catalog struct {
	templates map[string]*template.Template
}

func NewCatalog() (*Catalog, error) {
	return newCatalog(defaultMessages, nil)
}

func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read message catalog", goerr.V("path", path))
	}
	return newCatalog(defaultMessages, raw)
}

func newCatalog(base, override []byte) (*Catalog, error) {
	merged := map[string]string{}
	if err := yaml.Unmarshal(base, &merged); err != nil {
		return nil, goerr.Wrap(err, "failed to parse embedded message catalog")
	}
	if override != nil {
		overrides := map[string]string{}
		if err := yaml.Unmarshal(override, &overrides); err != nil {
			return nil, goerr.Wrap(err, "failed to parse message catalog override",
				goerr.T(errs.TagValidation))
		}
		for k, v := range overrides {
			merged[k] = v
		}
	}

	c := &Catalog{templates: make(map[string]*template.Template, len(merged))}
	for key, text := range merged {
		tmpl, err := template.New(key).Parse(text)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid message template",
				goerr.T(errs.TagValidation),
				goerr.V("key", key))
		}
		c.templates[key] = tmpl
	}
	return c, nil
}

// Render fills the named template. Unknown keys are a programming error and
// surface as such instead of sending an empty message to a user.
func (c *Catalog) Render(key string, data any) (string, error) {
	tmpl, ok := c.templates[key]
	if !ok {
		return "", goerr.New("unknown message key", goerr.V("key", key))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", goerr.Wrap(err, "failed to render message", goerr.V("key", key))
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
