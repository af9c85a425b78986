// Package messaging renders outreach messages for dispatch channels.
package messaging

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

// Default message bodies.
const (
	DefaultEmailSubject = "Reaching out regarding {{.Context}}"
	DefaultEmailBody    = `Hi {{.Name}},

I noticed your listing for {{.Context}} and wanted to reach out...

Best regards,
{{.Sender}}
`
	DefaultDMBody = `Hi {{.Name}},
I saw your post in {{.Context}}...
`
)

// Data is the value templates are executed against.
type Data struct {
	Name    string
	Email   string
	Website string
	Context string
	Source  crawler.SourceKind
	Sender  string
}

// DataFor builds template data from a lead. Missing context falls back to
// a neutral phrase.
func DataFor(lead crawler.Lead, sender string) Data {
	ctx := lead.SourceContext
	if ctx == "" {
		ctx = "your business"
	}
	return Data{
		Name:    lead.Name,
		Email:   lead.Email,
		Website: lead.Website,
		Context: ctx,
		Source:  lead.Source,
		Sender:  sender,
	}
}

// Template is a parsed message template.
type Template struct {
	tmpl *template.Template
}

// Parse compiles text. Unknown fields fail at parse time.
func Parse(name, text string) (*Template, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", name, err)
	}
	if err := t.Execute(&bytes.Buffer{}, Data{}); err != nil {
		return nil, fmt.Errorf("check %s template: %w", name, err)
	}
	return &Template{tmpl: t}, nil
}

// Render executes the template against data.
func (t *Template) Render(data Data) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.tmpl.Name(), err)
	}
	return buf.String(), nil
}
