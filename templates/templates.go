// Package templates renders the outbound notice text for every message type
// the engine sends. The mapping is an exhaustive MessageType-keyed table and
// tests assert it covers messaging.AllMessageTypes exactly.
package templates

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/BaSui01/squadflow/messaging"
)

// Data carries the fields available to notice templates. Unused fields are
// simply ignored by templates that do not reference them.
type Data struct {
	ConversationID string
	Question       string
	Answer         string
	AskerID        string
	FromResponder  string
	ToResponder    string
	Level          int
	Reason         string
	CustomMessage  string
	PriorContext   string
}

var registry = map[messaging.MessageType]*template.Template{
	messaging.TypeQuestion: tmpl("question",
		"{{.Question}}"),
	messaging.TypeAcknowledgment: tmpl("acknowledgment",
		"{{if .CustomMessage}}{{.CustomMessage}}{{else}}Your question has been acknowledged and is being worked on.{{end}}"),
	messaging.TypeAnswer: tmpl("answer",
		"{{.Answer}}"),
	messaging.TypeFollowUp: tmpl("follow_up",
		"Reminder: a question is still waiting for your response.\n\n{{.Question}}"),
	messaging.TypeEscalationNotice: tmpl("escalation_notice",
		"Your question could not be answered in time and was escalated from {{.FromResponder}} to {{.ToResponder}} (level {{.Level}})."),
	messaging.TypeRerouteNotice: tmpl("reroute_notice",
		"This question was handed off to you by {{.FromResponder}}.\n\n{{.Question}}{{if .PriorContext}}\n\nContext so far:\n{{.PriorContext}}{{end}}"),
	messaging.TypeUnresolvableNotice: tmpl("unresolvable_notice",
		"Your question could not be resolved: the escalation chain was exhausted at level {{.Level}} ({{.Reason}}). No further responders are configured."),
	messaging.TypeClosedNotice: tmpl("closed_notice",
		"The question you were escalated for has been resolved by someone else; no action is needed."),
}

func tmpl(name, body string) *template.Template {
	return template.Must(template.New(name).Parse(body))
}

// Has reports whether a template exists for the message type.
func Has(t messaging.MessageType) bool {
	_, ok := registry[t]
	return ok
}

// Render produces the notice body for a message type. Unknown types are a
// programming error and return one.
func Render(t messaging.MessageType, data Data) (string, error) {
	tpl, ok := registry[t]
	if !ok {
		return "", fmt.Errorf("no template registered for message type %q", t)
	}
	var sb strings.Builder
	if err := tpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render %q template: %w", t, err)
	}
	return sb.String(), nil
}
