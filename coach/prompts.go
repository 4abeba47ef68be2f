package coach

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/dshills/coachgraph/knowledge"
)

// PromptData is what a prompt template renders from.
type PromptData struct {
	Stage    string
	Retry    bool
	Identity Identity
	Facts    Facts
	Now      string

	// Knowledge is empty unless the stage asks for it.
	Knowledge knowledge.Texts

	// Format describes the expected reply. Empty for free text.
	Format string
}

// Prompts renders system prompts by template id.
type Prompts struct {
	set *template.Template
}

// NewPrompts parses templates, keyed by id.
func NewPrompts(templates map[string]string) (*Prompts, error) {
	set := template.New("prompts").Option("missingkey=zero")
	for id, text := range templates {
		if _, err := set.New(id).Parse(text); err != nil {
			return nil, fmt.Errorf("parse prompt %s: %w", id, err)
		}
	}
	return &Prompts{set: set}, nil
}

// Has reports whether id is defined.
func (p *Prompts) Has(id string) bool {
	return p.set.Lookup(id) != nil
}

// Render executes template id and appends the reply format, if any.
func (p *Prompts) Render(id string, data PromptData) (string, error) {
	tmpl := p.set.Lookup(id)
	if tmpl == nil {
		return "", fmt.Errorf("unknown prompt %q", id)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", id, err)
	}
	if data.Format != "" {
		b.WriteString("\n\nReply with a JSON object with these fields:\n")
		b.WriteString(data.Format)
	}
	return strings.TrimSpace(b.String()), nil
}

const preamble = `You are a warm, concise coach talking with {{with .Identity.Name}}{{.}}{{else}}the user{{end}}.
{{- with .Identity.Persona}}
Persona: {{.}}{{end}}
{{- with .Identity.Behavior}}
What we know about them: {{.}}{{end}}
{{- with .Identity.PrimaryArchetype}}
Primary archetype: {{.}}{{end}}
{{- with .Identity.SecondaryArchetype}}
Secondary archetype: {{.}}{{end}}
{{- with .Now}}
Current time: {{.}}{{end}}
Keep every reply under four sentences.
{{- if .Retry}}
The user's last answer was unclear. Acknowledge it kindly and ask again in a different way.{{end}}
`

const factsBlock = `
{{- with .Facts.Mood}}
Mood today: {{.}}{{end}}
{{- with .Facts.Focus}}
Focus area: {{.}}{{end}}
{{- with .Facts.Intention}}
Intention: {{.}}{{end}}
{{- with .Facts.Commitment}}
Commitment: {{.}}{{end}}
`

const knowledgeBlock = `
{{- with .Knowledge.Principles}}

Coaching principles:
{{.}}{{end}}
{{- with .Knowledge.Archetypes}}

Archetypes:
{{.}}{{end}}
`

// DefaultPrompts returns the built-in stage prompts.
func DefaultPrompts() map[string]string {
	p := func(task string) string { return preamble + factsBlock + knowledgeBlock + "\n" + task }
	return map[string]string{
		StageWelcome: p(`Greet the user for their first check-in. Introduce yourself in one sentence ` +
			`and ask how they are feeling today.`),
		StageWelcomeBack: p(`Welcome the user back. Ask how they are feeling today.`),
		StageMoodCheck: p(`Find out how the user is feeling. Proceed only when they named a mood ` +
			`you could write down in a few words. A bare "fine" or "ok" is not enough.`),
		StageFocus: p(`Ask which area of life they want to focus on today. Proceed once they ` +
			`named one clear area.`),
		StageIntention: p(`Help the user phrase an intention for their focus area. Proceed once ` +
			`the intention is specific.`),
		StageCommitment: p(`Ask for one concrete action the user commits to. Proceed only when ` +
			`the action says what they will do and when.`),
		StageReminder: p(`Offer a reminder for the commitment. If they want one, collect either a ` +
			`frequency (daily, weekly, fortnightly or monthly) or a single date, and optionally a time ` +
			`of day. Set wants_reminder to false if they decline.`),
		StageOpenConversation: p(`Keep the conversation open. Answer what the user asks. Set end to ` +
			`true only when the user says they want to stop. Set checkin to true when they want to ` +
			`start a new check-in.`),
	}
}
