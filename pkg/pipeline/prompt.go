package pipeline

import (
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/go-go-golems/solace/pkg/turns"
	"github.com/pkg/errors"
)

// PromptData is what prompt templates are rendered with.
type PromptData struct {
	Context string
	Message string
}

// PromptTemplate renders the system and user parts of a generation prompt.
type PromptTemplate struct {
	Name   string
	system *template.Template
	user   *template.Template
}

func NewPromptTemplate(name, system, user string) (*PromptTemplate, error) {
	s, err := template.New(name + "-system").Funcs(sprig.TxtFuncMap()).Parse(system)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing system template %s", name)
	}
	u, err := template.New(name + "-user").Funcs(sprig.TxtFuncMap()).Parse(user)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing user template %s", name)
	}
	return &PromptTemplate{Name: name, system: s, user: u}, nil
}

func MustPromptTemplate(name, system, user string) *PromptTemplate {
	t, err := NewPromptTemplate(name, system, user)
	if err != nil {
		panic(err)
	}
	return t
}

func (p *PromptTemplate) Render(data PromptData) (turns.Prompt, error) {
	var system, user strings.Builder
	if err := p.system.Execute(&system, data); err != nil {
		return turns.Prompt{}, errors.Wrapf(err, "rendering system prompt %s", p.Name)
	}
	if err := p.user.Execute(&user, data); err != nil {
		return turns.Prompt{}, errors.Wrapf(err, "rendering user prompt %s", p.Name)
	}
	return turns.Prompt{
		System: strings.TrimSpace(system.String()),
		User:   strings.TrimSpace(user.String()),
	}, nil
}

const advisorPersona = `You are a compassionate and empathetic mental health advisor AI acting like a professional psychologist.
Your role is to create a warm and friendly environment, provide therapeutic support, and answer questions with
kindness and understanding.`

const advisorUser = `Context:
{{ .Context }}
User: {{ .Message }}
If the context does not contain an answer:
- Provide an empathetic response using your knowledge.
- Avoid technical jargon and prioritize emotional support.`

const speechInstructions = `
- Keep responses concise and natural for speech.
- Limit response to 2-3 sentences for better avatar interaction.`

var (
	// ChatPrompt is used by the text chat channel.
	ChatPrompt = MustPromptTemplate("chat", advisorPersona, advisorUser)
	// SpeechPrompt is used when the response is spoken by an avatar.
	SpeechPrompt = MustPromptTemplate("speech", advisorPersona, advisorUser+speechInstructions)
	// QuestionPrompt is used by the stateless HTTP endpoint.
	QuestionPrompt = MustPromptTemplate("question",
		"You are a friendly and helpful mental health advisor.",
		`Context: {{ .Context | trim | default "No relevant context found." }}
Question: {{ .Message }}`)
)
