package session

import (
	"fmt"

	"github.com/unclebandit/chaser-backend/internal/model"
)

// TemplateID names a provider-approved message template.
type TemplateID string

// TemplateSet is one practice's approved template per escalation level.
type TemplateSet map[model.Level]TemplateID

// TemplateSetFromPractice copies the practice's template configuration.
func TemplateSetFromPractice(p *model.Practice) TemplateSet {
	set := make(TemplateSet, len(p.ChatTemplates))
	for lvl, id := range p.ChatTemplates {
		if id != "" {
			set[lvl] = TemplateID(id)
		}
	}
	return set
}

// Payload is what the chat sender transmits: either free-form text or a
// template reference with its variables.
type Payload struct {
	FreeForm   bool
	Text       string
	TemplateID TemplateID
	Variables  map[string]string
	// Warning is set when no template could be resolved outside the window.
	// The provider makes the final call, so this is not an error.
	Warning string
}

// SelectPayload chooses free-form text inside the session window and a
// template outside it. The template is the override when given, otherwise the
// practice's template for level.
func SelectPayload(level model.Level, window bool, templateOverride *TemplateID, templates TemplateSet, text string, vars map[string]string) Payload {
	if window {
		return Payload{FreeForm: true, Text: text}
	}
	p := Payload{Variables: vars}
	switch {
	case templateOverride != nil && *templateOverride != "":
		p.TemplateID = *templateOverride
	case templates[level] != "":
		p.TemplateID = templates[level]
	default:
		p.Warning = fmt.Sprintf("no approved chat template configured for level %s", level)
	}
	return p
}
