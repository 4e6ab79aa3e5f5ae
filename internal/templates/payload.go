package templates

import (
	"errors"
	"fmt"
	"strings"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/whatsapp"
)

// Header kinds as reported by the provider.
const (
	HeaderText     = "TEXT"
	HeaderImage    = "IMAGE"
	HeaderVideo    = "VIDEO"
	HeaderDocument = "DOCUMENT"
)

var (
	ErrMissingHeaderValue = errors.New("templates: please provide a value for the header variable")
	ErrMissingVariable    = errors.New("templates: please fill in all body variable values before sending")
)

// BuildPayload turns agent input into the template block of a send. values
// are the body variables in sequence order. Nothing is returned unless every
// required value is present.
func BuildPayload(tpl *models.Template, headerValue string, values []string) (whatsapp.TemplateObj, error) {
	obj := whatsapp.TemplateObj{
		Name:     tpl.Name,
		Language: whatsapp.LanguageObj{Code: tpl.LanguageCode},
	}

	if tpl.HasHeaderVariable {
		headerValue = strings.TrimSpace(headerValue)
		if headerValue == "" {
			return whatsapp.TemplateObj{}, ErrMissingHeaderValue
		}
		obj.Components = append(obj.Components, whatsapp.ComponentObj{
			Type:       "header",
			Parameters: []whatsapp.ParameterObj{headerParameter(tpl.HeaderType, headerValue)},
		})
	}

	if tpl.VariableCount > 0 {
		if len(values) < tpl.VariableCount {
			return whatsapp.TemplateObj{}, fmt.Errorf("%w: got %d of %d", ErrMissingVariable, len(values), tpl.VariableCount)
		}
		names := tpl.PlaceholderNames
		if len(names) == 0 {
			names = Placeholders(tpl.BodyText)
		}
		params := make([]whatsapp.ParameterObj, 0, tpl.VariableCount)
		for i, v := range values[:tpl.VariableCount] {
			if strings.TrimSpace(v) == "" {
				return whatsapp.TemplateObj{}, fmt.Errorf("%w: variable %d is empty", ErrMissingVariable, i+1)
			}
			p := whatsapp.ParameterObj{Type: "text", Text: v}
			if i < len(names) && !positional(names[i]) {
				p.ParameterName = names[i]
			}
			params = append(params, p)
		}
		obj.Components = append(obj.Components, whatsapp.ComponentObj{Type: "body", Parameters: params})
	}
	return obj, nil
}

func headerParameter(kind, value string) whatsapp.ParameterObj {
	link := &whatsapp.MediaObj{Link: value}
	switch strings.ToUpper(kind) {
	case HeaderImage:
		return whatsapp.ParameterObj{Type: "image", Image: link}
	case HeaderVideo:
		return whatsapp.ParameterObj{Type: "video", Video: link}
	case HeaderDocument:
		return whatsapp.ParameterObj{Type: "document", Document: link}
	default:
		return whatsapp.ParameterObj{Type: "text", Text: value}
	}
}

// positional reports whether a placeholder is a {{1}}-style index; those are
// matched by order and must not carry a parameter name.
func positional(name string) bool {
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return name != ""
}
