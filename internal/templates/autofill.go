package templates

import (
	"fmt"
	"strings"

	"whatsapp-crm/internal/models"
)

// Tag names a record value a template variable can be filled from.
type Tag string

const (
	TagCustomerName  Tag = "customer_name"
	TagInsuranceType Tag = "insurance_type"
	TagAgentName     Tag = "agent_name"
	TagAgentPhone    Tag = "agent_phone"
)

// Source is the record context a template is being sent from. Any field may
// be nil.
type Source struct {
	Lead    *models.Lead
	Partner *models.Partner
	Agent   *models.User
}

// Rule maps variable labels to a record value.
type Rule struct {
	Tag   Tag
	Match func(label string) bool
	Value func(Source) string
}

// DefaultRules are checked in order; the first matching label wins.
var DefaultRules = []Rule{
	{
		Tag:   TagCustomerName,
		Match: containsAll("customer", "name"),
		Value: func(s Source) string {
			if s.Partner == nil {
				return ""
			}
			return s.Partner.Name
		},
	},
	{
		Tag:   TagInsuranceType,
		Match: containsAll("insurance", "type"),
		Value: func(s Source) string {
			if s.Lead == nil {
				return ""
			}
			return s.Lead.InsuranceType
		},
	},
	{
		Tag:   TagAgentName,
		Match: containsAll("agent", "name"),
		Value: func(s Source) string {
			if s.Agent == nil {
				return ""
			}
			return s.Agent.Name
		},
	},
	{
		Tag: TagAgentPhone,
		Match: func(label string) bool {
			return strings.Contains(label, "agent") && containsAny(label, "phone", "mobile", "whatsapp")
		},
		Value: agentPhone,
	},
}

// Variable is one body variable row shown to the agent.
type Variable struct {
	Sequence int    `json:"sequence"`
	Label    string `json:"label"`
	Tag      Tag    `json:"tag,omitempty"`
	Value    string `json:"value"`
}

// Prefill builds the variable rows of tpl, filling values the rules can
// derive from src. Rows nobody matched are left empty for manual entry.
func Prefill(tpl *models.Template, src Source, rules []Rule) []Variable {
	if rules == nil {
		rules = DefaultRules
	}
	labels := Labels(tpl)
	rows := make([]Variable, 0, len(labels))
	for i, label := range labels {
		row := Variable{Sequence: i + 1, Label: label}
		lower := strings.ToLower(label)
		for _, rule := range rules {
			if rule.Match(lower) {
				row.Tag = rule.Tag
				row.Value = rule.Value(src)
				break
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Labels returns one label per body variable, taken from the comma separated
// descriptions with a generic fallback.
func Labels(tpl *models.Template) []string {
	var descriptions []string
	if strings.TrimSpace(tpl.VariableDescriptions) != "" {
		for _, d := range strings.Split(tpl.VariableDescriptions, ",") {
			descriptions = append(descriptions, strings.TrimSpace(d))
		}
	}
	labels := make([]string, tpl.VariableCount)
	for i := range labels {
		if i < len(descriptions) && descriptions[i] != "" {
			labels[i] = descriptions[i]
		} else {
			labels[i] = fmt.Sprintf("Body Variable {{%d}}", i+1)
		}
	}
	return labels
}

func agentPhone(s Source) string {
	if s.Agent == nil {
		return ""
	}
	if e := s.Agent.Employee; e != nil {
		if e.WorkMobile != "" {
			return e.WorkMobile
		}
		if e.WorkPhone != "" {
			return e.WorkPhone
		}
	}
	if p := s.Agent.Partner; p != nil {
		if p.Mobile != "" {
			return p.Mobile
		}
		return p.Phone
	}
	return ""
}

func containsAll(words ...string) func(string) bool {
	return func(label string) bool {
		for _, w := range words {
			if !strings.Contains(label, w) {
				return false
			}
		}
		return true
	}
}

func containsAny(label string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(label, w) {
			return true
		}
	}
	return false
}

// SourceFor uses a lead loaded with its partner and assigned agent.
func SourceFor(lead *models.Lead) Source {
	if lead == nil {
		return Source{}
	}
	return Source{Lead: lead, Partner: lead.Partner, Agent: lead.User}
}
