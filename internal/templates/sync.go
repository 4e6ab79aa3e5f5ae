// Package templates mirrors the business account's approved message
// templates and turns agent input into template send payloads.
package templates

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/whatsapp"
	"whatsapp-crm/pkg/logging"
)

const statusApproved = "APPROVED"

var placeholderPattern = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

// Lister fetches template definitions from the provider.
type Lister interface {
	GetTemplates(ctx context.Context) ([]whatsapp.TemplateDefinition, error)
}

// Store persists synced templates.
type Store interface {
	UpsertTemplate(ctx context.Context, tpl *models.Template) (created bool, err error)
}

// SyncResult counts what a sync did.
type SyncResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

func (r SyncResult) String() string {
	return fmt.Sprintf("%d templates created, %d templates updated.", r.Created, r.Updated)
}

type Syncer struct {
	lister Lister
	store  Store
	logger *logging.Logger
}

func NewSyncer(lister Lister, store Store, logger *logging.Logger) *Syncer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Syncer{lister: lister, store: store, logger: logger}
}

// Sync upserts every approved template on (name, language). Templates in any
// other status are skipped; nothing is ever deleted locally.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	defs, err := s.lister.GetTemplates(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("templates: list: %w", err)
	}

	var res SyncResult
	for _, def := range defs {
		if def.Status != statusApproved {
			res.Skipped++
			continue
		}
		tpl := FromDefinition(def)
		created, err := s.store.UpsertTemplate(ctx, &tpl)
		if err != nil {
			return res, fmt.Errorf("templates: save %s/%s: %w", def.Name, def.Language, err)
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	s.logger.Info("templates: sync finished", "created", res.Created, "updated", res.Updated, "skipped", res.Skipped)
	return res, nil
}

// FromDefinition extracts the locally stored fields of a provider template.
func FromDefinition(def whatsapp.TemplateDefinition) models.Template {
	tpl := models.Template{
		Name:         def.Name,
		LanguageCode: def.Language,
		Category:     def.Category,
	}
	for _, c := range def.Components {
		switch strings.ToUpper(c.Type) {
		case "BODY":
			if tpl.BodyText == "" {
				tpl.BodyText = c.Text
			}
		case "HEADER":
			if tpl.HeaderType != "" {
				continue
			}
			tpl.HeaderType = strings.ToUpper(c.Format)
			if tpl.HeaderType == "" {
				tpl.HeaderType = HeaderText
			}
			tpl.HasHeaderVariable = len(c.Example) > 0
		}
	}
	tpl.PlaceholderNames = Placeholders(tpl.BodyText)
	tpl.VariableCount = len(tpl.PlaceholderNames)
	return tpl
}

// Placeholders returns the names inside {{...}} markers of body, in order of
// appearance. Repeated markers are listed once per occurrence.
func Placeholders(body string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(body, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}
