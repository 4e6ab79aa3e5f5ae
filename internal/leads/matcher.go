// Package leads resolves an inbound WhatsApp sender to the lead its
// conversation belongs to.
package leads

import (
	"context"
	"errors"
	"fmt"

	"whatsapp-crm/internal/crm"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/phone"
	"whatsapp-crm/pkg/logging"
)

// Store is the slice of the CRM the matcher needs.
type Store interface {
	FindPartner(ctx context.Context, q crm.PhoneQuery) (*models.Partner, error)
	FindLead(ctx context.Context, q crm.PhoneQuery) (*models.Lead, error)
	LatestLeadForPartner(ctx context.Context, partnerID uint) (*models.Lead, error)
	CreateLead(ctx context.Context, lead *models.Lead) error
}

// How a lead was resolved.
const (
	MatchPartnerMobile = "partner_mobile"
	MatchPartnerPhone  = "partner_phone"
	MatchPartnerTail   = "partner_tail"
	MatchLeadExact     = "lead_exact"
	MatchLeadTail      = "lead_tail"
	MatchCreated       = "created"
)

// Resolution is the outcome of a lookup.
type Resolution struct {
	Lead      *models.Lead
	Partner   *models.Partner // partner the lead was reached through, if any
	MatchedBy string
}

// Created reports whether the lead did not exist before this resolution.
func (r Resolution) Created() bool {
	return r.MatchedBy == MatchCreated
}

// Matcher finds the lead for a phone number. Lookups never write; creation is
// a separate step so callers know when a record may be added.
type Matcher struct {
	store  Store
	logger *logging.Logger
}

func NewMatcher(store Store, logger *logging.Logger) *Matcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Matcher{store: store, logger: logger}
}

// MatchPartner runs the partner cascade: exact mobile, exact phone, then the
// trailing digits of either column.
func (m *Matcher) MatchPartner(ctx context.Context, n phone.Number) (*models.Partner, string, error) {
	exact := exactValues(n)
	steps := []struct {
		q   crm.PhoneQuery
		tag string
	}{
		{crm.PhoneQuery{Column: crm.ByMobile, Values: exact}, MatchPartnerMobile},
		{crm.PhoneQuery{Column: crm.ByPhone, Values: exact}, MatchPartnerPhone},
		{crm.PhoneQuery{Column: crm.ByMobileOrPhone, Tail: n.Tail()}, MatchPartnerTail},
	}
	for _, step := range steps {
		if step.q.Tail == "" && len(step.q.Values) == 0 {
			continue
		}
		partner, err := m.store.FindPartner(ctx, step.q)
		if err == nil {
			return partner, step.tag, nil
		}
		if !errors.Is(err, crm.ErrNotFound) {
			return nil, "", err
		}
	}
	return nil, "", crm.ErrNotFound
}

// MatchPartnerByTail is the loose partner match used to link a partner to a
// lead after the fact.
func (m *Matcher) MatchPartnerByTail(ctx context.Context, n phone.Number) (*models.Partner, error) {
	tail := n.Tail()
	if tail == "" {
		return nil, crm.ErrNotFound
	}
	return m.store.FindPartner(ctx, crm.PhoneQuery{Column: crm.ByMobileOrPhone, Tail: tail})
}

// Find resolves n to an existing lead. It returns crm.ErrNotFound when nothing
// matches; the returned Resolution then still carries any partner found so
// Create can link it.
func (m *Matcher) Find(ctx context.Context, n phone.Number) (Resolution, error) {
	partner, tag, err := m.MatchPartner(ctx, n)
	switch {
	case err == nil:
		lead, err := m.store.LatestLeadForPartner(ctx, partner.ID)
		if err == nil {
			return Resolution{Lead: lead, Partner: partner, MatchedBy: tag}, nil
		}
		if !errors.Is(err, crm.ErrNotFound) {
			return Resolution{}, err
		}
		m.logger.Debug("leads: partner has no lead, searching leads directly", "partner_id", partner.ID)
	case !errors.Is(err, crm.ErrNotFound):
		return Resolution{}, err
	}

	lead, err := m.store.FindLead(ctx, crm.PhoneQuery{Values: exactValues(n)})
	if err == nil {
		return Resolution{Lead: lead, Partner: partner, MatchedBy: MatchLeadExact}, nil
	}
	if !errors.Is(err, crm.ErrNotFound) {
		return Resolution{}, err
	}

	if tail := n.Tail(); tail != "" {
		lead, err = m.store.FindLead(ctx, crm.PhoneQuery{Tail: tail})
		if err == nil {
			return Resolution{Lead: lead, Partner: partner, MatchedBy: MatchLeadTail}, nil
		}
		if !errors.Is(err, crm.ErrNotFound) {
			return Resolution{}, err
		}
	}
	return Resolution{Partner: partner}, crm.ErrNotFound
}

// Create adds a lead for a sender nobody knows yet. partner may be nil.
//
// Two first contacts from the same number that both pass Find before either
// reaches Create will produce two leads; nothing here serializes them.
func (m *Matcher) Create(ctx context.Context, n phone.Number, partner *models.Partner) (*models.Lead, error) {
	lead := &models.Lead{
		Name:  LeadName(n),
		Phone: n.E164,
	}
	if partner != nil {
		lead.PartnerID = &partner.ID
	}
	if err := m.store.CreateLead(ctx, lead); err != nil {
		return nil, fmt.Errorf("leads: create for %s: %w", n.E164, err)
	}
	m.logger.Info("leads: created lead for unknown sender", "lead_id", lead.ID, "phone", n.E164)
	return lead, nil
}

// FindOrCreate runs Find and falls back to Create.
func (m *Matcher) FindOrCreate(ctx context.Context, n phone.Number) (Resolution, error) {
	res, err := m.Find(ctx, n)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, crm.ErrNotFound) {
		return Resolution{}, err
	}
	lead, err := m.Create(ctx, n, res.Partner)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Lead: lead, Partner: res.Partner, MatchedBy: MatchCreated}, nil
}

// LeadName is the name given to leads created from an inbound message.
func LeadName(n phone.Number) string {
	return "WhatsApp " + n.E164
}

func exactValues(n phone.Number) []string {
	if n.Digits == "" {
		return nil
	}
	return []string{n.E164, n.Digits}
}
