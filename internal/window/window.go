// Package window tracks the 24-hour customer-service window that gates
// free-form WhatsApp replies.
package window

import (
	"context"
	"fmt"
	"time"

	"whatsapp-crm/internal/models"
)

// Length is how long after the last inbound message free-form replies stay allowed.
const Length = 24 * time.Hour

// Text shown when the window is closed.
const (
	Expired   = "Expired"
	NoContact = "No contact yet"
)

// Toucher persists the last inbound timestamp of a lead.
type Toucher interface {
	TouchInbound(ctx context.Context, leadID uint, at time.Time) error
}

// Status is the window state of a lead at a point in time.
type Status struct {
	Open      bool       `json:"open"`
	Deadline  *time.Time `json:"deadline"`
	Remaining string     `json:"remaining"`
}

// Tracker reads and writes the window state. Everything but Touch is a pure
// function of the lead's stored timestamp and the supplied time.
type Tracker struct {
	store Toucher
}

func NewTracker(store Toucher) *Tracker {
	return &Tracker{store: store}
}

// Touch records at as the lead's last inbound time. Older values are
// overwritten unconditionally.
func (t *Tracker) Touch(ctx context.Context, lead *models.Lead, at time.Time) error {
	if err := t.store.TouchInbound(ctx, lead.ID, at); err != nil {
		return fmt.Errorf("window: touch lead %d: %w", lead.ID, err)
	}
	lead.LastInboundWhatsAppAt = &at
	return nil
}

// Deadline returns when the window closes, or false if the lead never wrote in.
func Deadline(lead *models.Lead) (time.Time, bool) {
	if lead == nil || lead.LastInboundWhatsAppAt == nil {
		return time.Time{}, false
	}
	return lead.LastInboundWhatsAppAt.Add(Length), true
}

// IsOpen reports whether less than Length has passed since the last inbound message.
func IsOpen(lead *models.Lead, now time.Time) bool {
	if lead == nil || lead.LastInboundWhatsAppAt == nil {
		return false
	}
	return now.Sub(*lead.LastInboundWhatsAppAt) < Length
}

// Remaining renders the time left as "5h 12m left", "5h left", "12m left" or
// "Under 1m left", and a sentinel when the window is closed.
func Remaining(lead *models.Lead, now time.Time) string {
	deadline, ok := Deadline(lead)
	if !ok {
		return NoContact
	}
	if !IsOpen(lead, now) {
		return Expired
	}
	left := deadline.Sub(now)
	hours := int(left / time.Hour)
	minutes := int((left % time.Hour) / time.Minute)
	switch {
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%dh %dm left", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh left", hours)
	case minutes > 0:
		return fmt.Sprintf("%dm left", minutes)
	default:
		return "Under 1m left"
	}
}

// StatusAt bundles the derived window fields for display.
func StatusAt(lead *models.Lead, now time.Time) Status {
	s := Status{Open: IsOpen(lead, now), Remaining: Remaining(lead, now)}
	if d, ok := Deadline(lead); ok {
		s.Deadline = &d
	}
	return s
}
