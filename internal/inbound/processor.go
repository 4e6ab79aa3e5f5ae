// Package inbound turns WhatsApp webhook deliveries into lead activity:
// lead resolution, reply window bookkeeping, media download, feed posts and
// agent notifications.
package inbound

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"whatsapp-crm/internal/leads"
	"whatsapp-crm/internal/media"
	"whatsapp-crm/internal/metrics"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/phone"
	"whatsapp-crm/internal/ws"
	"whatsapp-crm/pkg/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var inboundTracer = otel.Tracer("whatsapp-crm.internal.inbound")

// ChannelWhatsApp tags feed entries that came from or went to WhatsApp.
const ChannelWhatsApp = "whatsapp"

// Outcomes reported per processed delivery.
const (
	OutcomeIgnored       = "ignored"
	OutcomeDuplicate     = "duplicate"
	OutcomeInvalidSender = "invalid_sender"
	OutcomeLeadFailed    = "lead_failed"
	OutcomeEmpty         = "empty"
	OutcomePosted        = "posted"
	OutcomeMediaFailed   = "media_failed"
	OutcomePostFailed    = "post_failed"
)

// Store is the CRM storage the processor writes to.
type Store interface {
	GetLead(ctx context.Context, id uint) (*models.Lead, error)
	SetLeadPartner(ctx context.Context, leadID, partnerID uint) error
	Followers(ctx context.Context, leadID uint) ([]uint, error)
	CreateAttachment(ctx context.Context, att *models.Attachment, data []byte) error
	PostMessage(ctx context.Context, msg *models.Message, recipientIDs, attachmentIDs []uint) error
	UpsertNotification(ctx context.Context, messageID, userID uint) (*models.Notification, error)
}

type LeadResolver interface {
	FindOrCreate(ctx context.Context, n phone.Number) (leads.Resolution, error)
	MatchPartnerByTail(ctx context.Context, n phone.Number) (*models.Partner, error)
}

type WindowToucher interface {
	Touch(ctx context.Context, lead *models.Lead, at time.Time) error
}

type MediaFetcher interface {
	Fetch(ctx context.Context, mediaID, hint string) (media.File, error)
}

type Notifier interface {
	PushToUser(userID uint, eventType string, data interface{})
}

type ReplayGuard interface {
	FirstDelivery(ctx context.Context, messageID string) bool
	Forget(ctx context.Context, messageID string) error
}

// Options wires the processor. Guard, Notifier and Metrics may be nil.
type Options struct {
	Store         Store
	Leads         LeadResolver
	Window        WindowToucher
	Media         MediaFetcher
	Notifier      Notifier
	Guard         ReplayGuard
	Metrics       *metrics.WhatsAppMetrics
	Logger        *logging.Logger
	AuthorName    string // shown for senders without a partner record
	PublicBaseURL string // prefix for attachment links in feed bodies
	Now           func() time.Time
}

// Result describes what happened to one delivery.
type Result struct {
	Outcome   string
	Kind      Kind
	LeadID    uint
	MessageID uint
	Created   bool
}

type Processor struct {
	opts   Options
	logger *logging.Logger
}

func NewProcessor(opts Options) *Processor {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AuthorName == "" {
		opts.AuthorName = "WhatsApp"
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	return &Processor{opts: opts, logger: opts.Logger}
}

// Process handles one webhook delivery. It never returns an error: the
// delivery is always acknowledged, and failures are reported in the Result
// and the logs.
func (p *Processor) Process(ctx context.Context, payload WebhookPayload) Result {
	raw, contactName, ok := payload.FirstMessage()
	if !ok {
		return Result{Outcome: OutcomeIgnored}
	}
	msg, err := Decode(raw)
	if err != nil {
		p.logger.Warn("inbound: undecodable message", "message_id", raw.ID, "type", raw.Type, "error", err)
		p.opts.Metrics.ObserveInbound(metricKind(Kind(strings.ToLower(raw.Type))), OutcomeIgnored)
		return Result{Outcome: OutcomeIgnored, Kind: Kind(raw.Type)}
	}
	msg.ContactName = contactName

	start := time.Now()
	res := p.HandleMessage(ctx, msg)
	kind := metricKind(res.Kind)
	p.opts.Metrics.ObserveInbound(kind, res.Outcome)
	p.opts.Metrics.ObserveProcessing(kind, time.Since(start).Seconds())
	return res
}

// kindOther labels every message type outside the known kinds, so senders
// cannot mint new metric series.
const kindOther = "other"

func metricKind(k Kind) string {
	switch k {
	case KindText, KindButton, KindInteractive, KindImage, KindAudio, KindVideo, KindDocument, KindSticker:
		return string(k)
	}
	return kindOther
}

// HandleMessage runs a decoded message through lead resolution, window
// tracking, feed posting and notification.
func (p *Processor) HandleMessage(ctx context.Context, msg Message) Result {
	ctx, span := inboundTracer.Start(ctx, "inbound.handle_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("whatsapp.message_id", msg.ID),
		attribute.String("whatsapp.kind", string(msg.Kind)),
	)
	res := Result{Kind: msg.Kind}
	now := p.opts.Now()

	number, err := phone.Normalize(msg.From)
	if err != nil {
		p.logger.Warn("inbound: sender has no usable number", "from", msg.From, "message_id", msg.ID)
		res.Outcome = OutcomeInvalidSender
		return res
	}
	span.SetAttributes(attribute.String("whatsapp.from", number.E164))

	if p.opts.Guard != nil && !p.opts.Guard.FirstDelivery(ctx, msg.ID) {
		p.logger.Info("inbound: duplicate delivery skipped", "message_id", msg.ID, "from", number.E164)
		res.Outcome = OutcomeDuplicate
		return res
	}

	resolution, err := p.opts.Leads.FindOrCreate(ctx, number)
	if err != nil {
		span.RecordError(err)
		p.logger.Error("inbound: resolve lead failed", "from", number.E164, "error", err)
		p.release(ctx, msg.ID)
		res.Outcome = OutcomeLeadFailed
		return res
	}
	lead := resolution.Lead
	res.LeadID = lead.ID
	res.Created = resolution.Created()
	span.SetAttributes(
		attribute.Int64("crm.lead_id", int64(lead.ID)),
		attribute.String("crm.matched_by", resolution.MatchedBy),
	)
	p.logger.Info("inbound: lead resolved", "lead_id", lead.ID, "phone", number.E164, "matched_by", resolution.MatchedBy)

	if err := p.opts.Window.Touch(ctx, lead, now); err != nil {
		p.logger.Error("inbound: touch reply window failed", "lead_id", lead.ID, "error", err)
	}

	body, attachmentIDs, mediaFailed := p.compose(ctx, lead, msg)
	if body == "" {
		res.Outcome = OutcomeEmpty
		return res
	}

	lead = p.linkPartner(ctx, lead, resolution.Partner, number)

	posted, recipients, err := p.post(ctx, lead, msg, body, attachmentIDs)
	if err != nil {
		span.RecordError(err)
		p.logger.Error("inbound: post to feed failed", "lead_id", lead.ID, "error", err)
		res.Outcome = OutcomePostFailed
		return res
	}
	res.MessageID = posted.ID

	p.notify(ctx, lead, posted, recipients)

	res.Outcome = OutcomePosted
	if mediaFailed {
		res.Outcome = OutcomeMediaFailed
	}
	return res
}

// compose builds the HTML feed body for msg. Media is downloaded and stored
// as an attachment; a failed download becomes a note in the body.
func (p *Processor) compose(ctx context.Context, lead *models.Lead, msg Message) (body string, attachmentIDs []uint, mediaFailed bool) {
	switch c := msg.Content.(type) {
	case TextContent:
		return textToHTML(c.Body), nil, false
	case MediaContent:
		att, err := p.storeMedia(ctx, lead, msg.Kind, c)
		if err != nil {
			p.logger.Warn("inbound: media download failed", "lead_id", lead.ID, "media_id", c.MediaID, "error", err)
			note := fmt.Sprintf("WhatsApp %s received but could not be downloaded.", msg.Kind)
			return joinBody(html.EscapeString(note), textToHTML(c.Caption)), nil, true
		}
		link := fmt.Sprintf(`<a href="%s" target="_blank">%s</a>`,
			html.EscapeString(p.attachmentURL(att.ID)), html.EscapeString(att.Name))
		return joinBody(fmt.Sprintf("WhatsApp %s: %s", msg.Kind, link), textToHTML(c.Caption)), []uint{att.ID}, false
	case UnsupportedContent:
		p.logger.Info("inbound: unsupported message type", "lead_id", lead.ID, "type", c.Type)
		return html.EscapeString(fmt.Sprintf("Unsupported WhatsApp message type: %s", c.Type)), nil, false
	}
	return "", nil, false
}

func (p *Processor) storeMedia(ctx context.Context, lead *models.Lead, kind Kind, c MediaContent) (*models.Attachment, error) {
	file, err := p.opts.Media.Fetch(ctx, c.MediaID, c.MimeType)
	if err != nil {
		return nil, err
	}
	att := &models.Attachment{
		LeadID:   lead.ID,
		Name:     media.FileName(string(kind), c.MediaID, c.Filename, file.MimeType),
		MimeType: file.MimeType,
	}
	if err := p.opts.Store.CreateAttachment(ctx, att, file.Data); err != nil {
		return nil, err
	}
	return att, nil
}

// linkPartner attaches a partner to a lead that has none and reloads the lead
// with its partner and agent. Failures leave the lead as it was.
func (p *Processor) linkPartner(ctx context.Context, lead *models.Lead, partner *models.Partner, n phone.Number) *models.Lead {
	if lead.PartnerID == nil {
		if partner == nil {
			found, err := p.opts.Leads.MatchPartnerByTail(ctx, n)
			if err == nil {
				partner = found
			}
		}
		if partner != nil {
			if err := p.opts.Store.SetLeadPartner(ctx, lead.ID, partner.ID); err != nil {
				p.logger.Warn("inbound: link partner failed", "lead_id", lead.ID, "partner_id", partner.ID, "error", err)
			} else {
				lead.PartnerID = &partner.ID
				lead.Partner = partner
			}
		}
	}

	full, err := p.opts.Store.GetLead(ctx, lead.ID)
	if err != nil {
		p.logger.Warn("inbound: reload lead failed", "lead_id", lead.ID, "error", err)
		return lead
	}
	return full
}

func (p *Processor) post(ctx context.Context, lead *models.Lead, msg Message, body string, attachmentIDs []uint) (*models.Message, []uint, error) {
	followers, err := p.opts.Store.Followers(ctx, lead.ID)
	if err != nil {
		return nil, nil, err
	}
	recipients := recipientIDs(followers, lead.UserID)

	entry := &models.Message{
		LeadID:            lead.ID,
		Body:              body,
		Subtype:           models.SubtypeComment,
		Channel:           ChannelWhatsApp,
		ProviderMessageID: msg.ID,
		SuppressEmail:     true,
	}
	if lead.Partner != nil {
		entry.AuthorKind = models.AuthorPartner
		entry.AuthorPartnerID = &lead.Partner.ID
		entry.AuthorName = lead.Partner.Name
	} else {
		entry.AuthorKind = models.AuthorPublic
		entry.AuthorName = p.opts.AuthorName
		if msg.ContactName != "" {
			entry.AuthorName = fmt.Sprintf("%s (%s)", msg.ContactName, p.opts.AuthorName)
		}
	}

	if err := p.opts.Store.PostMessage(ctx, entry, recipients, attachmentIDs); err != nil {
		return nil, nil, err
	}
	return entry, recipients, nil
}

// notify pushes the new entry to each recipient's live channel and raises an
// unread inbox entry. Each recipient is handled independently.
func (p *Processor) notify(ctx context.Context, lead *models.Lead, entry *models.Message, recipients []uint) {
	for _, uid := range recipients {
		if p.opts.Notifier != nil {
			p.opts.Notifier.PushToUser(uid, ws.EventNewMessage, map[string]interface{}{
				"lead_id":   lead.ID,
				"lead_name": lead.Name,
				"message":   entry,
			})
		}
		n, err := p.opts.Store.UpsertNotification(ctx, entry.ID, uid)
		if err != nil {
			p.logger.Warn("inbound: inbox notification failed", "message_id", entry.ID, "user_id", uid, "error", err)
			continue
		}
		if p.opts.Notifier != nil {
			p.opts.Notifier.PushToUser(uid, ws.EventNotification, n)
		}
	}
}

// release drops the replay claim on msgID after a failure that left nothing
// behind, so the same delivery can be replayed by hand. The webhook always
// acknowledges, so the provider itself does not redeliver.
func (p *Processor) release(ctx context.Context, msgID string) {
	if p.opts.Guard == nil {
		return
	}
	if err := p.opts.Guard.Forget(ctx, msgID); err != nil {
		p.logger.Warn("inbound: release replay claim failed", "message_id", msgID, "error", err)
	}
}

func (p *Processor) attachmentURL(id uint) string {
	return fmt.Sprintf("%s/api/attachments/%d", p.opts.PublicBaseURL, id)
}

func recipientIDs(followers []uint, agentID *uint) []uint {
	seen := make(map[uint]bool, len(followers)+1)
	out := make([]uint, 0, len(followers)+1)
	add := func(id uint) {
		if id != 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range followers {
		add(id)
	}
	if agentID != nil {
		add(*agentID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func textToHTML(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.ReplaceAll(html.EscapeString(s), "\n", "<br/>")
}

func joinBody(parts ...string) string {
	var kept []string
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, "<br/>")
}
