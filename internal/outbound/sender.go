// Package outbound sends agent replies to a lead over WhatsApp: free-form
// messages inside the reply window and approved templates at any time.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"whatsapp-crm/internal/media"
	"whatsapp-crm/internal/metrics"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/phone"
	"whatsapp-crm/internal/templates"
	"whatsapp-crm/internal/whatsapp"
	"whatsapp-crm/internal/window"
	"whatsapp-crm/pkg/logging"
)

const (
	modeFreeForm = "free_form"
	modeTemplate = "template"

	channelWhatsApp = "whatsapp"
)

// ErrWindowClosed is returned for free-form sends outside the reply window.
var ErrWindowClosed = errors.New("outbound: the 24-hour service window is closed, send a template instead")

// ValidationError rejects a send before anything reaches the provider.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Reason == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Provider is the slice of the Graph client used for sends.
type Provider interface {
	SendText(ctx context.Context, to, body string) (string, error)
	UploadMedia(ctx context.Context, data []byte, mimeType, filename string) (*whatsapp.MediaResponse, error)
	SendMedia(ctx context.Context, to, kind, mediaID, filename string) (string, error)
	SendTemplate(ctx context.Context, to string, tpl whatsapp.TemplateObj) (string, error)
}

// Store is the CRM storage used to load records and log sends.
type Store interface {
	GetLead(ctx context.Context, id uint) (*models.Lead, error)
	GetTemplate(ctx context.Context, id uint) (*models.Template, error)
	CreateAttachment(ctx context.Context, att *models.Attachment, data []byte) error
	PostMessage(ctx context.Context, msg *models.Message, recipientIDs, attachmentIDs []uint) error
}

// File is an agent-supplied attachment.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// ReplyRequest is a free-form send. To defaults to the lead's best number.
type ReplyRequest struct {
	LeadID  uint
	To      string
	Message string
	Files   []File
	Author  *models.User
}

// TemplateRequest is a template send. Variables are in sequence order.
type TemplateRequest struct {
	LeadID      uint
	TemplateID  uint
	To          string
	HeaderValue string
	Variables   []string
	Author      *models.User
}

// Receipt reports a completed send.
type Receipt struct {
	To         string          `json:"to"`
	MessageIDs []string        `json:"message_ids"`
	Log        *models.Message `json:"log"`
}

type Options struct {
	Provider       Provider
	Store          Store
	Metrics        *metrics.WhatsAppMetrics
	Logger         *logging.Logger
	MaxUploadBytes int64
	Now            func() time.Time
}

type Sender struct {
	opts   Options
	logger *logging.Logger
}

func NewSender(opts Options) *Sender {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 100 * 1024 * 1024
	}
	return &Sender{opts: opts, logger: opts.Logger}
}

// DefaultDestination picks the number a reply goes to when the agent does not
// type one: partner mobile, partner phone, lead mobile, lead phone.
func DefaultDestination(lead *models.Lead) string {
	var candidates []string
	if lead.Partner != nil {
		candidates = append(candidates, lead.Partner.Mobile, lead.Partner.Phone)
	}
	candidates = append(candidates, lead.Mobile, lead.Phone)
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return strings.TrimSpace(c)
		}
	}
	return ""
}

func destination(lead *models.Lead, to string) (phone.Number, error) {
	raw := strings.TrimSpace(to)
	if raw == "" {
		raw = DefaultDestination(lead)
	}
	if raw == "" {
		return phone.Number{}, &ValidationError{Field: "to", Reason: "recipient has no phone/mobile set"}
	}
	n, err := phone.Strict(raw)
	if err != nil {
		return phone.Number{}, &ValidationError{Field: "to", Reason: err.Error(), Err: err}
	}
	return n, nil
}

// Reply sends text and files to the lead. Everything is validated before the
// first provider call. A provider failure midway is returned as is; messages
// already delivered stay delivered and no log entry is written.
func (s *Sender) Reply(ctx context.Context, req ReplyRequest) (*Receipt, error) {
	receipt, err := s.reply(ctx, req)
	s.observe(modeFreeForm, err)
	return receipt, err
}

func (s *Sender) reply(ctx context.Context, req ReplyRequest) (*Receipt, error) {
	lead, err := s.opts.Store.GetLead(ctx, req.LeadID)
	if err != nil {
		return nil, err
	}
	if !window.IsOpen(lead, s.opts.Now()) {
		return nil, ErrWindowClosed
	}
	to, err := destination(lead, req.To)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(req.Message)
	if text == "" && len(req.Files) == 0 {
		return nil, &ValidationError{Field: "message", Reason: "write a message or attach a file"}
	}
	files := make([]File, 0, len(req.Files))
	for _, f := range req.Files {
		if int64(len(f.Data)) > s.opts.MaxUploadBytes {
			return nil, &ValidationError{
				Field:  "files",
				Reason: fmt.Sprintf("file %s is too large to send (>%d MB)", f.Name, s.opts.MaxUploadBytes/(1024*1024)),
			}
		}
		if strings.TrimSpace(f.Name) == "" {
			f.Name = "file"
		}
		f.MimeType = media.Detect(f.MimeType, f.Data)
		files = append(files, f)
	}

	receipt := &Receipt{To: to.E164}
	if text != "" {
		id, err := s.opts.Provider.SendText(ctx, to.E164, text)
		if err != nil {
			return nil, fmt.Errorf("outbound: send text: %w", err)
		}
		receipt.MessageIDs = append(receipt.MessageIDs, id)
	}
	for _, f := range files {
		uploaded, err := s.opts.Provider.UploadMedia(ctx, f.Data, f.MimeType, f.Name)
		if err != nil {
			return nil, fmt.Errorf("outbound: upload %s: %w", f.Name, err)
		}
		id, err := s.opts.Provider.SendMedia(ctx, to.E164, media.WAType(f.MimeType), uploaded.ID, f.Name)
		if err != nil {
			return nil, fmt.Errorf("outbound: send %s: %w", f.Name, err)
		}
		receipt.MessageIDs = append(receipt.MessageIDs, id)
	}
	s.logger.Info("outbound: reply sent", "lead_id", lead.ID, "to", to.E164, "files", len(files))

	receipt.Log = s.logReply(ctx, lead, to, text, files, req.Author)
	return receipt, nil
}

// logReply records the reply as an internal note with the text and file
// names. The send already happened, so failures here are only logged.
func (s *Sender) logReply(ctx context.Context, lead *models.Lead, to phone.Number, text string, files []File, author *models.User) *models.Message {
	parts := []string{fmt.Sprintf("Sent via WhatsApp to <b>%s</b>", html.EscapeString(to.E164))}
	if text != "" {
		safe := strings.ReplaceAll(html.EscapeString(text), "\n", "<br/>")
		parts = append(parts, "<div><i>Message:</i><br/>"+safe+"</div>")
	}
	var attachmentIDs []uint
	if len(files) > 0 {
		names := make([]string, 0, len(files))
		for _, f := range files {
			names = append(names, html.EscapeString(f.Name))
			att := &models.Attachment{LeadID: lead.ID, Name: f.Name, MimeType: f.MimeType}
			if err := s.opts.Store.CreateAttachment(ctx, att, f.Data); err != nil {
				s.logger.Warn("outbound: keep sent file failed", "lead_id", lead.ID, "file", f.Name, "error", err)
				continue
			}
			attachmentIDs = append(attachmentIDs, att.ID)
		}
		parts = append(parts, "<div><i>Attachments:</i> "+strings.Join(names, ", ")+"</div>")
	}

	entry := newLogEntry(lead, author, models.SubtypeNote, strings.Join(parts, "<br/>"))
	if err := s.opts.Store.PostMessage(ctx, entry, nil, attachmentIDs); err != nil {
		s.logger.Error("outbound: log reply failed", "lead_id", lead.ID, "error", err)
		return nil
	}
	return entry
}

// SendTemplate sends an approved template. It is allowed outside the reply
// window.
func (s *Sender) SendTemplate(ctx context.Context, req TemplateRequest) (*Receipt, error) {
	receipt, err := s.sendTemplate(ctx, req)
	s.observe(modeTemplate, err)
	return receipt, err
}

func (s *Sender) sendTemplate(ctx context.Context, req TemplateRequest) (*Receipt, error) {
	lead, err := s.opts.Store.GetLead(ctx, req.LeadID)
	if err != nil {
		return nil, err
	}
	tpl, err := s.opts.Store.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	to, err := destination(lead, req.To)
	if err != nil {
		return nil, err
	}
	payload, err := templates.BuildPayload(tpl, req.HeaderValue, req.Variables)
	if err != nil {
		field := "variables"
		if errors.Is(err, templates.ErrMissingHeaderValue) {
			field = "header_value"
		}
		return nil, &ValidationError{Field: field, Reason: err.Error(), Err: err}
	}

	id, err := s.opts.Provider.SendTemplate(ctx, to.E164, payload)
	if err != nil {
		return nil, fmt.Errorf("outbound: send template %s: %w", tpl.Name, err)
	}
	s.logger.Info("outbound: template sent", "lead_id", lead.ID, "to", to.E164, "template", tpl.Name)

	body := fmt.Sprintf("Sent WhatsApp Template: <b>%s</b> to <b>%s</b>", html.EscapeString(tpl.Name), html.EscapeString(to.E164))
	entry := newLogEntry(lead, req.Author, models.SubtypeComment, body)
	receipt := &Receipt{To: to.E164, MessageIDs: []string{id}}
	if err := s.opts.Store.PostMessage(ctx, entry, nil, nil); err != nil {
		s.logger.Error("outbound: log template send failed", "lead_id", lead.ID, "error", err)
	} else {
		receipt.Log = entry
	}
	return receipt, nil
}

func newLogEntry(lead *models.Lead, author *models.User, subtype, body string) *models.Message {
	entry := &models.Message{
		LeadID:        lead.ID,
		Body:          body,
		Subtype:       subtype,
		Channel:       channelWhatsApp,
		SuppressEmail: true,
		AuthorKind:    models.AuthorUser,
	}
	if author != nil {
		entry.AuthorUserID = &author.ID
		entry.AuthorName = author.Name
	}
	return entry
}

func (s *Sender) observe(mode string, err error) {
	var verr *ValidationError
	switch {
	case err == nil:
		s.opts.Metrics.ObserveOutbound(mode, "sent")
	case errors.Is(err, ErrWindowClosed), errors.As(err, &verr):
		s.opts.Metrics.ObserveOutbound(mode, "rejected")
	default:
		s.opts.Metrics.ObserveOutbound(mode, "failed")
	}
}
