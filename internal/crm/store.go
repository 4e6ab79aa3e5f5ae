// Package crm is the gorm-backed adapter for the CRM records the WhatsApp
// bridge reads and writes: partners, leads, the activity feed, inbox
// notifications, attachments and synced templates.
package crm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"whatsapp-crm/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("crm: record not found")

// BlobStore keeps attachment content outside the database.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// PhoneColumn selects which phone column a PhoneQuery searches.
type PhoneColumn int

const (
	ByMobileOrPhone PhoneColumn = iota
	ByMobile
	ByPhone
)

// PhoneQuery searches phone columns either by exact raw value or by the
// trailing digits of the normalized number. Exactly one of Values/Tail is used;
// Values wins when both are set.
type PhoneQuery struct {
	Column PhoneColumn
	Values []string
	Tail   string
}

func (q PhoneQuery) empty() bool {
	return len(q.Values) == 0 && q.Tail == ""
}

// Store implements the CRM collaborator on top of gorm.
type Store struct {
	db    *gorm.DB
	blobs BlobStore
}

// NewStore wraps db. blobs may be nil, in which case attachment content is
// kept inline in the attachments table.
func NewStore(db *gorm.DB, blobs BlobStore) *Store {
	if db == nil {
		panic("crm: gorm db required")
	}
	return &Store{db: db, blobs: blobs}
}

func (s *Store) phoneScope(q PhoneQuery) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if len(q.Values) > 0 {
			switch q.Column {
			case ByMobile:
				return tx.Where("mobile IN ?", q.Values)
			case ByPhone:
				return tx.Where("phone IN ?", q.Values)
			default:
				return tx.Where("mobile IN ? OR phone IN ?", q.Values, q.Values)
			}
		}
		pattern := "%" + q.Tail
		switch q.Column {
		case ByMobile:
			return tx.Where("mobile_digits LIKE ?", pattern)
		case ByPhone:
			return tx.Where("phone_digits LIKE ?", pattern)
		default:
			return tx.Where("mobile_digits LIKE ? OR phone_digits LIKE ?", pattern, pattern)
		}
	}
}

// FindPartner returns the most recently created partner matching q.
func (s *Store) FindPartner(ctx context.Context, q PhoneQuery) (*models.Partner, error) {
	if q.empty() {
		return nil, ErrNotFound
	}
	var partner models.Partner
	err := s.db.WithContext(ctx).
		Scopes(s.phoneScope(q)).
		Order("created_at DESC, id DESC").
		First(&partner).Error
	if err != nil {
		return nil, translate(err, "find partner")
	}
	return &partner, nil
}

// FindLead returns the most recently created lead matching q.
func (s *Store) FindLead(ctx context.Context, q PhoneQuery) (*models.Lead, error) {
	if q.empty() {
		return nil, ErrNotFound
	}
	var lead models.Lead
	err := s.db.WithContext(ctx).
		Scopes(s.phoneScope(q)).
		Order("created_at DESC, id DESC").
		First(&lead).Error
	if err != nil {
		return nil, translate(err, "find lead")
	}
	return &lead, nil
}

// LatestLeadForPartner returns the partner's most recently created lead.
func (s *Store) LatestLeadForPartner(ctx context.Context, partnerID uint) (*models.Lead, error) {
	var lead models.Lead
	err := s.db.WithContext(ctx).
		Where("partner_id = ?", partnerID).
		Order("created_at DESC, id DESC").
		First(&lead).Error
	if err != nil {
		return nil, translate(err, "latest lead for partner")
	}
	return &lead, nil
}

func (s *Store) CreateLead(ctx context.Context, lead *models.Lead) error {
	if err := s.db.WithContext(ctx).Create(lead).Error; err != nil {
		return fmt.Errorf("crm: create lead: %w", err)
	}
	return nil
}

// GetLead loads a lead with its partner and assigned agent.
func (s *Store) GetLead(ctx context.Context, id uint) (*models.Lead, error) {
	var lead models.Lead
	err := s.db.WithContext(ctx).
		Preload("Partner").
		Preload("User.Employee").
		Preload("User.Partner").
		First(&lead, id).Error
	if err != nil {
		return nil, translate(err, "get lead")
	}
	return &lead, nil
}

// TouchInbound overwrites the lead's last inbound timestamp.
func (s *Store) TouchInbound(ctx context.Context, leadID uint, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.Lead{}).
		Where("id = ?", leadID).
		UpdateColumn("last_inbound_whatsapp_at", at)
	if res.Error != nil {
		return fmt.Errorf("crm: touch inbound: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetLeadPartner(ctx context.Context, leadID, partnerID uint) error {
	err := s.db.WithContext(ctx).
		Model(&models.Lead{}).
		Where("id = ?", leadID).
		UpdateColumn("partner_id", partnerID).Error
	if err != nil {
		return fmt.Errorf("crm: set lead partner: %w", err)
	}
	return nil
}

// Followers returns the ids of users following the lead.
func (s *Store) Followers(ctx context.Context, leadID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).
		Model(&models.LeadFollower{}).
		Where("lead_id = ?", leadID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("crm: followers: %w", err)
	}
	return ids, nil
}

func (s *Store) AddFollower(ctx context.Context, leadID, userID uint) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.LeadFollower{LeadID: leadID, UserID: userID}).Error
	if err != nil {
		return fmt.Errorf("crm: add follower: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("Employee").Preload("Partner").First(&user, id).Error
	if err != nil {
		return nil, translate(err, "get user")
	}
	return &user, nil
}

// CreateAttachment stores data and records the attachment. Content lands in
// the blob store when one is configured.
func (s *Store) CreateAttachment(ctx context.Context, att *models.Attachment, data []byte) error {
	att.Size = int64(len(data))
	if s.blobs != nil {
		key := fmt.Sprintf("leads/%d/%s%s", att.LeadID, uuid.New().String(), filepath.Ext(att.Name))
		if err := s.blobs.Put(ctx, key, data, att.MimeType); err != nil {
			return fmt.Errorf("crm: store attachment content: %w", err)
		}
		att.ObjectKey = key
	} else {
		att.Data = data
	}
	if err := s.db.WithContext(ctx).Create(att).Error; err != nil {
		return fmt.Errorf("crm: create attachment: %w", err)
	}
	return nil
}

// OpenAttachment returns the attachment record and its content.
func (s *Store) OpenAttachment(ctx context.Context, id uint) (*models.Attachment, []byte, error) {
	var att models.Attachment
	if err := s.db.WithContext(ctx).First(&att, id).Error; err != nil {
		return nil, nil, translate(err, "open attachment")
	}
	if att.ObjectKey == "" {
		return &att, att.Data, nil
	}
	if s.blobs == nil {
		return nil, nil, fmt.Errorf("crm: attachment %d stored externally but no blob store configured", id)
	}
	data, err := s.blobs.Get(ctx, att.ObjectKey)
	if err != nil {
		return nil, nil, fmt.Errorf("crm: read attachment content: %w", err)
	}
	return &att, data, nil
}

type messageRecipient struct {
	MessageID uint
	UserID    uint
}

func (messageRecipient) TableName() string {
	return "message_recipients"
}

// PostMessage appends msg to the lead's feed, addressing it to recipientIDs and
// linking any attachments listed in attachmentIDs.
func (s *Store) PostMessage(ctx context.Context, msg *models.Message, recipientIDs, attachmentIDs []uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(msg).Error; err != nil {
			return fmt.Errorf("crm: post message: %w", err)
		}
		if len(recipientIDs) > 0 {
			rows := make([]messageRecipient, 0, len(recipientIDs))
			for _, id := range recipientIDs {
				rows = append(rows, messageRecipient{MessageID: msg.ID, UserID: id})
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
				return fmt.Errorf("crm: address message: %w", err)
			}
		}
		if len(attachmentIDs) > 0 {
			err := tx.Model(&models.Attachment{}).
				Where("id IN ?", attachmentIDs).
				UpdateColumn("message_id", msg.ID).Error
			if err != nil {
				return fmt.Errorf("crm: link attachments: %w", err)
			}
		}
		return nil
	})
}

// UpsertNotification creates the user's inbox entry for a message, or marks an
// existing one unread again.
func (s *Store) UpsertNotification(ctx context.Context, messageID, userID uint) (*models.Notification, error) {
	n := models.Notification{MessageID: messageID, UserID: userID}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"read": false, "updated_at": time.Now()}),
	}).Create(&n).Error
	if err != nil {
		return nil, fmt.Errorf("crm: upsert notification: %w", err)
	}
	return &n, nil
}

// UnreadNotifications lists a user's unread inbox entries, newest first.
func (s *Store) UnreadNotifications(ctx context.Context, userID uint) ([]models.Notification, error) {
	var out []models.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND read = ?", userID, false).
		Order("updated_at DESC, id DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("crm: unread notifications: %w", err)
	}
	return out, nil
}

// ListMessages returns the newest feed entries of a lead.
func (s *Store) ListMessages(ctx context.Context, leadID uint, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Preload("Attachments", func(tx *gorm.DB) *gorm.DB { return tx.Omit("data") }).
		Where("lead_id = ?", leadID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("crm: list messages: %w", err)
	}
	return msgs, nil
}

// UpsertTemplate mirrors a provider template keyed by (name, language). Agent
// maintained descriptions are preserved on update.
func (s *Store) UpsertTemplate(ctx context.Context, tpl *models.Template) (created bool, err error) {
	var existing models.Template
	err = s.db.WithContext(ctx).
		Where("name = ? AND language_code = ?", tpl.Name, tpl.LanguageCode).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(tpl).Error; err != nil {
			return false, fmt.Errorf("crm: create template: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("crm: find template: %w", err)
	}

	tpl.ID = existing.ID
	tpl.VariableDescriptions = existing.VariableDescriptions
	tpl.HeaderVariableDescription = existing.HeaderVariableDescription
	err = s.db.WithContext(ctx).Model(&existing).
		Select("Category", "BodyText", "PlaceholderNames", "VariableCount", "HasHeaderVariable", "HeaderType").
		Updates(tpl).Error
	if err != nil {
		return false, fmt.Errorf("crm: update template: %w", err)
	}
	return false, nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]models.Template, error) {
	var out []models.Template
	if err := s.db.WithContext(ctx).Order("name, language_code").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("crm: list templates: %w", err)
	}
	return out, nil
}

func (s *Store) GetTemplate(ctx context.Context, id uint) (*models.Template, error) {
	var tpl models.Template
	if err := s.db.WithContext(ctx).First(&tpl, id).Error; err != nil {
		return nil, translate(err, "get template")
	}
	return &tpl, nil
}

func (s *Store) UpdateTemplateDescriptions(ctx context.Context, id uint, variables, header string) error {
	res := s.db.WithContext(ctx).Model(&models.Template{}).Where("id = ?", id).Updates(map[string]interface{}{
		"variable_descriptions":       variables,
		"header_variable_description": header,
	})
	if res.Error != nil {
		return fmt.Errorf("crm: update template descriptions: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func translate(err error, action string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("crm: %s: %w", action, err)
}
