package models

import (
	"time"

	"whatsapp-crm/internal/phone"

	"gorm.io/gorm"
)

// Message subtypes on the activity feed.
const (
	SubtypeComment = "comment"
	SubtypeNote    = "note"
)

// Author kinds on the activity feed.
const (
	AuthorPartner = "partner"
	AuthorPublic  = "public"
	AuthorUser    = "user"
)

// Partner is a contact/customer record
type Partner struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"type:varchar(255)" json:"name"`
	Phone        string    `gorm:"type:varchar(64)" json:"phone"`
	Mobile       string    `gorm:"type:varchar(64)" json:"mobile"`
	PhoneDigits  string    `gorm:"type:varchar(32);index" json:"-"`
	MobileDigits string    `gorm:"type:varchar(32);index" json:"-"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Partner) TableName() string {
	return "partners"
}

// BeforeSave keeps the digits-only columns used for loose matching in sync.
func (p *Partner) BeforeSave(*gorm.DB) error {
	p.PhoneDigits = digitsOf(p.Phone)
	p.MobileDigits = digitsOf(p.Mobile)
	return nil
}

// Lead is a sales opportunity and the attachment point for WhatsApp conversations
type Lead struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	Name                  string     `gorm:"type:varchar(255);not null" json:"name"`
	Phone                 string     `gorm:"type:varchar(64)" json:"phone"`
	Mobile                string     `gorm:"type:varchar(64)" json:"mobile"`
	PhoneDigits           string     `gorm:"type:varchar(32);index" json:"-"`
	MobileDigits          string     `gorm:"type:varchar(32);index" json:"-"`
	PartnerID             *uint      `gorm:"index" json:"partner_id"`
	Partner               *Partner   `json:"partner,omitempty"`
	UserID                *uint      `gorm:"index" json:"user_id"` // assigned agent
	User                  *User      `json:"user,omitempty"`
	InsuranceType         string     `gorm:"type:varchar(255)" json:"insurance_type"`
	LastInboundWhatsAppAt *time.Time `gorm:"column:last_inbound_whatsapp_at" json:"last_inbound_whatsapp_at"`
	CreatedAt             time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Lead) TableName() string {
	return "leads"
}

func (l *Lead) BeforeSave(*gorm.DB) error {
	l.PhoneDigits = digitsOf(l.Phone)
	l.MobileDigits = digitsOf(l.Mobile)
	return nil
}

// User is an agent working leads
type User struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"type:varchar(255)" json:"name"`
	Login      string    `gorm:"type:varchar(255);uniqueIndex" json:"login"`
	EmployeeID *uint     `json:"employee_id"`
	Employee   *Employee `json:"employee,omitempty"`
	PartnerID  *uint     `json:"partner_id"` // personal contact record
	Partner    *Partner  `json:"partner,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// Employee holds the work contact details of an agent
type Employee struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Name       string `gorm:"type:varchar(255)" json:"name"`
	WorkMobile string `gorm:"type:varchar(64)" json:"work_mobile"`
	WorkPhone  string `gorm:"type:varchar(64)" json:"work_phone"`
}

func (Employee) TableName() string {
	return "employees"
}

// LeadFollower subscribes a user to a lead's activity feed
type LeadFollower struct {
	LeadID uint `gorm:"primaryKey" json:"lead_id"`
	UserID uint `gorm:"primaryKey" json:"user_id"`
}

func (LeadFollower) TableName() string {
	return "lead_followers"
}

// Message is one entry in a lead's activity feed
type Message struct {
	ID                uint         `gorm:"primaryKey" json:"id"`
	LeadID            uint         `gorm:"index;not null" json:"lead_id"`
	AuthorKind        string       `gorm:"type:varchar(20)" json:"author_kind"`
	AuthorPartnerID   *uint        `json:"author_partner_id,omitempty"`
	AuthorUserID      *uint        `json:"author_user_id,omitempty"`
	AuthorName        string       `gorm:"type:varchar(255)" json:"author_name"`
	Body              string       `gorm:"type:text" json:"body"`
	Subtype           string       `gorm:"type:varchar(20)" json:"subtype"`
	Channel           string       `gorm:"type:varchar(20)" json:"channel"`
	ProviderMessageID string       `gorm:"type:varchar(255);index" json:"provider_message_id,omitempty"`
	SuppressEmail     bool         `json:"suppress_email"`
	Recipients        []User       `gorm:"many2many:message_recipients" json:"recipients,omitempty"`
	Attachments       []Attachment `gorm:"foreignKey:MessageID" json:"attachments,omitempty"`
	CreatedAt         time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// Notification is an inbox entry surfacing a feed message to one user
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID uint      `gorm:"uniqueIndex:idx_notification_message_user;not null" json:"message_id"`
	UserID    uint      `gorm:"uniqueIndex:idx_notification_message_user;not null" json:"user_id"`
	Read      bool      `gorm:"default:false" json:"read"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

// Attachment is an immutable blob owned by a lead's activity feed
type Attachment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	LeadID    uint      `gorm:"index;not null" json:"lead_id"`
	MessageID *uint     `gorm:"index" json:"message_id,omitempty"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	MimeType  string    `gorm:"type:varchar(100)" json:"mime_type"`
	Size      int64     `json:"size"`
	ObjectKey string    `gorm:"type:varchar(512)" json:"-"`
	Data      []byte    `json:"-"` // inline content when no blob store is configured
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Attachment) TableName() string {
	return "attachments"
}

// Template mirrors an approved provider message template
type Template struct {
	ID                        uint      `gorm:"primaryKey" json:"id"`
	Name                      string    `gorm:"type:varchar(255);uniqueIndex:idx_template_name_language;not null" json:"name"`
	LanguageCode              string    `gorm:"type:varchar(20);uniqueIndex:idx_template_name_language;not null" json:"language_code"`
	Category                  string    `gorm:"type:varchar(100)" json:"category"`
	BodyText                  string    `gorm:"type:text" json:"body_text"`
	PlaceholderNames          []string  `gorm:"serializer:json;type:text" json:"placeholder_names"`
	VariableCount             int       `json:"variable_count"`
	VariableDescriptions      string    `gorm:"type:text" json:"variable_descriptions"` // comma separated
	HasHeaderVariable         bool      `json:"has_header_variable"`
	HeaderType                string    `gorm:"type:varchar(20)" json:"header_type"` // TEXT, IMAGE, DOCUMENT, VIDEO
	HeaderVariableDescription string    `gorm:"type:varchar(255)" json:"header_variable_description"`
	UpdatedAt                 time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Template) TableName() string {
	return "templates"
}

// SystemSetting stores persisted configuration values
type SystemSetting struct {
	Key   string `gorm:"primaryKey;type:varchar(100)" json:"key"`
	Value string `gorm:"type:text" json:"value"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}

// All lists every model for auto-migration and data copies.
func All() []interface{} {
	return []interface{}{
		&Partner{},
		&Employee{},
		&User{},
		&Lead{},
		&LeadFollower{},
		&Message{},
		&Attachment{},
		&Notification{},
		&Template{},
		&SystemSetting{},
	}
}

func digitsOf(raw string) string {
	n, err := phone.Normalize(raw)
	if err != nil {
		return ""
	}
	return n.Digits
}
