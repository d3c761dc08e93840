package member

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/revolutedigital/igreja-betania/internal/domain/validation"
)

// Max length constants for user-editable fields.
const (
	MinNameLength    = 2
	MaxNameLength    = 100
	MaxAddressLength = 200
	MaxParentLength  = 100
)

// Domain errors
var (
	ErrEmptyID = errors.New("member id is required")
)

// Member is the cached copy of a congregation member.
// JSON names follow the remote API so payloads replay without translation.
type Member struct {
	ID          string    `json:"id"`
	Name        string    `json:"nome" validate:"required,min=2,max=100"`
	Photo       *string   `json:"foto,omitempty" validate:"omitempty,datauri"`
	WhatsApp    string    `json:"whatsapp" validate:"required,number,min=10,max=15"`
	Birthdate   *string   `json:"dataAniversario,omitempty"`
	SmallGroup  bool      `json:"grupoPequeno"`
	FatherName  *string   `json:"nomePai,omitempty" validate:"omitempty,max=100"`
	MotherName  *string   `json:"nomeMae,omitempty" validate:"omitempty,max=100"`
	Address     *string   `json:"endereco,omitempty" validate:"omitempty,max=200"`
	SyncedAt    time.Time `json:"syncedAt,omitzero"`
	PendingSync bool      `json:"pendingSync,omitempty"`
}

// Validate checks if the Member has valid data.
// PRE: Member struct is initialized
// POST: Returns error if validation fails, nil otherwise
// INVARIANT: WhatsApp holds 10-15 digits, Name 2-100 characters
func (m *Member) Validate() error {
	m.Name = strings.TrimSpace(m.Name)
	return validation.Struct(m)
}

// Payload returns the remote representation, without local sync bookkeeping.
// PRE: none
// POST: syncedAt and pendingSync are absent from the encoded object
func (m Member) Payload() (json.RawMessage, error) {
	m.SyncedAt = time.Time{}
	m.PendingSync = false
	return json.Marshal(m)
}

// Changes holds a partial update. Nil fields are left untouched.
type Changes struct {
	Name       *string `json:"nome,omitempty"`
	Photo      *string `json:"foto,omitempty"`
	WhatsApp   *string `json:"whatsapp,omitempty"`
	Birthdate  *string `json:"dataAniversario,omitempty"`
	SmallGroup *bool   `json:"grupoPequeno,omitempty"`
	FatherName *string `json:"nomePai,omitempty"`
	MotherName *string `json:"nomeMae,omitempty"`
	Address    *string `json:"endereco,omitempty"`
}

// Apply merges the changes into m.
// PRE: none
// POST: every non-nil field of c overwrites the matching field of m
func (c Changes) Apply(m *Member) {
	if c.Name != nil {
		m.Name = *c.Name
	}
	if c.Photo != nil {
		m.Photo = c.Photo
	}
	if c.WhatsApp != nil {
		m.WhatsApp = *c.WhatsApp
	}
	if c.Birthdate != nil {
		m.Birthdate = c.Birthdate
	}
	if c.SmallGroup != nil {
		m.SmallGroup = *c.SmallGroup
	}
	if c.FatherName != nil {
		m.FatherName = c.FatherName
	}
	if c.MotherName != nil {
		m.MotherName = c.MotherName
	}
	if c.Address != nil {
		m.Address = c.Address
	}
}
