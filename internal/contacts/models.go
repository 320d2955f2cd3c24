package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Contact is a person a campaign may call. The dialer reads name and phone
// at dispatch time, so edits made while a campaign runs are honored.
type Contact struct {
	ID          string    `json:"id" db:"id"`
	AccountID   string    `json:"account_id" db:"account_id"`
	Name        string    `json:"name" db:"name"`
	PhoneNumber string    `json:"phone_number" db:"phone_number"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Agent is the AI voice agent placed on a call.
type Agent struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`
	Name      string `json:"name" db:"name"`
	Disabled  bool   `json:"disabled" db:"disabled"`
	// DefaultMessage is the opening line when a campaign sets no override.
	DefaultMessage string    `json:"default_message" db:"default_message"`
	Voice          string    `json:"voice,omitempty" db:"voice"`
	Language       string    `json:"language,omitempty" db:"language"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

var (
	ErrContactNotFound = errors.New("contacts: contact not found")
	ErrAgentNotFound   = errors.New("contacts: agent not found")
	ErrInvalidPhone    = errors.New("contacts: phone number must be E.164")
)

// Store is the read side the dialer needs.
type Store interface {
	GetContact(ctx context.Context, id string) (Contact, error)
	GetAgent(ctx context.Context, id string) (Agent, error)
}

// Writer seeds and edits records. User-facing CRUD lives outside this service.
type Writer interface {
	UpsertContact(ctx context.Context, c Contact) error
	UpsertAgent(ctx context.Context, a Agent) error
}

// NormalizePhone accepts "+<digits>" with optional spaces, dashes, dots and
// parentheses and returns the compact E.164 form.
func NormalizePhone(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "+") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	var b strings.Builder
	b.WriteByte('+')
	for _, r := range s[1:] {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
		}
	}
	digits := b.Len() - 1
	if digits < 8 || digits > 15 || b.String()[1] == '0' {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	return b.String(), nil
}
