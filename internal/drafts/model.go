package drafts

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidDraftID indicates that a draft identifier is empty or exceeds storage bounds.
	ErrInvalidDraftID = errors.New("drafts: invalid draft id")
	// ErrEmptyContent indicates content that is empty or whitespace-only.
	ErrEmptyContent = errors.New("drafts: content is empty")
)

// DraftID represents a validated, server-assigned draft identifier.
type DraftID string

// NewDraftID validates raw input and returns a DraftID.
func NewDraftID(rawInput string) (DraftID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDraftID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDraftID, maxIdentifierLength)
	}
	return DraftID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DraftID) String() string {
	return string(id)
}

// Draft models one lesson-plan draft as known to the client. The server is
// the id authority; UpdatedAt as observed through the Manager is
// monotonically non-decreasing for a given id.
type Draft struct {
	ID              string
	Title           string
	Content         string
	OriginalContent string
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone returns a by-value copy with its own metadata map, suitable as a
// rollback snapshot that later mutations cannot reach through.
func (d Draft) Clone() Draft {
	copied := d
	if d.Metadata != nil {
		copied.Metadata = make(map[string]any, len(d.Metadata))
		for key, value := range d.Metadata {
			copied.Metadata[key] = value
		}
	}
	return copied
}

// ValidateContent rejects empty or whitespace-only content before any I/O.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	return nil
}

// CreateRequest is the input for creating a draft. SessionID references the
// editing session that originated the draft; it has no server-side identity
// meaning.
type CreateRequest struct {
	SessionID string
	Title     string
	Content   string
	Metadata  map[string]any
}

// UpdateRequest carries partial updates; nil fields are left untouched.
type UpdateRequest struct {
	Title    *string
	Content  *string
	Metadata map[string]any
}

func (u UpdateRequest) applyTo(draft *Draft) {
	if u.Title != nil {
		draft.Title = *u.Title
	}
	if u.Content != nil {
		draft.Content = *u.Content
	}
	if u.Metadata != nil {
		draft.Metadata = u.Metadata
	}
}
