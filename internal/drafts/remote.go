package drafts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/plannerlab/draftsync/internal/api"
)

var errMissingClient = errors.New("drafts: api client is required")

// Remote is the drafts persistence API consumed by the Manager. The HTTP
// transport behind it is an external collaborator; tests substitute fakes.
type Remote interface {
	ListDrafts(ctx context.Context) ([]Draft, error)
	CreateDraft(ctx context.Context, request CreateRequest) (Draft, error)
	UpdateDraft(ctx context.Context, id string, request UpdateRequest) (Draft, error)
	DeleteDraft(ctx context.Context, id string) error
}

// RemoteStore implements Remote over the wrapped {ok, data|message} API.
type RemoteStore struct {
	client *api.Client
}

// NewRemoteStore validates dependencies and returns a RemoteStore.
func NewRemoteStore(client *api.Client) (*RemoteStore, error) {
	if client == nil {
		return nil, errMissingClient
	}
	return &RemoteStore{client: client}, nil
}

type draftPayload struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Content         string         `json:"content"`
	OriginalContent string         `json:"original_content,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (p draftPayload) toDraft() Draft {
	return Draft{
		ID:              p.ID,
		Title:           p.Title,
		Content:         p.Content,
		OriginalContent: p.OriginalContent,
		Metadata:        p.Metadata,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

type createPayload struct {
	SessionID string         `json:"session_id"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type updatePayload struct {
	Title    *string        `json:"title,omitempty"`
	Content  *string        `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ListDrafts fetches all drafts from the remote API.
func (s *RemoteStore) ListDrafts(ctx context.Context) ([]Draft, error) {
	result := s.client.Get(ctx, "/drafts")
	if !result.OK {
		return nil, fmt.Errorf("drafts: list failed: %s", result.Message)
	}
	var payloads []draftPayload
	if err := result.Decode(&payloads); err != nil {
		return nil, fmt.Errorf("drafts: list decode failed: %w", err)
	}
	listed := make([]Draft, 0, len(payloads))
	for _, payload := range payloads {
		listed = append(listed, payload.toDraft())
	}
	return listed, nil
}

// CreateDraft asks the server to create a draft and returns the assigned entity.
func (s *RemoteStore) CreateDraft(ctx context.Context, request CreateRequest) (Draft, error) {
	body := createPayload{
		SessionID: request.SessionID,
		Title:     request.Title,
		Content:   request.Content,
		Metadata:  request.Metadata,
	}
	result := s.client.Post(ctx, "/drafts", body)
	if !result.OK {
		return Draft{}, fmt.Errorf("drafts: create failed: %s", result.Message)
	}
	var payload draftPayload
	if err := result.Decode(&payload); err != nil {
		return Draft{}, fmt.Errorf("drafts: create decode failed: %w", err)
	}
	return payload.toDraft(), nil
}

// UpdateDraft applies partial updates and returns the server's authoritative entity.
func (s *RemoteStore) UpdateDraft(ctx context.Context, id string, request UpdateRequest) (Draft, error) {
	draftID, err := NewDraftID(id)
	if err != nil {
		return Draft{}, err
	}
	body := updatePayload{
		Title:    request.Title,
		Content:  request.Content,
		Metadata: request.Metadata,
	}
	result := s.client.Put(ctx, "/drafts/"+draftID.String(), body)
	if !result.OK {
		return Draft{}, fmt.Errorf("drafts: update failed: %s", result.Message)
	}
	var payload draftPayload
	if err := result.Decode(&payload); err != nil {
		return Draft{}, fmt.Errorf("drafts: update decode failed: %w", err)
	}
	return payload.toDraft(), nil
}

// DeleteDraft removes a draft on the server.
func (s *RemoteStore) DeleteDraft(ctx context.Context, id string) error {
	draftID, err := NewDraftID(id)
	if err != nil {
		return err
	}
	result := s.client.Delete(ctx, "/drafts/"+draftID.String())
	if !result.OK {
		return fmt.Errorf("drafts: delete failed: %s", result.Message)
	}
	return nil
}
