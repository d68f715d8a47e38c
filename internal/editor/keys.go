package editor

import "github.com/google/uuid"

// KeyProvider issues ephemeral session keys. A fresh key is generated per
// editor mount to avoid cross-tab and cross-session collisions; it carries
// no server-side meaning.
type KeyProvider interface {
	NewKey() (string, error)
}

type uuidKeyProvider struct{}

// NewUUIDKeyProvider constructs a KeyProvider that issues UUIDv7 keys.
func NewUUIDKeyProvider() KeyProvider {
	return &uuidKeyProvider{}
}

func (p *uuidKeyProvider) NewKey() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
