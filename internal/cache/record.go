package cache

import "time"

const maxKeyLength = 190

// Record is one autosaved snapshot of in-progress content. Records are
// overwritten in place for a given key; nothing deletes them implicitly.
type Record struct {
	Key          string `gorm:"column:key;primaryKey;size:190;not null"`
	DraftID      string `gorm:"column:draft_id;size:190;not null;default:'';index:idx_autosave_draft"`
	Content      string `gorm:"column:content;type:text;not null"`
	SavedAtUnix  int64  `gorm:"column:saved_at_s;not null"`
	ContentBytes int64  `gorm:"column:content_bytes;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "autosave_records"
}

// SavedAt exposes the persisted timestamp as time.Time.
func (r Record) SavedAt() time.Time {
	return time.Unix(r.SavedAtUnix, 0).UTC()
}

// DraftKey returns the stable recovery key for a persisted draft, so a
// reopened editor for the same document finds prior unsaved work.
func DraftKey(draftID string) string {
	return "draft:" + draftID
}

// SessionKey returns the recovery key for an ephemeral editing session.
// Session keys carry no server-side meaning; they are recovery tickets for
// documents that have no server-assigned id yet.
func SessionKey(sessionID string) string {
	return "session:" + sessionID
}
