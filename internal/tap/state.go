package tap

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// cursorTypeFileModified marks tokens that bookmark file modification
// times.
const cursorTypeFileModified = "file_modified"

// Cursor is the envelope around a bookmark, exchanged with the sink as
// an opaque token.
type Cursor struct {
	Type      string    `json:"type"`
	Position  *Bookmark `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

// Bookmark records the newest file modification time observed for a
// table. A later sync passes it back as the exclusive lower bound for
// discovery.
type Bookmark struct {
	Table        string    `json:"table"`
	LastModified time.Time `json:"last_modified"`
	LastFile     string    `json:"last_file,omitempty"`
}

// EncodeBookmark wraps a bookmark in a cursor envelope and encodes it
// as an opaque token.
func EncodeBookmark(b *Bookmark) ([]byte, error) {
	cursor := &Cursor{
		Type:      cursorTypeFileModified,
		Position:  b,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cursor: %w", err)
	}
	return []byte(base64.URLEncoding.EncodeToString(data)), nil
}

// ParseBookmark decodes a token produced by EncodeBookmark. A nil or
// empty token yields a nil bookmark, meaning a full extraction.
func ParseBookmark(token []byte) (*Bookmark, error) {
	if len(token) == 0 {
		return nil, nil
	}

	data, err := base64.URLEncoding.DecodeString(string(token))
	if err != nil {
		return nil, fmt.Errorf("failed to decode cursor token: %w", err)
	}

	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cursor: %w", err)
	}
	if cursor.Type != cursorTypeFileModified {
		return nil, fmt.Errorf("expected %s cursor, got '%s'", cursorTypeFileModified, cursor.Type)
	}
	return cursor.Position, nil
}
