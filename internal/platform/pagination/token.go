package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const tokenVersion = "c1"

// Cursor is a keyset position: the sort timestamp and ID of the last item already returned.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

func (c Cursor) IsZero() bool {
	return c.ID == "" && c.CreatedAt.IsZero()
}

// Before reports whether an item sorted newest-first comes after the cursor position.
func (c Cursor) Before(createdAt time.Time, id string) bool {
	if c.IsZero() {
		return true
	}
	if createdAt.Equal(c.CreatedAt) {
		return id < c.ID
	}
	return createdAt.Before(c.CreatedAt)
}

// EncodeToken renders cursor as an opaque URL-safe token. The zero cursor encodes to "".
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.IsZero() {
		return "", nil
	}
	if cursor.ID == "" {
		return "", fmt.Errorf("pagination: encode token: cursor id is empty")
	}
	raw := tokenVersion + "." + strconv.FormatInt(cursor.CreatedAt.UTC().UnixNano(), 36) + "." + cursor.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

// DecodeToken reverses EncodeToken. Blank tokens yield the zero cursor.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}

	parts := strings.SplitN(string(raw), ".", 3)
	if len(parts) != 3 || parts[0] != tokenVersion {
		return Cursor{}, fmt.Errorf("%w: unrecognised format", ErrInvalidPageToken)
	}
	nanos, err := strconv.ParseInt(parts[1], 36, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: bad timestamp", ErrInvalidPageToken)
	}
	if parts[2] == "" {
		return Cursor{}, fmt.Errorf("%w: missing id", ErrInvalidPageToken)
	}
	return Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: parts[2]}, nil
}
