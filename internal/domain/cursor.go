package domain

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned for page tokens that were not produced by Token.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the keyset position after the last activity of a page. Pages are
// ordered newest first by (StartedAt, ID).
type Cursor struct {
	StartedAt time.Time
	ID        string
}

// Token encodes the cursor as an opaque page token that is safe to place in a
// query string unescaped. A nil cursor, meaning no further page, encodes as "".
func (c *Cursor) Token() string {
	if c == nil {
		return ""
	}
	raw := strconv.FormatInt(c.StartedAt.UnixNano(), 36) + "." + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a page token. A blank token selects the first page.
func ParseCursor(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	started, id, ok := strings.Cut(string(raw), ".")
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: missing activity id", ErrInvalidCursor)
	}
	nanos, err := strconv.ParseInt(started, 36, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	return &Cursor{StartedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}
