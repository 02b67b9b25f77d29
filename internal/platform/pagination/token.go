package pagination

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Cursor is the decoded page token: an offset into the filtered listing and a
// short digest of the filters it belongs to.
type Cursor struct {
	Offset int    `json:"o"`
	Scope  string `json:"s,omitempty"`
}

// EncodeToken renders c as an opaque URL-safe token. A zero offset is the empty token.
func EncodeToken(c Cursor) string {
	if c.Offset <= 0 {
		return ""
	}
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeToken reverses EncodeToken.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if c.Offset <= 0 {
		return Cursor{}, fmt.Errorf("%w: offset must be positive", ErrInvalidPageToken)
	}
	return c, nil
}

// scope digests the filters so a token cannot be replayed against another listing.
func (p Params) scope() string {
	if len(p.Filters) == 0 {
		return ""
	}
	h := sha256.New()
	for _, f := range p.Filters {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00", f.Field, f.Op, f.Value)
	}
	return hex.EncodeToString(h.Sum(nil)[:6])
}
