package memos

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// pageCursor is the keyset position encoded into the opaque pagination
// token: the (updated_at, id) pair of the last row the client saw.
type pageCursor struct {
	UpdatedAt time.Time `json:"updatedAt"`
	ID        string    `json:"id"`
}

func encodeCursor(updatedAt time.Time, id string) string {
	b, _ := json.Marshal(pageCursor{UpdatedAt: updatedAt, ID: id})
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(s string) (pageCursor, error) {
	var c pageCursor
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("malformed cursor: %w", err)
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("malformed cursor: %w", err)
	}
	if c.ID == "" || c.UpdatedAt.IsZero() {
		return c, fmt.Errorf("malformed cursor: missing fields")
	}
	return c, nil
}
