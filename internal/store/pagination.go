package store

import (
	"encoding/base64"
	"fmt"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 500
)

type CursorPage struct {
	Items      interface{} `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
	HasMore    bool        `json:"has_more"`
}

// EncodeCursor wraps the driver's opaque paging state for transport.
func EncodeCursor(pageState []byte) string {
	if len(pageState) == 0 {
		return ""
	}
	return base64.URLEncoding.EncodeToString(pageState)
}

// DecodeCursor returns nil for the empty cursor, meaning the first page.
func DecodeCursor(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}

	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	return data, nil
}

func clampPageSize(limit int) int {
	if limit < 1 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
