// Package pagination implements opaque keyset cursors for list endpoints.
// Tokens are base64 JSON so clients treat them as opaque strings while the
// repositories keep a stable (created_at, id) ordering key.
package pagination

import (
	"encoding/base64"
	"encoding/json"
)

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=10" validate:"gte=1,lte=250"`
}

// Cursor is the decoded position inside an ordered listing.
type Cursor struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(cursor Cursor) (string, error) {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func DecodeCursor(token string) (*Cursor, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	cursor := &Cursor{}
	if err := json.Unmarshal(raw, cursor); err != nil {
		return nil, err
	}
	return cursor, nil
}

// BuildCursorPageInfo derives page info for a result set fetched with
// limit+1 rows: the extra row only signals another page and is sliced off.
func BuildCursorPageInfo[T any](rows []*T, limit int32, extractCursor func(*T) string) *PageInfo {
	if len(rows) == 0 {
		return &PageInfo{}
	}

	info := &PageInfo{}
	if len(rows) > int(limit) {
		info.HasMore = true
		rows = rows[:limit]
	}
	info.NextPageToken = extractCursor(rows[len(rows)-1])
	return info
}
