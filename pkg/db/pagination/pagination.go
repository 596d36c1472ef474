package pagination

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strconv"
)

const (
	DefaultLimit = 10
	MaxLimit     = 250
)

type Pagination struct {
	Cursor string
	Limit  int
}

// FromQuery reads cursor and limit, clamping limit to [1, MaxLimit].
func FromQuery(q url.Values) Pagination {
	p := Pagination{Cursor: q.Get("cursor"), Limit: DefaultLimit}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		p.Limit = v
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

type Cursor struct {
	ID string `json:"id,omitempty"`
}

type PageInfo struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

type Page[T any] struct {
	Data     []*T      `json:"data"`
	PageInfo *PageInfo `json:"page_info"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.URLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// BuildPage expects data fetched with limit+1 rows and trims the extra row.
func BuildPage[T any](data []*T, limit int, extractCursor func(*T) Cursor) (*Page[T], error) {
	page := &Page[T]{Data: data, PageInfo: &PageInfo{}}
	if len(data) <= limit {
		if page.Data == nil {
			page.Data = []*T{}
		}
		return page, nil
	}

	page.Data = data[:limit]
	next, err := EncodeCursor(extractCursor(page.Data[len(page.Data)-1]))
	if err != nil {
		return nil, err
	}
	page.PageInfo.HasMore = true
	page.PageInfo.NextCursor = next
	return page, nil
}
