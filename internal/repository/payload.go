package repository

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Payload keys as persisted in the vector store.
const (
	KeyFullName        = "full_name"
	KeyDescription     = "description"
	KeyURL             = "url"
	KeyTopics          = "topics"
	KeyLanguagePrimary = "language_primary"
	KeyStars           = "stars"
	KeyLastUpdated     = "last_updated"
	KeyIndexedAt       = "indexed_at"
)

// Payload holds the denormalized display fields stored with each record.
type Payload struct {
	FullName        string   `json:"full_name"`
	Description     string   `json:"description"`
	URL             string   `json:"url"`
	Topics          []string `json:"topics"`
	LanguagePrimary string   `json:"language_primary"`
	Stars           int      `json:"stars"`
	LastUpdated     string   `json:"last_updated"`
	IndexedAt       string   `json:"indexed_at"`
}

// NewPayload builds the payload for meta, stamped with indexedAt in UTC.
func NewPayload(meta Metadata, indexedAt time.Time) Payload {
	p := Payload{
		FullName:        meta.FullName,
		Description:     meta.Description,
		URL:             meta.URL,
		Topics:          append([]string{}, meta.Topics...),
		LanguagePrimary: meta.Language,
		Stars:           meta.Stars,
		IndexedAt:       indexedAt.UTC().Format(time.RFC3339),
	}
	if meta.UpdatedAt != nil {
		p.LastUpdated = meta.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return p
}

// IndexedTime parses IndexedAt. ok is false when it is empty or malformed.
func (p Payload) IndexedTime() (t time.Time, ok bool) {
	if p.IndexedAt == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, p.IndexedAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Map returns the payload as a generic map for backends.
func (p Payload) Map() map[string]any {
	topics := p.Topics
	if topics == nil {
		topics = []string{}
	}
	return map[string]any{
		KeyFullName:        p.FullName,
		KeyDescription:     p.Description,
		KeyURL:             p.URL,
		KeyTopics:          topics,
		KeyLanguagePrimary: p.LanguagePrimary,
		KeyStars:           p.Stars,
		KeyLastUpdated:     p.LastUpdated,
		KeyIndexedAt:       p.IndexedAt,
	}
}

// PayloadFromMap is the inverse of Map. Numbers may arrive as any Go numeric
// type or json.Number, and topics as []string or []any.
func PayloadFromMap(m map[string]any) Payload {
	return Payload{
		FullName:        asString(m[KeyFullName]),
		Description:     asString(m[KeyDescription]),
		URL:             asString(m[KeyURL]),
		Topics:          asStrings(m[KeyTopics]),
		LanguagePrimary: asString(m[KeyLanguagePrimary]),
		Stars:           asInt(m[KeyStars]),
		LastUpdated:     asString(m[KeyLastUpdated]),
		IndexedAt:       asString(m[KeyIndexedAt]),
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

func asStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string{}, list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, asString(item))
		}
		return out
	default:
		return []string{}
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float32:
		return int(math.Round(float64(n)))
	case float64:
		return int(math.Round(n))
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return int(math.Round(f))
		}
	}
	return 0
}
