package repository

import "time"

// Metadata is an immutable snapshot of one repository as returned by GitHub.
type Metadata struct {
	// ID is GitHub's numeric repository id and the primary key everywhere.
	ID          int64
	FullName    string
	URL         string
	Description string
	Topics      []string
	Language    string
	Stars       int
	Forks       int
	UpdatedAt   *time.Time
}

// Identity returns the owner/name pair encoded in FullName.
func (m Metadata) Identity() (Identity, error) {
	return ParseIdentity(m.FullName)
}

// ManifestEntry is one fetched dependency manifest. It is consumed by the
// extractor immediately and never persisted.
type ManifestEntry struct {
	Filename string
	Content  string
}
