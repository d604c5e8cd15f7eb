package repository

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		input string
		owner string
		name  string
	}{
		{"https://github.com/octocat/hello-world", "octocat", "hello-world"},
		{"http://github.com/octocat/hello-world", "octocat", "hello-world"},
		{"https://www.github.com/octocat/hello-world", "octocat", "hello-world"},
		{"github.com/octocat/hello-world", "octocat", "hello-world"},
		{"https://github.com/octocat/hello-world.git", "octocat", "hello-world"},
		{"https://github.com/octocat/hello-world/", "octocat", "hello-world"},
		{"  octocat/hello-world  ", "octocat", "hello-world"},
		{"fastapi/fastapi", "fastapi", "fastapi"},
		{"some_org/repo.js", "some_org", "repo.js"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			id, err := ParseIdentity(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.owner, id.Owner)
			assert.Equal(t, tt.name, id.Name)
			assert.Equal(t, tt.owner+"/"+tt.name, id.FullName())
		})
	}
}

func TestParseIdentity_Invalid(t *testing.T) {
	for _, input := range []string{
		"",
		"not a repo",
		"justone",
		"https://gitlab.com/octocat/hello-world",
		"https://github.com/octocat",
		"owner/name/extra",
		"own er/name",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseIdentity(input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidIdentity)
			assert.Contains(t, err.Error(), "invalid repo URL or identifier")
		})
	}
}

func TestMustParseIdentity_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParseIdentity("nope") })
	assert.Equal(t, "a/b", MustParseIdentity("a/b").String())
}

func TestNewPayload(t *testing.T) {
	updated := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	meta := Metadata{
		ID:          42,
		FullName:    "octocat/hello-world",
		URL:         "https://github.com/octocat/hello-world",
		Description: "A test repository",
		Topics:      []string{"python", "testing"},
		Language:    "Python",
		Stars:       120,
		UpdatedAt:   &updated,
	}
	now := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)

	p := NewPayload(meta, now)

	assert.Equal(t, "octocat/hello-world", p.FullName)
	assert.Equal(t, []string{"python", "testing"}, p.Topics)
	assert.Equal(t, "Python", p.LanguagePrimary)
	assert.Equal(t, 120, p.Stars)
	assert.Equal(t, "2024-03-01T11:00:00Z", p.LastUpdated)
	assert.Equal(t, "2024-06-01T08:30:00Z", p.IndexedAt)

	got, ok := p.IndexedTime()
	require.True(t, ok)
	assert.True(t, got.Equal(now))
}

func TestNewPayload_NoUpdatedAt(t *testing.T) {
	p := NewPayload(Metadata{FullName: "a/b"}, time.Now())
	assert.Empty(t, p.LastUpdated)
	assert.NotNil(t, p.Topics)
}

func TestPayload_IndexedTimeMalformed(t *testing.T) {
	_, ok := Payload{IndexedAt: "yesterday"}.IndexedTime()
	assert.False(t, ok)
	_, ok = Payload{}.IndexedTime()
	assert.False(t, ok)
}

func TestPayloadFromMap_RoundTrip(t *testing.T) {
	p := Payload{
		FullName:        "octocat/hello-world",
		Description:     "desc",
		URL:             "https://github.com/octocat/hello-world",
		Topics:          []string{"go"},
		LanguagePrimary: "Go",
		Stars:           7,
		LastUpdated:     "2024-01-01T00:00:00Z",
		IndexedAt:       "2024-02-01T00:00:00Z",
	}
	assert.Equal(t, p, PayloadFromMap(p.Map()))
}

func TestPayloadFromMap_BackendRepresentations(t *testing.T) {
	// chromem stores JSON; numbers come back as float64 and lists as []any
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"full_name":"a/b","stars":15,"topics":["x","y"]}`), &decoded))

	p := PayloadFromMap(decoded)
	assert.Equal(t, 15, p.Stars)
	assert.Equal(t, []string{"x", "y"}, p.Topics)

	// qdrant integer values decode to int64
	assert.Equal(t, 9, PayloadFromMap(map[string]any{"stars": int64(9)}).Stars)
	assert.Equal(t, 3, PayloadFromMap(map[string]any{"stars": json.Number("3")}).Stars)
	assert.Equal(t, []string{}, PayloadFromMap(map[string]any{}).Topics)
}

func TestBatchIndexResult_Record(t *testing.T) {
	var b BatchIndexResult
	b.Record(MustParseIdentity("a/one"), IndexResult{Status: StatusIndexed, RepoID: 1})
	b.Record(MustParseIdentity("a/two"), IndexResult{Status: StatusSkipped, RepoID: 2})
	b.Record(MustParseIdentity("a/three"), Failed("a/three", "Repository not found."))

	assert.Equal(t, 3, b.Total)
	assert.Equal(t, 1, b.Indexed)
	assert.Equal(t, 1, b.Skipped)
	assert.Equal(t, 1, b.Failed)
	assert.Equal(t, []string{"a/three: Repository not found."}, b.Errors)
}

func TestFailed_HasZeroID(t *testing.T) {
	r := Failed("a/b", "boom")
	assert.Equal(t, StatusFailed, r.Status)
	assert.Zero(t, r.RepoID)
}
