package models

import (
	"strings"
	"time"
)

// MatchQuery is a screening request: a company name and optional country.
type MatchQuery struct {
	Query   string `json:"query"`
	Country string `json:"country,omitempty"`
}

// Normalized returns the query with surrounding whitespace removed.
func (q MatchQuery) Normalized() MatchQuery {
	return MatchQuery{
		Query:   strings.TrimSpace(q.Query),
		Country: strings.TrimSpace(q.Country),
	}
}

// Match is one ranked screening hit. Score is a 0-100 confidence.
type Match struct {
	Entity      *SanctionedEntity `json:"entity"`
	Score       int               `json:"score"`
	Reason      string            `json:"reason"`
	MatchedText string            `json:"matched_text,omitempty"`
}

// MatchResponse is returned by the match engine. Matches is never nil.
type MatchResponse struct {
	Query   string  `json:"query"`
	Country string  `json:"country,omitempty"`
	Stage   string  `json:"stage"`
	Message string  `json:"message,omitempty"`
	Matches []Match `json:"matches"`
}

// Embedding source kinds: each entity gets one vector for its name and one per alias.
const (
	EmbeddingSourceName  = "name"
	EmbeddingSourceAlias = "alias"
)

// EmbeddingKey identifies one stored vector. ContentHash covers the model
// and the exact text, so a renamed entity produces a new key.
type EmbeddingKey struct {
	EntityUID   string
	SourceKind  string
	ContentHash string
}

// EntityEmbedding is a precomputed vector for one entity text.
// Stored in sanctioned_entity_embeddings.
type EntityEmbedding struct {
	EntityUID   string    `json:"entity_uid"`
	SourceKind  string    `json:"source_kind"`
	Text        string    `json:"text"`
	ContentHash string    `json:"content_hash"`
	Model       string    `json:"model"`
	Vector      []float32 `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Key returns the identity of the embedding.
func (e *EntityEmbedding) Key() EmbeddingKey {
	return EmbeddingKey{EntityUID: e.EntityUID, SourceKind: e.SourceKind, ContentHash: e.ContentHash}
}
