package services

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"

	"github.com/ekaya-inc/sanctions-engine/pkg/models"
)

// EntityText is one embeddable text of an entity: its name or an alias.
type EntityText struct {
	EntityUID   string
	SourceKind  string
	Text        string
	ContentHash string
}

// Key returns the storage key of the text's embedding.
func (t EntityText) Key() models.EmbeddingKey {
	return models.EmbeddingKey{EntityUID: t.EntityUID, SourceKind: t.SourceKind, ContentHash: t.ContentHash}
}

// ContentHash identifies the embedding of text under model. Changing either
// the model or a single character of the text yields a different hash.
func ContentHash(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// EntityTexts returns the name followed by each distinct non-empty alias.
// Aliases are stored with duplicates; only one vector per text is needed.
func EntityTexts(e *models.SanctionedEntity, model string) []EntityText {
	texts := make([]EntityText, 0, 1+len(e.Aliases))
	seen := make(map[string]struct{}, 1+len(e.Aliases))

	add := func(kind, text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		if _, ok := seen[kind+"\x00"+text]; ok {
			return
		}
		seen[kind+"\x00"+text] = struct{}{}
		texts = append(texts, EntityText{
			EntityUID:   e.UID,
			SourceKind:  kind,
			Text:        text,
			ContentHash: ContentHash(model, text),
		})
	}

	add(models.EmbeddingSourceName, e.Name)
	for _, alias := range e.Aliases {
		add(models.EmbeddingSourceAlias, alias)
	}
	return texts
}

// normalizeVector scales v to unit length in place. Zero vectors are left
// unchanged.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0
// when the lengths differ or either vector is zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// similarityScore maps a cosine similarity onto a 0-100 confidence.
func similarityScore(cos float64) int {
	score := int(math.Round(cos * 100))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
