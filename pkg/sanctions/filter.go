package sanctions

import (
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/sanctions-engine/pkg/models"
)

// FilterConfig holds the lists the relevance filter matches against.
type FilterConfig struct {
	TargetCountries      []string
	FoodKeywords         []string
	ConstructionKeywords []string
	// PluralKeywords also matches the plural of each keyword ("fishery"
	// matches "fisheries"). Off by default: plain substring matching.
	PluralKeywords bool
}

type sectorKeywords struct {
	sector   models.Sector
	keywords []string
}

// Filter narrows the full list to organizations in target countries that
// operate in a tracked sector. It holds no mutable state and is safe for
// concurrent use.
type Filter struct {
	countries []string
	sectors   []sectorKeywords
}

// NewFilter normalizes the configured lists once. Keywords are lower-cased
// and trimmed; with PluralKeywords set each one is joined by its plural.
func NewFilter(cfg FilterConfig) *Filter {
	countries := make([]string, 0, len(cfg.TargetCountries))
	for _, c := range cfg.TargetCountries {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			countries = append(countries, c)
		}
	}

	return &Filter{
		countries: countries,
		sectors: []sectorKeywords{
			{sector: models.SectorFoodAgriculture, keywords: expandKeywords(cfg.FoodKeywords, cfg.PluralKeywords)},
			{sector: models.SectorConstruction, keywords: expandKeywords(cfg.ConstructionKeywords, cfg.PluralKeywords)},
		},
	}
}

// Apply returns copies of the entities that pass every predicate, with
// Sector assigned. The input is not modified. Never returns nil.
func (f *Filter) Apply(entities []models.SanctionedEntity) []models.SanctionedEntity {
	out := make([]models.SanctionedEntity, 0)
	for i := range entities {
		e := entities[i]
		if e.EntityType != models.EntityTypeEntity {
			continue
		}
		if !f.matchesCountry(e.Countries) {
			continue
		}
		sector, ok := f.classify(&e)
		if !ok {
			continue
		}
		e.Sector = sector
		out = append(out, e)
	}
	return out
}

// MatchesCountry reports whether any of the given countries is a target.
func (f *Filter) MatchesCountry(countries []string) bool {
	return f.matchesCountry(countries)
}

func (f *Filter) matchesCountry(countries []string) bool {
	for _, c := range countries {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		for _, target := range f.countries {
			if strings.Contains(c, target) || strings.Contains(target, c) {
				return true
			}
		}
	}
	return false
}

// classify returns the first sector whose keywords occur in the entity text.
func (f *Filter) classify(e *models.SanctionedEntity) (models.Sector, bool) {
	text := strings.ToLower(e.SearchableText())
	for _, s := range f.sectors {
		for _, kw := range s.keywords {
			if strings.Contains(text, kw) {
				return s.sector, true
			}
		}
	}
	return "", false
}

func expandKeywords(keywords []string, plurals bool) []string {
	seen := make(map[string]struct{}, len(keywords)*2)
	out := make([]string, 0, len(keywords)*2)
	add := func(kw string) {
		if kw == "" {
			return
		}
		if _, ok := seen[kw]; ok {
			return
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}

	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		add(kw)
		if plurals && kw != "" {
			add(inflection.Plural(kw))
		}
	}
	return out
}
