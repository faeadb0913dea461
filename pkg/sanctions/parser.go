package sanctions

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/ekaya-inc/sanctions-engine/pkg/apperrors"
	"github.com/ekaya-inc/sanctions-engine/pkg/models"
)

// GeneratedUIDPrefix marks identifiers created locally because the source omitted one.
const GeneratedUIDPrefix = "gen-"

// entryElements are the element names treated as one listed party.
var entryElements = map[string]bool{
	"sdnEntry": true,
	"entry":    true,
}

// listedDateLayouts are tried in order when normalizing listed dates.
var listedDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"01/02/2006",
	"02 Jan 2006",
	"2 Jan 2006",
}

type rawEntry struct {
	UID           string                     `xml:"uid"`
	FirstName     string                     `xml:"firstName"`
	LastName      string                     `xml:"lastName"`
	Name          string                     `xml:"name"`
	SDNType       string                     `xml:"sdnType"`
	Programs      OneOrMany[string]          `xml:"programList>program"`
	Akas          OneOrMany[rawAka]          `xml:"akaList>aka"`
	Addresses     OneOrMany[rawAddress]      `xml:"addressList>address"`
	IDs           OneOrMany[rawIdentifier]   `xml:"idList>id"`
	Nationalities OneOrMany[rawCountryEntry] `xml:"nationalityList>nationality"`
	Citizenships  OneOrMany[rawCountryEntry] `xml:"citizenshipList>citizenship"`
	Remarks       OneOrMany[string]          `xml:"remarks"`
	ListedDate    string                     `xml:"listedDate"`
}

// rawAka is either plain text (<aka>Name</aka>) or structured.
type rawAka struct {
	Text      string `xml:",chardata"`
	FirstName string `xml:"firstName"`
	LastName  string `xml:"lastName"`
	Name      string `xml:"name"`
}

type rawAddress struct {
	Address1        string `xml:"address1"`
	Address2        string `xml:"address2"`
	Address3        string `xml:"address3"`
	City            string `xml:"city"`
	StateOrProvince string `xml:"stateOrProvince"`
	PostalCode      string `xml:"postalCode"`
	Country         string `xml:"country"`
}

type rawIdentifier struct {
	IDType           string `xml:"idType"`
	IDNumber         string `xml:"idNumber"`
	Type             string `xml:"type"`
	Number           string `xml:"number"`
	IssuingAuthority string `xml:"issuingAuthority"`
	IDCountry        string `xml:"idCountry"`
}

type rawCountryEntry struct {
	Country string `xml:"country"`
}

// ParseResult holds the normalized entities plus counters for operational visibility.
type ParseResult struct {
	Entities []models.SanctionedEntity
	// Seen counts entry elements encountered, including skipped ones.
	Seen int
	// Skipped counts entries that could not be decoded.
	Skipped int
}

// Parser turns a raw sanctions document into normalized entities.
type Parser struct {
	logger *zap.Logger
	newUID func() string
}

// NewParser creates a Parser.
func NewParser(logger *zap.Logger) *Parser {
	return &Parser{
		logger: logger.Named("sanctions-parser"),
		newUID: generateUID,
	}
}

// Parse streams the document, decoding one entry at a time so a malformed
// record is skipped instead of aborting the whole parse. A document-level
// syntax error or a document without entries yields *apperrors.ParseError.
func (p *Parser) Parse(r io.Reader) (*ParseResult, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	result := &ParseResult{Entities: []models.SanctionedEntity{}}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &apperrors.ParseError{Offset: dec.InputOffset(), Cause: err}
		}

		start, ok := tok.(xml.StartElement)
		if !ok || !entryElements[start.Name.Local] {
			continue
		}

		result.Seen++
		var raw rawEntry
		if err := dec.DecodeElement(&raw, &start); err != nil {
			var syntaxErr *xml.SyntaxError
			if errors.As(err, &syntaxErr) {
				return nil, &apperrors.ParseError{Offset: dec.InputOffset(), Cause: err}
			}
			result.Skipped++
			p.logger.Warn("Skipping malformed sanctions entry",
				zap.Int("entry", result.Seen),
				zap.Error(err))
			continue
		}

		result.Entities = append(result.Entities, p.normalize(&raw))
	}

	if result.Seen == 0 {
		return nil, &apperrors.ParseError{Cause: apperrors.ErrNoEntries}
	}

	p.logger.Info("Parsed sanctions document",
		zap.Int("entries", result.Seen),
		zap.Int("skipped", result.Skipped))

	return result, nil
}

func (p *Parser) normalize(raw *rawEntry) models.SanctionedEntity {
	uid := strings.TrimSpace(raw.UID)
	if uid == "" {
		uid = p.newUID()
	}

	entity := models.SanctionedEntity{
		UID:         uid,
		Name:        entryName(raw),
		EntityType:  models.ParseEntityType(raw.SDNType),
		Aliases:     []string{},
		Addresses:   []string{},
		Programs:    nonEmpty(raw.Programs.Items()),
		Identifiers: []models.Identifier{},
		Remarks:     nonEmpty(raw.Remarks.Items()),
		ListedDate:  normalizeDate(raw.ListedDate),
	}

	for _, aka := range raw.Akas.Items() {
		if alias := aliasName(aka); alias != "" {
			entity.Aliases = append(entity.Aliases, alias)
		}
	}

	countries := newOrderedSet()
	for _, addr := range raw.Addresses.Items() {
		if line := joinAddress(addr); line != "" {
			entity.Addresses = append(entity.Addresses, line)
		}
		countries.add(addr.Country)
	}
	for _, c := range raw.Citizenships.Items() {
		countries.add(c.Country)
	}
	for _, c := range raw.Nationalities.Items() {
		countries.add(c.Country)
	}
	entity.Countries = countries.values()

	for _, id := range raw.IDs.Items() {
		entity.Identifiers = append(entity.Identifiers, toIdentifier(id))
	}

	return entity
}

// entryName prefers first+last name over the generic name field.
func entryName(raw *rawEntry) string {
	if full := joinNonEmpty(" ", raw.FirstName, raw.LastName); full != "" {
		return full
	}
	if name := strings.TrimSpace(raw.Name); name != "" {
		return name
	}
	return models.UnknownEntityName
}

// aliasName resolves an alias via first+last name, then name, then plain text.
// Returns "" when nothing usable is present.
func aliasName(aka rawAka) string {
	if full := joinNonEmpty(" ", aka.FirstName, aka.LastName); full != "" {
		return full
	}
	if name := strings.TrimSpace(aka.Name); name != "" {
		return name
	}
	return strings.TrimSpace(aka.Text)
}

func joinAddress(a rawAddress) string {
	return joinNonEmpty(", ", a.Address1, a.Address2, a.Address3, a.City, a.StateOrProvince, a.PostalCode, a.Country)
}

func toIdentifier(raw rawIdentifier) models.Identifier {
	id := models.Identifier{
		Type:             firstNonEmpty(raw.IDType, raw.Type),
		Number:           firstNonEmpty(raw.IDNumber, raw.Number),
		IssuingAuthority: firstNonEmpty(raw.IssuingAuthority, raw.IDCountry),
	}
	if id.Type == "" {
		id.Type = models.UnknownIdentifierType
	}
	if id.Number == "" {
		id.Number = models.UnknownIdentifierNumber
	}
	return id
}

// normalizeDate returns an ISO date when the value parses, the trimmed
// original when it does not, and nil when empty.
func normalizeDate(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	for _, layout := range listedDateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			iso := t.Format("2006-01-02")
			return &iso
		}
	}
	return &trimmed
}

func generateUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%s%d-%s", GeneratedUIDPrefix, time.Now().UnixNano(), uuid.NewString())
	}
	return GeneratedUIDPrefix + id.String()
}

func joinNonEmpty(sep string, values ...string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, sep)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// orderedSet deduplicates strings while keeping first-seen order.
type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{}), items: []string{}}
}

func (s *orderedSet) add(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}

func (s *orderedSet) values() []string {
	return s.items
}
