package models

import (
	"strings"
	"time"
)

// EntityType is the sanctions-list party type.
type EntityType string

// Entity types as published by the source.
const (
	EntityTypeIndividual EntityType = "Individual"
	EntityTypeVessel     EntityType = "Vessel"
	EntityTypeAircraft   EntityType = "Aircraft"
	EntityTypeEntity     EntityType = "Entity" // Organizations/companies - the only type that survives filtering
)

// ParseEntityType maps a source sdnType value onto an EntityType, ignoring case.
// Unknown values keep their trimmed source spelling.
func ParseEntityType(raw string) EntityType {
	trimmed := strings.TrimSpace(raw)
	for _, t := range []EntityType{EntityTypeIndividual, EntityTypeVessel, EntityTypeAircraft, EntityTypeEntity} {
		if strings.EqualFold(trimmed, string(t)) {
			return t
		}
	}
	return EntityType(trimmed)
}

// Sector is the business sector assigned by the relevance filter.
type Sector string

// Sectors in filter precedence order.
const (
	SectorFoodAgriculture Sector = "Food & Agriculture"
	SectorConstruction    Sector = "Construction"
)

// Identifier is an identity document attached to a listed party.
// Malformed identifiers are kept with placeholder values.
type Identifier struct {
	Type             string `json:"type"`
	Number           string `json:"number"`
	IssuingAuthority string `json:"issuing_authority,omitempty"`
}

// Placeholder values for identifiers missing a type or number.
const (
	UnknownIdentifierType   = "Unknown"
	UnknownIdentifierNumber = "N/A"
	UnknownEntityName       = "Unknown"
)

// SanctionedEntity is one listed party.
// Stored in sanctioned_entities with one child table per repeated attribute.
type SanctionedEntity struct {
	UID         string       `json:"uid"`
	Name        string       `json:"name"`
	EntityType  EntityType   `json:"entity_type"`
	Sector      Sector       `json:"sector,omitempty"`
	Aliases     []string     `json:"aliases"`
	Addresses   []string     `json:"addresses"`
	Countries   []string     `json:"countries"`
	Programs    []string     `json:"programs"`
	Identifiers []Identifier `json:"identifiers"`
	Remarks     []string     `json:"remarks"`
	ListedDate  *string      `json:"listed_date,omitempty"`
}

// SearchableText returns name, aliases, remarks and addresses joined by
// spaces. The relevance filter matches sector keywords against it.
func (e *SanctionedEntity) SearchableText() string {
	parts := make([]string, 0, 1+len(e.Aliases)+len(e.Remarks)+len(e.Addresses))
	parts = append(parts, e.Name)
	parts = append(parts, e.Aliases...)
	parts = append(parts, e.Remarks...)
	parts = append(parts, e.Addresses...)
	return strings.Join(parts, " ")
}

// SyncStatus is the outcome of one sync attempt.
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncMetadata is appended once per sync attempt and never mutated.
// Stored in sanctions_sync_metadata.
type SyncMetadata struct {
	ID               int64      `json:"id"`
	Status           SyncStatus `json:"status"`
	TotalEntities    int        `json:"total_entities"`
	FilteredEntities int        `json:"filtered_entities"`
	SkippedRecords   int        `json:"skipped_records"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	SourceURL        string     `json:"source_url"`
	DurationMs       int64      `json:"duration_ms"`
	SyncedAt         time.Time  `json:"synced_at"`
}
