package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/sanctions-engine/pkg/apperrors"
	"github.com/ekaya-inc/sanctions-engine/pkg/database"
	"github.com/ekaya-inc/sanctions-engine/pkg/models"
)

// SanctionsRepository provides data access for the stored sanctioned entity
// set and the sync log.
type SanctionsRepository interface {
	// ReplaceAll swaps the stored entity set for entities in one transaction.
	// On failure the previous set is left untouched.
	ReplaceAll(ctx context.Context, entities []models.SanctionedEntity) error

	// Read path
	SearchByNameOrAlias(ctx context.Context, query, country string, limit int) ([]*models.SanctionedEntity, error)
	ListCandidates(ctx context.Context, country string, limit int) ([]*models.SanctionedEntity, error)
	GetByUIDs(ctx context.Context, uids []string) ([]*models.SanctionedEntity, error)
	GetByUID(ctx context.Context, uid string) (*models.SanctionedEntity, error)
	ListAll(ctx context.Context) ([]*models.SanctionedEntity, error)
	Count(ctx context.Context) (int, error)

	// Sync log (append-only)
	RecordSync(ctx context.Context, meta *models.SyncMetadata) error
	LatestSync(ctx context.Context) (*models.SyncMetadata, error)
	ListSyncs(ctx context.Context, limit int) ([]*models.SyncMetadata, error)
}

type sanctionsRepository struct {
	db *database.DB
}

// NewSanctionsRepository creates a new SanctionsRepository.
func NewSanctionsRepository(db *database.DB) SanctionsRepository {
	return &sanctionsRepository{db: db}
}

var _ SanctionsRepository = (*sanctionsRepository)(nil)

// childTables lists the per-attribute tables in delete order.
var childTables = []string{
	"sanctioned_entity_aliases",
	"sanctioned_entity_addresses",
	"sanctioned_entity_countries",
	"sanctioned_entity_programs",
	"sanctioned_entity_identifiers",
	"sanctioned_entity_remarks",
}

// ============================================================================
// Replace
// ============================================================================

func (r *sanctionsRepository) ReplaceAll(ctx context.Context, entities []models.SanctionedEntity) error {
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, table := range childTables {
			if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if _, err := tx.Exec(ctx, "DELETE FROM sanctioned_entities"); err != nil {
			return fmt.Errorf("clear sanctioned_entities: %w", err)
		}

		if len(entities) == 0 {
			return nil
		}

		return copyEntities(ctx, tx, entities)
	})
	if err != nil {
		return &apperrors.StoreError{Op: "replace", Cause: err}
	}
	return nil
}

// copyEntities bulk-inserts the parent rows and then one row per
// (entity, value) pair into each child table.
func copyEntities(ctx context.Context, tx pgx.Tx, entities []models.SanctionedEntity) error {
	parents := make([][]any, len(entities))
	var aliases, addresses, countries, programs, identifiers, remarks [][]any

	for i := range entities {
		e := &entities[i]
		var sector *string
		if e.Sector != "" {
			s := string(e.Sector)
			sector = &s
		}
		parents[i] = []any{e.UID, e.Name, string(e.EntityType), sector, e.ListedDate}

		aliases = appendValueRows(aliases, e.UID, e.Aliases)
		addresses = appendValueRows(addresses, e.UID, e.Addresses)
		countries = appendValueRows(countries, e.UID, e.Countries)
		programs = appendValueRows(programs, e.UID, e.Programs)
		remarks = appendValueRows(remarks, e.UID, e.Remarks)
		for pos, id := range e.Identifiers {
			identifiers = append(identifiers, []any{e.UID, pos, id.Type, id.Number, id.IssuingAuthority})
		}
	}

	copies := []struct {
		table   string
		columns []string
		rows    [][]any
	}{
		{"sanctioned_entities", []string{"uid", "name", "entity_type", "sector", "listed_date"}, parents},
		{"sanctioned_entity_aliases", []string{"entity_uid", "position", "alias"}, aliases},
		{"sanctioned_entity_addresses", []string{"entity_uid", "position", "address"}, addresses},
		{"sanctioned_entity_countries", []string{"entity_uid", "position", "country"}, countries},
		{"sanctioned_entity_programs", []string{"entity_uid", "position", "program"}, programs},
		{"sanctioned_entity_identifiers", []string{"entity_uid", "position", "id_type", "id_number", "issuing_authority"}, identifiers},
		{"sanctioned_entity_remarks", []string{"entity_uid", "position", "remark"}, remarks},
	}

	for _, c := range copies {
		if len(c.rows) == 0 {
			continue
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{c.table}, c.columns, pgx.CopyFromRows(c.rows))
		if err != nil {
			return fmt.Errorf("copy into %s: %w", c.table, err)
		}
		if int(n) != len(c.rows) {
			return fmt.Errorf("copy into %s: wrote %d of %d rows", c.table, n, len(c.rows))
		}
	}
	return nil
}

func appendValueRows(rows [][]any, uid string, values []string) [][]any {
	for pos, v := range values {
		rows = append(rows, []any{uid, pos, v})
	}
	return rows
}

// ============================================================================
// Read Operations
// ============================================================================

// countryClause narrows to entities with a country that contains, or is
// contained in, the country bound to placeholder param (case-insensitive).
// An empty argument disables the filter.
func countryClause(param string) string {
	return strings.NewReplacer("$c", param).Replace(`
	($c = '' OR EXISTS (
		SELECT 1 FROM sanctioned_entity_countries c
		WHERE c.entity_uid = e.uid
		  AND (strpos(lower(c.country), lower($c)) > 0 OR strpos(lower($c), lower(c.country)) > 0)
	))`)
}

func (r *sanctionsRepository) SearchByNameOrAlias(ctx context.Context, query, country string, limit int) ([]*models.SanctionedEntity, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return []*models.SanctionedEntity{}, nil
	}

	sql := `
		SELECT e.uid
		FROM sanctioned_entities e
		WHERE (e.name ILIKE $1 OR EXISTS (
				SELECT 1 FROM sanctioned_entity_aliases a
				WHERE a.entity_uid = e.uid AND a.alias ILIKE $1
			))
		  AND` + countryClause("$2") + `
		ORDER BY (lower(e.name) = lower($4)) DESC, length(e.name), e.uid
		LIMIT $3`

	return r.readEntities(ctx, "search", sql, containsPattern(query), strings.TrimSpace(country), limit, query)
}

func (r *sanctionsRepository) ListCandidates(ctx context.Context, country string, limit int) ([]*models.SanctionedEntity, error) {
	if limit <= 0 {
		return []*models.SanctionedEntity{}, nil
	}

	sql := `
		SELECT e.uid
		FROM sanctioned_entities e
		WHERE` + countryClause("$1") + `
		ORDER BY e.uid
		LIMIT $2`

	return r.readEntities(ctx, "list candidates", sql, strings.TrimSpace(country), limit)
}

func (r *sanctionsRepository) GetByUID(ctx context.Context, uid string) (*models.SanctionedEntity, error) {
	entities, err := r.GetByUIDs(ctx, []string{uid})
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return entities[0], nil
}

// GetByUIDs loads full entities in the order of uids. Unknown uids are skipped.
func (r *sanctionsRepository) GetByUIDs(ctx context.Context, uids []string) ([]*models.SanctionedEntity, error) {
	if len(uids) == 0 {
		return []*models.SanctionedEntity{}, nil
	}

	var result []*models.SanctionedEntity
	err := r.db.WithSnapshot(ctx, func(tx pgx.Tx) error {
		var err error
		result, err = loadEntities(ctx, tx, uids)
		return err
	})
	if err != nil {
		return nil, wrapStoreError("load entities", err)
	}
	return result, nil
}

func (r *sanctionsRepository) ListAll(ctx context.Context) ([]*models.SanctionedEntity, error) {
	return r.readEntities(ctx, "list entities", `SELECT uid FROM sanctioned_entities ORDER BY uid`)
}

// readEntities selects uids with sql and loads those entities, all within one
// snapshot: a concurrent ReplaceAll is seen entirely or not at all.
func (r *sanctionsRepository) readEntities(ctx context.Context, op, sql string, args ...any) ([]*models.SanctionedEntity, error) {
	var result []*models.SanctionedEntity
	err := r.db.WithSnapshot(ctx, func(tx pgx.Tx) error {
		uids, err := queryUIDs(ctx, tx, sql, args...)
		if err != nil {
			return err
		}
		result, err = loadEntities(ctx, tx, uids)
		return err
	})
	if err != nil {
		return nil, wrapStoreError(op, err)
	}
	return result, nil
}

func wrapStoreError(op string, err error) error {
	var storeErr *apperrors.StoreError
	if errors.As(err, &storeErr) {
		return err
	}
	return &apperrors.StoreError{Op: op, Cause: err}
}

// loadEntities reads parents and children of uids through q, in uid order.
func loadEntities(ctx context.Context, q pgx.Tx, uids []string) ([]*models.SanctionedEntity, error) {
	if len(uids) == 0 {
		return []*models.SanctionedEntity{}, nil
	}

	rows, err := q.Query(ctx, `
		SELECT uid, name, entity_type, sector, listed_date
		FROM sanctioned_entities
		WHERE uid = ANY($1)`, uids)
	if err != nil {
		return nil, &apperrors.StoreError{Op: "load entities", Cause: err}
	}
	byUID, err := scanEntityRows(rows)
	if err != nil {
		return nil, &apperrors.StoreError{Op: "load entities", Cause: err}
	}

	if err := loadChildren(ctx, q, byUID); err != nil {
		return nil, &apperrors.StoreError{Op: "load entity attributes", Cause: err}
	}

	result := make([]*models.SanctionedEntity, 0, len(byUID))
	for _, uid := range uids {
		if e, ok := byUID[uid]; ok {
			result = append(result, e)
			delete(byUID, uid)
		}
	}
	return result, nil
}

func (r *sanctionsRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM sanctioned_entities`).Scan(&n); err != nil {
		return 0, &apperrors.StoreError{Op: "count entities", Cause: err}
	}
	return n, nil
}

func queryUIDs(ctx context.Context, q pgx.Tx, sql string, args ...any) ([]string, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	uids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return uids, nil
}

func scanEntityRows(rows pgx.Rows) (map[string]*models.SanctionedEntity, error) {
	defer rows.Close()

	byUID := make(map[string]*models.SanctionedEntity)
	for rows.Next() {
		var e models.SanctionedEntity
		var entityType string
		var sector *string
		if err := rows.Scan(&e.UID, &e.Name, &entityType, &sector, &e.ListedDate); err != nil {
			return nil, fmt.Errorf("failed to scan entity row: %w", err)
		}
		e.EntityType = models.EntityType(entityType)
		if sector != nil {
			e.Sector = models.Sector(*sector)
		}
		e.Aliases = []string{}
		e.Addresses = []string{}
		e.Countries = []string{}
		e.Programs = []string{}
		e.Identifiers = []models.Identifier{}
		e.Remarks = []string{}
		byUID[e.UID] = &e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity rows: %w", err)
	}
	return byUID, nil
}

// loadChildren fills the repeated attributes of every entity in byUID using
// one batch round trip.
func loadChildren(ctx context.Context, q pgx.Tx, byUID map[string]*models.SanctionedEntity) error {
	if len(byUID) == 0 {
		return nil
	}
	uids := make([]string, 0, len(byUID))
	for uid := range byUID {
		uids = append(uids, uid)
	}

	valueTables := []struct {
		table  string
		column string
		target func(e *models.SanctionedEntity) *[]string
	}{
		{"sanctioned_entity_aliases", "alias", func(e *models.SanctionedEntity) *[]string { return &e.Aliases }},
		{"sanctioned_entity_addresses", "address", func(e *models.SanctionedEntity) *[]string { return &e.Addresses }},
		{"sanctioned_entity_countries", "country", func(e *models.SanctionedEntity) *[]string { return &e.Countries }},
		{"sanctioned_entity_programs", "program", func(e *models.SanctionedEntity) *[]string { return &e.Programs }},
		{"sanctioned_entity_remarks", "remark", func(e *models.SanctionedEntity) *[]string { return &e.Remarks }},
	}

	batch := &pgx.Batch{}
	for _, vt := range valueTables {
		batch.Queue(fmt.Sprintf(`
			SELECT entity_uid, %s FROM %s
			WHERE entity_uid = ANY($1)
			ORDER BY entity_uid, position`, vt.column, vt.table), uids)
	}
	batch.Queue(`
		SELECT entity_uid, id_type, id_number, issuing_authority
		FROM sanctioned_entity_identifiers
		WHERE entity_uid = ANY($1)
		ORDER BY entity_uid, position`, uids)

	br := q.SendBatch(ctx, batch)
	defer br.Close()

	for _, vt := range valueTables {
		rows, err := br.Query()
		if err != nil {
			return fmt.Errorf("query %s: %w", vt.table, err)
		}
		for rows.Next() {
			var uid, value string
			if err := rows.Scan(&uid, &value); err != nil {
				rows.Close()
				return fmt.Errorf("scan %s: %w", vt.table, err)
			}
			if e, ok := byUID[uid]; ok {
				target := vt.target(e)
				*target = append(*target, value)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate %s: %w", vt.table, err)
		}
	}

	rows, err := br.Query()
	if err != nil {
		return fmt.Errorf("query sanctioned_entity_identifiers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var uid string
		var id models.Identifier
		if err := rows.Scan(&uid, &id.Type, &id.Number, &id.IssuingAuthority); err != nil {
			return fmt.Errorf("scan sanctioned_entity_identifiers: %w", err)
		}
		if e, ok := byUID[uid]; ok {
			e.Identifiers = append(e.Identifiers, id)
		}
	}
	return rows.Err()
}

// containsPattern builds an ILIKE pattern matching s anywhere, with LIKE
// wildcards in s escaped.
func containsPattern(s string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return "%" + escaped + "%"
}

// ============================================================================
// Sync log
// ============================================================================

func (r *sanctionsRepository) RecordSync(ctx context.Context, meta *models.SyncMetadata) error {
	query := `
		INSERT INTO sanctions_sync_metadata (
			status, total_entities, filtered_entities, skipped_records,
			error_message, source_url, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, synced_at`

	err := r.db.QueryRow(ctx, query,
		string(meta.Status), meta.TotalEntities, meta.FilteredEntities, meta.SkippedRecords,
		meta.ErrorMessage, meta.SourceURL, meta.DurationMs,
	).Scan(&meta.ID, &meta.SyncedAt)
	if err != nil {
		return &apperrors.StoreError{Op: "record sync", Cause: err}
	}
	return nil
}

// LatestSync returns the most recent sync attempt, or nil if none exists.
func (r *sanctionsRepository) LatestSync(ctx context.Context) (*models.SyncMetadata, error) {
	syncs, err := r.ListSyncs(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(syncs) == 0 {
		return nil, nil
	}
	return syncs[0], nil
}

func (r *sanctionsRepository) ListSyncs(ctx context.Context, limit int) ([]*models.SyncMetadata, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, status, total_entities, filtered_entities, skipped_records,
		       error_message, source_url, duration_ms, synced_at
		FROM sanctions_sync_metadata
		ORDER BY synced_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, &apperrors.StoreError{Op: "list syncs", Cause: err}
	}
	defer rows.Close()

	syncs := []*models.SyncMetadata{}
	for rows.Next() {
		var m models.SyncMetadata
		var status string
		if err := rows.Scan(&m.ID, &status, &m.TotalEntities, &m.FilteredEntities, &m.SkippedRecords,
			&m.ErrorMessage, &m.SourceURL, &m.DurationMs, &m.SyncedAt); err != nil {
			return nil, &apperrors.StoreError{Op: "list syncs", Cause: err}
		}
		m.Status = models.SyncStatus(status)
		syncs = append(syncs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperrors.StoreError{Op: "list syncs", Cause: err}
	}
	return syncs, nil
}

// IsNotFound reports whether err means the requested row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}
