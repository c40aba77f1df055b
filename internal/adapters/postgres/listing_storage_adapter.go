package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"listing-pipeline/internal/core/domain"
)

const listingColumns = `id, external_id, fingerprint, source_url, title, description, price, currency,
	area, rooms, city, street, property_type, status, quality_score, is_fully_parsed, aux,
	image_urls, keywords, last_seen_at, created_at, updated_at`

// PostgresListingStorage реализует port.ListingStoragePort
type PostgresListingStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresListingStorage(pool *pgxpool.Pool) *PostgresListingStorage {
	return &PostgresListingStorage{pool: pool}
}

func scanListing(row pgx.Row) (*domain.Listing, error) {
	var (
		l      domain.Listing
		status string
		ptype  string
	)
	err := row.Scan(
		&l.ID, &l.ExternalID, &l.Fingerprint, &l.SourceURL, &l.Title, &l.Description, &l.Price, &l.Currency,
		&l.Area, &l.Rooms, &l.City, &l.Street, &ptype, &status, &l.QualityScore, &l.IsFullyParsed, &l.Aux,
		&l.ImageURLs, &l.Keywords, &l.LastSeenAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Status = domain.ListingStatus(status)
	l.PropertyType = domain.ParsePropertyType(ptype)
	if l.Aux == nil {
		l.Aux = domain.AuxPayload{}
	}
	return &l, nil
}

// queryOne nil, nil, если строк нет
func (s *PostgresListingStorage) queryOne(ctx context.Context, query string, args ...interface{}) (*domain.Listing, error) {
	l, err := scanListing(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

func (s *PostgresListingStorage) FindRecentByFingerprint(ctx context.Context, fp string, since time.Time, excludeID *uuid.UUID) (*domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings
		WHERE fingerprint = $1 AND updated_at >= $2 AND ($3::uuid IS NULL OR id <> $3)
		ORDER BY updated_at DESC LIMIT 1`

	l, err := s.queryOne(ctx, query, fp, since, excludeID)
	if err != nil {
		return nil, fmt.Errorf("PostgresListingStorage: failed to query listing by fingerprint %s: %w", fp, err)
	}
	return l, nil
}

func (s *PostgresListingStorage) FindByExternalID(ctx context.Context, externalID string) (*domain.Listing, error) {
	l, err := s.queryOne(ctx, `SELECT `+listingColumns+` FROM listings WHERE external_id = $1`, externalID)
	if err != nil {
		return nil, fmt.Errorf("PostgresListingStorage: failed to query listing by external id %s: %w", externalID, err)
	}
	return l, nil
}

func (s *PostgresListingStorage) GetByID(ctx context.Context, id uuid.UUID) (*domain.Listing, error) {
	l, err := s.queryOne(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("PostgresListingStorage: failed to query listing %s: %w", id, err)
	}
	if l == nil {
		return nil, domain.ErrListingNotFound
	}
	return l, nil
}

// Create false, если запись с тем же external_id уже есть
func (s *PostgresListingStorage) Create(ctx context.Context, l *domain.Listing) (bool, error) {
	query := `INSERT INTO listings (` + listingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (external_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		l.ID, l.ExternalID, l.Fingerprint, l.SourceURL, l.Title, l.Description, l.Price, l.Currency,
		l.Area, l.Rooms, l.City, l.Street, string(l.PropertyType), string(l.Status), l.QualityScore, l.IsFullyParsed, auxOrEmpty(l.Aux),
		textArray(l.ImageURLs), textArray(l.Keywords), l.LastSeenAt, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("PostgresListingStorage: failed to insert listing %s: %w", l.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

const touchQuery = `UPDATE listings SET last_seen_at = $2, updated_at = $2, price = COALESCE($3, price) WHERE id = $1`

const deletePendingQuery = `DELETE FROM listings WHERE id = $1 AND status = $2`

func (s *PostgresListingStorage) TouchSeen(ctx context.Context, id uuid.UUID, seenAt time.Time, price *float64) error {
	tag, err := s.pool.Exec(ctx, touchQuery, id, seenAt, price)
	if err != nil {
		return fmt.Errorf("PostgresListingStorage: failed to refresh listing %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrListingNotFound
	}
	return nil
}

// MergeInto обновляет выжившую запись и удаляет скелет в одной транзакции
func (s *PostgresListingStorage) MergeInto(ctx context.Context, survivorID uuid.UUID, seenAt time.Time, price *float64, skeletonID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, touchQuery, survivorID, seenAt, price)
	if err != nil {
		return fmt.Errorf("PostgresListingStorage: failed to refresh survivor %s: %w", survivorID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrListingNotFound
	}

	// скелет, который уже успел выйти из pending, не трогаем
	if _, err := tx.Exec(ctx, deletePendingQuery, skeletonID, string(domain.StatusPending)); err != nil {
		return fmt.Errorf("PostgresListingStorage: failed to delete merged skeleton %s: %w", skeletonID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit merge of %s into %s: %w", skeletonID, survivorID, err)
	}
	return nil
}

// UpdateNormalized применяется только к записи в статусе pending
func (s *PostgresListingStorage) UpdateNormalized(ctx context.Context, l *domain.Listing) (bool, error) {
	query := `UPDATE listings SET
			fingerprint = $2, title = $3, description = $4, price = $5, currency = $6, area = $7,
			rooms = $8, city = $9, street = $10, property_type = $11, status = $12, quality_score = $13,
			is_fully_parsed = $14, aux = $15, image_urls = $16, keywords = $17, last_seen_at = $18,
			updated_at = now()
		WHERE id = $1 AND status = $19`

	tag, err := s.pool.Exec(ctx, query,
		l.ID, l.Fingerprint, l.Title, l.Description, l.Price, l.Currency, l.Area,
		l.Rooms, l.City, l.Street, string(l.PropertyType), string(l.Status), l.QualityScore,
		l.IsFullyParsed, auxOrEmpty(l.Aux), textArray(l.ImageURLs), textArray(l.Keywords), l.LastSeenAt,
		string(domain.StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("PostgresListingStorage: failed to update listing %s: %w", l.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresListingStorage) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.ListingStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return false, fmt.Errorf("PostgresListingStorage: failed to move listing %s from %s to %s: %w", id, from, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresListingStorage) DeletePending(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, deletePendingQuery, id, string(domain.StatusPending))
	if err != nil {
		return false, fmt.Errorf("PostgresListingStorage: failed to delete pending listing %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// FindVisible страница записей и общее число совпадений
func (s *PostgresListingStorage) FindVisible(ctx context.Context, filter domain.ListingFilter) ([]domain.Listing, int, error) {
	query, args := buildFindVisibleQuery(filter)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("PostgresListingStorage: failed to query listings: %w", err)
	}
	defer rows.Close()

	var (
		listings []domain.Listing
		total    int
	)
	for rows.Next() {
		var (
			l      domain.Listing
			status string
			ptype  string
		)
		err := rows.Scan(
			&l.ID, &l.ExternalID, &l.Fingerprint, &l.SourceURL, &l.Title, &l.Description, &l.Price, &l.Currency,
			&l.Area, &l.Rooms, &l.City, &l.Street, &ptype, &status, &l.QualityScore, &l.IsFullyParsed, &l.Aux,
			&l.ImageURLs, &l.Keywords, &l.LastSeenAt, &l.CreatedAt, &l.UpdatedAt, &total,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("PostgresListingStorage: failed to scan listing: %w", err)
		}
		l.Status = domain.ListingStatus(status)
		l.PropertyType = domain.ParsePropertyType(ptype)
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("PostgresListingStorage: error during listing rows iteration: %w", err)
	}

	if len(listings) == 0 && filter.Offset > 0 {
		// страница за пределами выборки, общее число берем отдельно
		countQuery, countArgs := buildCountQuery(filter)
		if err := s.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("PostgresListingStorage: failed to count listings: %w", err)
		}
	}
	return listings, total, nil
}

// buildWhere условия выборки и аргументы, начиная с $1
func buildWhere(filter domain.ListingFilter) (string, []interface{}) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}

	conditions := []string{"status = ANY($1)"}
	args := []interface{}{statuses}
	if filter.Query != "" {
		args = append(args, filter.Query)
		conditions = append(conditions, fmt.Sprintf("search_vector @@ plainto_tsquery('simple', $%d)", len(args)))
	}
	if filter.City != "" {
		args = append(args, filter.City)
		conditions = append(conditions, fmt.Sprintf("lower(city) = lower($%d)", len(args)))
	}
	return strings.Join(conditions, " AND "), args
}

func buildFindVisibleQuery(filter domain.ListingFilter) (string, []interface{}) {
	where, args := buildWhere(filter)
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s, COUNT(*) OVER() FROM listings WHERE %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, listingColumns, where, len(args)-1, len(args))
	return query, args
}

func buildCountQuery(filter domain.ListingFilter) (string, []interface{}) {
	where, args := buildWhere(filter)
	return `SELECT COUNT(*) FROM listings WHERE ` + where, args
}

func auxOrEmpty(aux domain.AuxPayload) domain.AuxPayload {
	if aux == nil {
		return domain.AuxPayload{}
	}
	return aux
}

// textArray NOT NULL колонки не принимают nil-срез
func textArray(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
