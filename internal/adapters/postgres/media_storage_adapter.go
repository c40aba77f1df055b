package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"listing-pipeline/internal/core/domain"
)

// PostgresMediaStorage реализует port.MediaStoragePort над listing_media
type PostgresMediaStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresMediaStorage(pool *pgxpool.Pool) *PostgresMediaStorage {
	return &PostgresMediaStorage{pool: pool}
}

func (s *PostgresMediaStorage) HasMedia(ctx context.Context, listingID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM listing_media WHERE listing_id = $1)`, listingID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("PostgresMediaStorage: failed to check media of listing %s: %w", listingID, err)
	}
	return exists, nil
}

// SaveMedia вставляет строки одной пачкой; повтор с теми же URL ничего не меняет
func (s *PostgresMediaStorage) SaveMedia(ctx context.Context, items []domain.MediaItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, m := range items {
		batch.Queue(
			`INSERT INTO listing_media (id, listing_id, source_url, storage_key, content_type, bytes, position, is_hero, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (listing_id, source_url) DO NOTHING`,
			m.ID, m.ListingID, m.SourceURL, m.StorageKey, m.ContentType, m.Bytes, m.Position, m.IsHero, m.CreatedAt,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range items {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("PostgresMediaStorage: failed to insert media row: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("PostgresMediaStorage: failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit media batch: %w", err)
	}
	return nil
}

func (s *PostgresMediaStorage) ListMedia(ctx context.Context, listingID uuid.UUID) ([]domain.MediaItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, listing_id, source_url, storage_key, content_type, bytes, position, is_hero, created_at
		 FROM listing_media WHERE listing_id = $1 ORDER BY position`,
		listingID,
	)
	if err != nil {
		return nil, fmt.Errorf("PostgresMediaStorage: failed to query media of listing %s: %w", listingID, err)
	}
	defer rows.Close()

	var items []domain.MediaItem
	for rows.Next() {
		var m domain.MediaItem
		if err := rows.Scan(&m.ID, &m.ListingID, &m.SourceURL, &m.StorageKey, &m.ContentType, &m.Bytes, &m.Position, &m.IsHero, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("PostgresMediaStorage: failed to scan media row: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("PostgresMediaStorage: error during media rows iteration: %w", err)
	}
	return items, nil
}

// SetHero снимает флаг с остальных изображений и ставит его на mediaID
func (s *PostgresMediaStorage) SetHero(ctx context.Context, listingID uuid.UUID, mediaID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE listing_media SET is_hero = FALSE WHERE listing_id = $1 AND id <> $2 AND is_hero`, listingID, mediaID); err != nil {
		return fmt.Errorf("PostgresMediaStorage: failed to reset hero of listing %s: %w", listingID, err)
	}
	tag, err := tx.Exec(ctx, `UPDATE listing_media SET is_hero = TRUE WHERE listing_id = $1 AND id = $2`, listingID, mediaID)
	if err != nil {
		return fmt.Errorf("PostgresMediaStorage: failed to set hero %s: %w", mediaID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("PostgresMediaStorage: media %s does not belong to listing %s", mediaID, listingID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit hero change: %w", err)
	}
	return nil
}
