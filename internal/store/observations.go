package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"price-tracker/internal/models"
)

const observationColumns = "id, product_id, price, stock_status, discount, original_price, recorded_at"

// AppendObservation inserts a history row and refreshes the product snapshot
// in one transaction so the two never diverge.
func (s *Store) AppendObservation(ctx context.Context, obs *models.PriceObservation, observed models.ObservedProduct) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Amounts come back at the column scale so callers compare what was stored.
	err = tx.GetContext(ctx, obs, `
		INSERT INTO price_observations (product_id, price, stock_status, discount, original_price, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+observationColumns,
		obs.ProductID, obs.Price, obs.StockStatus, obs.Discount, obs.OriginalPrice, obs.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to insert observation: %w", err)
	}

	var image *string
	if observed.ImageURL != "" {
		image = &observed.ImageURL
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET current_price = $1, stock_status = $2, product_name = $3, rating = $4,
		    reviews_count = $5, product_image = COALESCE($6, product_image), last_scraped_at = $7
		WHERE id = $8`,
		obs.Price, obs.StockStatus, observed.Name, observed.Rating,
		observed.ReviewCount, image, obs.RecordedAt, obs.ProductID)
	if err != nil {
		return fmt.Errorf("failed to update product snapshot: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("product %d: %w", obs.ProductID, ErrNotFound)
	}

	return tx.Commit()
}

// LatestObservation returns the most recent observation, or nil if there is none
func (s *Store) LatestObservation(ctx context.Context, productID int64) (*models.PriceObservation, error) {
	var obs models.PriceObservation
	err := s.db.GetContext(ctx, &obs,
		"SELECT "+observationColumns+" FROM price_observations WHERE product_id = $1 ORDER BY recorded_at DESC, id DESC LIMIT 1",
		productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

// ListObservations returns up to limit of the most recent observations in
// ascending recorded_at order. A non-positive limit returns the full series.
func (s *Store) ListObservations(ctx context.Context, productID int64, limit int) ([]models.PriceObservation, error) {
	observations := []models.PriceObservation{}
	if limit <= 0 {
		err := s.db.SelectContext(ctx, &observations,
			"SELECT "+observationColumns+" FROM price_observations WHERE product_id = $1 ORDER BY recorded_at ASC, id ASC",
			productID)
		return observations, err
	}

	err := s.db.SelectContext(ctx, &observations, `
		SELECT `+observationColumns+` FROM (
			SELECT `+observationColumns+` FROM price_observations
			WHERE product_id = $1
			ORDER BY recorded_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY recorded_at ASC, id ASC`,
		productID, limit)
	return observations, err
}
