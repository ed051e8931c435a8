package service

import (
	"context"
	"time"

	"price-tracker/internal/models"
	"price-tracker/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// HistoryRecorder appends observations to the price history
type HistoryRecorder struct {
	store  ObservationStore
	logger *zap.Logger
}

// NewHistoryRecorder creates a new history recorder
func NewHistoryRecorder(store ObservationStore) *HistoryRecorder {
	return &HistoryRecorder{
		store:  store,
		logger: util.GetLogger(),
	}
}

// Record always appends a new row, even when nothing changed, and refreshes
// the product snapshot in the same write.
func (r *HistoryRecorder) Record(ctx context.Context, productID int64, observed models.ObservedProduct) (*models.PriceObservation, error) {
	ctx, span := util.StartProductSpan(ctx, "HistoryRecorder.Record", productID)
	defer span.End()

	recordedAt := observed.ObservedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	price := roundPrice(observed.Price)
	original := roundPrice(observed.OriginalPrice)
	obs := &models.PriceObservation{
		ProductID:     productID,
		Price:         price,
		StockStatus:   observed.StockStatus,
		Discount:      Discount(original, price),
		OriginalPrice: original,
		RecordedAt:    recordedAt,
	}

	if err := r.store.AppendObservation(ctx, obs, observed); err != nil {
		return nil, &StorageError{Op: "append observation", Err: err}
	}

	util.ObservationsRecordedTotal.Inc()
	r.logger.Info("Price observation recorded",
		zap.Int64("product_id", productID),
		zap.Int64("observation_id", obs.ID),
		zap.String("price", obs.Price.Decimal.String()),
		zap.Bool("price_known", obs.Price.Valid),
		zap.String("stock_status", string(obs.StockStatus)))

	return obs, nil
}

// Discount is original minus current when both are known
func Discount(original, current decimal.NullDecimal) decimal.NullDecimal {
	if !original.Valid || !current.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(original.Decimal.Sub(current.Decimal))
}

func roundPrice(d decimal.NullDecimal) decimal.NullDecimal {
	if !d.Valid {
		return d
	}
	return decimal.NewNullDecimal(d.Decimal.Round(models.PriceScale))
}
