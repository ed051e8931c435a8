package store

import (
	"context"
	"fmt"
	"time"

	"price-tracker/internal/models"
)

// GetRulesByProductID retrieves the product owner's alert rules, active or not, in id order
func (s *Store) GetRulesByProductID(ctx context.Context, productID int64) ([]models.AlertRule, error) {
	rules := []models.AlertRule{}
	err := s.db.SelectContext(ctx, &rules, `
		SELECT id, product_id, user_id, threshold_price, alert_type, notification_method,
		       frequency, is_active, last_notified_at, created_at, updated_at
		FROM alert_rules
		WHERE product_id = $1
		  AND user_id = (SELECT user_id FROM products WHERE id = $1)
		ORDER BY id`, productID)
	return rules, err
}

// MarkRuleNotified stamps a rule after a delivered notification and
// optionally deactivates it.
func (s *Store) MarkRuleNotified(ctx context.Context, ruleID int64, at time.Time, deactivate bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert_rules
		SET last_notified_at = $1,
		    is_active = CASE WHEN $2 THEN FALSE ELSE is_active END,
		    updated_at = NOW()
		WHERE id = $3`,
		at, deactivate, ruleID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("alert rule %d: %w", ruleID, ErrNotFound)
	}
	return nil
}
