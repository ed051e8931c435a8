package service

import (
	"time"

	"price-tracker/internal/models"
	"price-tracker/internal/util"
)

// AlertEvaluator decides which rules fire for a new observation. It performs
// no I/O and never mutates the rules it is given.
type AlertEvaluator struct{}

// NewAlertEvaluator creates a new alert evaluator
func NewAlertEvaluator() *AlertEvaluator {
	return &AlertEvaluator{}
}

// Cooldown returns the minimum gap between notifications of a rule. Once and
// unrecognized frequencies never notify again.
func Cooldown(f models.Frequency) (time.Duration, bool) {
	switch f {
	case models.FrequencyDaily:
		return 24 * time.Hour, true
	case models.FrequencyWeekly:
		return 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Evaluate returns one decision per active rule, in input order. previous is
// nil for the first observation of a product.
func (e *AlertEvaluator) Evaluate(
	previous *models.PriceObservation,
	current models.PriceObservation,
	rules []models.AlertRule,
	now time.Time,
) []models.AlertDecision {
	decisions := make([]models.AlertDecision, 0, len(rules))
	for _, rule := range rules {
		if !rule.Active {
			continue
		}

		reason := e.evaluateRule(previous, current, rule, now)
		decisions = append(decisions, models.AlertDecision{
			RuleID: rule.ID,
			Fires:  firing(reason),
			Reason: reason,
		})
		util.AlertDecisionsTotal.WithLabelValues(string(rule.Kind), string(reason)).Inc()
	}
	return decisions
}

func (e *AlertEvaluator) evaluateRule(previous *models.PriceObservation, current models.PriceObservation, rule models.AlertRule, now time.Time) models.DecisionReason {
	if coolingDown(rule, now) {
		return models.ReasonSuppressed
	}

	switch rule.Kind {
	case models.AlertKindPriceDrop:
		if previous == nil || !previous.Price.Valid || !current.Price.Valid {
			return models.ReasonNoChange
		}
		if current.Price.Decimal.LessThan(previous.Price.Decimal) {
			return models.ReasonPriceDropped
		}

	case models.AlertKindThreshold:
		if !current.Price.Valid || !rule.ThresholdPrice.Valid {
			return models.ReasonNoChange
		}
		if current.Price.Decimal.LessThanOrEqual(rule.ThresholdPrice.Decimal) {
			return models.ReasonBelowThreshold
		}

	case models.AlertKindStockChange:
		if previous == nil {
			return models.ReasonNoChange
		}
		if current.StockStatus != previous.StockStatus && current.StockStatus.IsAvailable() {
			return models.ReasonBackInStock
		}
	}

	return models.ReasonNoChange
}

func coolingDown(rule models.AlertRule, now time.Time) bool {
	if rule.LastNotifiedAt == nil {
		return false
	}
	cooldown, finite := Cooldown(rule.Frequency)
	if !finite {
		return true
	}
	return now.Sub(*rule.LastNotifiedAt) < cooldown
}

func firing(reason models.DecisionReason) bool {
	switch reason {
	case models.ReasonPriceDropped, models.ReasonBelowThreshold, models.ReasonBackInStock:
		return true
	default:
		return false
	}
}
