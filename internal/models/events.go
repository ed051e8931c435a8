package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeRefreshRequested = "REFRESH_REQUESTED"
	EventTypePriceRecorded    = "PRICE_RECORDED"
	EventTypeAlertTriggered   = "ALERT_TRIGGERED"
	EventTypeRefreshFailed    = "REFRESH_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// RefreshRequestedEvent asks a worker to run one refresh cycle
type RefreshRequestedEvent struct {
	BaseEvent
	ProductID int64 `json:"product_id"`
}

// PriceRecordedEvent published after an observation is persisted
type PriceRecordedEvent struct {
	BaseEvent
	ProductID     int64               `json:"product_id"`
	ObservationID int64               `json:"observation_id"`
	Price         decimal.NullDecimal `json:"price"`
	StockStatus   StockStatus         `json:"stock_status"`
}

// AlertTriggeredEvent published for every firing rule after dispatch
type AlertTriggeredEvent struct {
	BaseEvent
	ProductID int64                `json:"product_id"`
	RuleID    int64                `json:"rule_id"`
	UserID    int64                `json:"user_id"`
	Reason    DecisionReason       `json:"reason"`
	Delivered bool                 `json:"delivered"`
	Results   []NotificationResult `json:"results"`
}

// RefreshFailedEvent published when a cycle stops before completion
type RefreshFailedEvent struct {
	BaseEvent
	ProductID int64     `json:"product_id"`
	Status    RunStatus `json:"status"`
	Reason    string    `json:"reason"`
}
