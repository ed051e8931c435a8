package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockStatus is the availability text of a product page. Known values are
// normalized to the constants below; anything else is kept as raw text.
type StockStatus string

const (
	StockAvailable  StockStatus = "Available"
	StockOutOfStock StockStatus = "Out of Stock"
	StockUnknown    StockStatus = "Unknown"
)

// IsAvailable reports whether the status means the product can be bought
func (s StockStatus) IsAvailable() bool {
	return s == StockAvailable
}

// PriceScale is the number of decimal places prices are stored with
const PriceScale int32 = 2

// UnknownProductName marks an extraction that found no product on the page
const UnknownProductName = "Unknown"

// ObservedProduct is the normalized result of one page extraction
type ObservedProduct struct {
	Name          string              `json:"name"`
	Price         decimal.NullDecimal `json:"price"`
	OriginalPrice decimal.NullDecimal `json:"original_price"`
	StockStatus   StockStatus         `json:"stock_status"`
	Rating        *float64            `json:"rating,omitempty"`
	ReviewCount   int                 `json:"review_count"`
	ImageURL      string              `json:"image_url,omitempty"`
	ObservedAt    time.Time           `json:"observed_at"`
}

// IsUnknown reports whether the extraction produced the "Unknown" sentinel
func (o ObservedProduct) IsUnknown() bool {
	return o.Name == UnknownProductName
}

// Product represents a tracked product and its latest snapshot
type Product struct {
	ID            int64               `db:"id" json:"id"`
	UserID        int64               `db:"user_id" json:"user_id"`
	URL           string              `db:"product_url" json:"product_url"`
	Name          string              `db:"product_name" json:"product_name"`
	CurrentPrice  decimal.NullDecimal `db:"current_price" json:"current_price"`
	StockStatus   StockStatus         `db:"stock_status" json:"stock_status"`
	ImageURL      *string             `db:"product_image" json:"product_image,omitempty"`
	Rating        *float64            `db:"rating" json:"rating,omitempty"`
	ReviewCount   int                 `db:"reviews_count" json:"reviews_count"`
	AddedAt       time.Time           `db:"added_at" json:"added_at"`
	LastScrapedAt *time.Time          `db:"last_scraped_at" json:"last_scraped_at,omitempty"`
}

// PriceObservation is one append-only point of a product's price history
type PriceObservation struct {
	ID            int64               `db:"id" json:"id"`
	ProductID     int64               `db:"product_id" json:"product_id"`
	Price         decimal.NullDecimal `db:"price" json:"price"`
	StockStatus   StockStatus         `db:"stock_status" json:"stock_status"`
	Discount      decimal.NullDecimal `db:"discount" json:"discount"`
	OriginalPrice decimal.NullDecimal `db:"original_price" json:"original_price"`
	RecordedAt    time.Time           `db:"recorded_at" json:"recorded_at"`
}

// UserContact holds the delivery addresses of a rule owner
type UserContact struct {
	UserID int64   `db:"id" json:"user_id"`
	Email  string  `db:"email" json:"email"`
	Phone  *string `db:"phone" json:"phone,omitempty"`
}

// HasPhone reports whether an SMS can be addressed to the user
func (c UserContact) HasPhone() bool {
	return c.Phone != nil && *c.Phone != ""
}

// AlertKind is the condition an alert rule watches
type AlertKind string

const (
	AlertKindPriceDrop   AlertKind = "price_drop"
	AlertKindThreshold   AlertKind = "threshold"
	AlertKindStockChange AlertKind = "stock"
)

// Channel is a notification transport selection
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelBoth  Channel = "both"
)

// Expand returns the concrete transports a rule channel maps to
func (c Channel) Expand() []Channel {
	switch c {
	case ChannelEmail:
		return []Channel{ChannelEmail}
	case ChannelSMS:
		return []Channel{ChannelSMS}
	case ChannelBoth:
		return []Channel{ChannelEmail, ChannelSMS}
	default:
		return nil
	}
}

// Frequency controls how often a rule may notify
type Frequency string

const (
	FrequencyOnce   Frequency = "once"
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// AlertRule is a user-configured condition plus its delivery settings
type AlertRule struct {
	ID             int64               `db:"id" json:"id"`
	ProductID      int64               `db:"product_id" json:"product_id"`
	UserID         int64               `db:"user_id" json:"user_id"`
	ThresholdPrice decimal.NullDecimal `db:"threshold_price" json:"threshold_price"`
	Kind           AlertKind           `db:"alert_type" json:"alert_type"`
	Channel        Channel             `db:"notification_method" json:"notification_method"`
	Frequency      Frequency           `db:"frequency" json:"frequency"`
	Active         bool                `db:"is_active" json:"is_active"`
	LastNotifiedAt *time.Time          `db:"last_notified_at" json:"last_notified_at,omitempty"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time           `db:"updated_at" json:"updated_at"`
}

// DecisionReason explains the outcome of evaluating one rule
type DecisionReason string

const (
	ReasonPriceDropped   DecisionReason = "price_dropped"
	ReasonBelowThreshold DecisionReason = "below_threshold"
	ReasonBackInStock    DecisionReason = "back_in_stock"
	ReasonNoChange       DecisionReason = "no_change"
	ReasonSuppressed     DecisionReason = "suppressed"
)

// AlertDecision is the evaluator's verdict for one active rule
type AlertDecision struct {
	RuleID int64          `json:"rule_id"`
	Fires  bool           `json:"fires"`
	Reason DecisionReason `json:"reason"`
}

// NotificationResult is the delivery outcome on a single channel
type NotificationResult struct {
	Channel   Channel `json:"channel"`
	Delivered bool    `json:"delivered"`
	Error     string  `json:"error,omitempty"`
	MessageID string  `json:"message_id,omitempty"`
}

// RunStatus is the terminal state of one refresh cycle
type RunStatus string

const (
	RunCompleted        RunStatus = "completed"
	RunFetchFailed      RunStatus = "fetch_failed"
	RunExtractionFailed RunStatus = "extraction_failed"
	RunStorageFailed    RunStatus = "storage_failed"
)

// RunOutcome summarizes one refresh cycle for a product
type RunOutcome struct {
	ProductID     int64                          `json:"product_id"`
	Status        RunStatus                      `json:"status"`
	Observation   *PriceObservation              `json:"observation,omitempty"`
	Decisions     []AlertDecision                `json:"decisions,omitempty"`
	Notifications map[int64][]NotificationResult `json:"notifications,omitempty"`
	Error         string                         `json:"error,omitempty"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
