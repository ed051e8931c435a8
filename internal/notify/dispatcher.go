package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"price-tracker/internal/models"
	"price-tracker/internal/util"

	"go.uber.org/zap"
)

// ErrChannelDisabled marks a channel switched off by configuration
var ErrChannelDisabled = errors.New("channel disabled")

// TransportError wraps a failed send on one channel
type TransportError struct {
	Channel models.Channel
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// EmailSender sends an HTML email
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMSSender sends a text message and returns the provider message id
type SMSSender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// Config switches channels and bounds each send
type Config struct {
	EmailEnabled bool
	SMSEnabled   bool
	Timeout      time.Duration
}

// Dispatcher fans a firing decision out to the rule's channels
type Dispatcher struct {
	email    EmailSender
	sms      SMSSender
	renderer *Renderer
	cfg      Config
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher. A nil sender behaves as a disabled channel.
func NewDispatcher(email EmailSender, sms SMSSender, renderer *Renderer, cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Dispatcher{
		email:    email,
		sms:      sms,
		renderer: renderer,
		cfg:      cfg,
		logger:   util.GetLogger(),
	}
}

// Dispatch attempts every channel of the rule independently and never returns
// an error: failures are reported as undelivered results. SMS is skipped
// without a result when the contact has no phone number.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	decision models.AlertDecision,
	rule models.AlertRule,
	contact models.UserContact,
	notice Notice,
) []models.NotificationResult {
	if !decision.Fires {
		return nil
	}

	ctx, span := util.StartSpan(ctx, "Dispatcher.Dispatch")
	defer span.End()

	results := make([]models.NotificationResult, 0, 2)
	for _, channel := range rule.Channel.Expand() {
		if channel == models.ChannelSMS && !contact.HasPhone() {
			d.logger.Info("Skipping SMS, no phone number on file",
				zap.Int64("rule_id", rule.ID),
				zap.Int64("user_id", contact.UserID))
			continue
		}

		result := d.attempt(ctx, channel, contact, notice)
		d.record(rule, result)
		results = append(results, result)
	}

	return results
}

func (d *Dispatcher) attempt(ctx context.Context, channel models.Channel, contact models.UserContact, notice Notice) (result models.NotificationResult) {
	result.Channel = channel

	defer func() {
		if r := recover(); r != nil {
			result.Delivered = false
			result.MessageID = ""
			result.Error = (&TransportError{Channel: channel, Err: fmt.Errorf("panic: %v", r)}).Error()
		}
	}()

	if !d.enabled(channel) {
		result.Error = ErrChannelDisabled.Error()
		return result
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	var err error
	switch channel {
	case models.ChannelEmail:
		err = d.sendEmail(sendCtx, contact, notice)
	case models.ChannelSMS:
		result.MessageID, err = d.sendSMS(sendCtx, contact, notice)
	default:
		err = fmt.Errorf("unsupported channel %q", channel)
	}

	if err != nil {
		result.Error = (&TransportError{Channel: channel, Err: err}).Error()
		return result
	}

	result.Delivered = true
	return result
}

func (d *Dispatcher) enabled(channel models.Channel) bool {
	switch channel {
	case models.ChannelEmail:
		return d.cfg.EmailEnabled && d.email != nil
	case models.ChannelSMS:
		return d.cfg.SMSEnabled && d.sms != nil
	default:
		return true
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, contact models.UserContact, notice Notice) error {
	if contact.Email == "" {
		return errors.New("no email address on file")
	}
	body, err := d.renderer.RenderEmail(notice)
	if err != nil {
		return err
	}
	return d.email.Send(ctx, contact.Email, notice.Subject(), body)
}

func (d *Dispatcher) sendSMS(ctx context.Context, contact models.UserContact, notice Notice) (string, error) {
	body, err := d.renderer.RenderSMS(notice)
	if err != nil {
		return "", err
	}
	return d.sms.Send(ctx, *contact.Phone, body)
}

func (d *Dispatcher) record(rule models.AlertRule, result models.NotificationResult) {
	status := "delivered"
	switch {
	case result.Delivered:
	case result.Error == ErrChannelDisabled.Error():
		status = "disabled"
	default:
		status = "failed"
	}
	util.NotificationsTotal.WithLabelValues(string(result.Channel), status).Inc()

	if result.Delivered {
		d.logger.Info("Notification delivered",
			zap.Int64("rule_id", rule.ID),
			zap.String("channel", string(result.Channel)),
			zap.String("message_id", result.MessageID))
		return
	}
	d.logger.Warn("Notification not delivered",
		zap.Int64("rule_id", rule.ID),
		zap.String("channel", string(result.Channel)),
		zap.String("error", result.Error))
}
