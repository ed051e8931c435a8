package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TwilioConfig holds SMS provider credentials
type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
	BaseURL     string
}

// TwilioSender delivers SMS through the Twilio Messages REST resource
type TwilioSender struct {
	cfg    TwilioConfig
	client *http.Client
}

type twilioMessage struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewTwilioSender creates an SMS transport
func NewTwilioSender(cfg TwilioConfig, timeout time.Duration) *TwilioSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	return &TwilioSender{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Send posts one message and returns the provider message SID
func (t *TwilioSender) Send(ctx context.Context, to, body string) (string, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(t.cfg.BaseURL, "/"), url.PathEscape(t.cfg.AccountSID))

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.cfg.PhoneNumber)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var msg twilioMessage
	_ = json.Unmarshal(raw, &msg)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if msg.Message != "" {
			return "", fmt.Errorf("sms api error: status %d: code %d: %s", resp.StatusCode, msg.Code, msg.Message)
		}
		return "", fmt.Errorf("sms api error: status %d", resp.StatusCode)
	}
	if msg.SID == "" {
		return "", fmt.Errorf("sms api error: response without message sid")
	}

	return msg.SID, nil
}
