package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltmpl "html/template"
	"strings"
	texttmpl "text/template"

	"price-tracker/internal/models"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed templates/*
var templateFS embed.FS

const currencySymbol = "₹"

// Notice carries the facts a notification is rendered from
type Notice struct {
	ProductName   string
	ProductURL    string
	PreviousPrice decimal.NullDecimal
	CurrentPrice  decimal.NullDecimal
	Threshold     decimal.NullDecimal
	Reason        models.DecisionReason
}

// Savings is previous minus current when both prices are known
func (n Notice) Savings() decimal.NullDecimal {
	if !n.PreviousPrice.Valid || !n.CurrentPrice.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(n.PreviousPrice.Decimal.Sub(n.CurrentPrice.Decimal))
}

// Headline is the short title used for the subject and the SMS prefix
func (n Notice) Headline() string {
	switch n.Reason {
	case models.ReasonBelowThreshold:
		return "Target Price Reached"
	case models.ReasonBackInStock:
		return "Back in Stock"
	default:
		return "Price Drop Alert"
	}
}

// Subject is the email subject line
func (n Notice) Subject() string {
	return fmt.Sprintf("%s: %s", n.Headline(), n.ProductName)
}

type noticeView struct {
	Headline           string
	ProductName        string
	ProductURL         string
	PreviousPrice      string
	CurrentPrice       string
	Threshold          string
	Savings            string
	PreviousPriceShort string
	CurrentPriceShort  string
	SenderName         string
}

// Renderer turns a Notice into channel bodies
type Renderer struct {
	email      *htmltmpl.Template
	sms        *texttmpl.Template
	printer    *message.Printer
	senderName string
}

// NewRenderer parses the embedded templates
func NewRenderer(senderName string) (*Renderer, error) {
	email, err := htmltmpl.ParseFS(templateFS, "templates/email.html")
	if err != nil {
		return nil, fmt.Errorf("parse email template: %w", err)
	}
	sms, err := texttmpl.ParseFS(templateFS, "templates/sms.txt")
	if err != nil {
		return nil, fmt.Errorf("parse sms template: %w", err)
	}

	return &Renderer{
		email:      email,
		sms:        sms,
		printer:    message.NewPrinter(language.English),
		senderName: senderName,
	}, nil
}

// RenderEmail returns the HTML email body
func (r *Renderer) RenderEmail(n Notice) (string, error) {
	var buf bytes.Buffer
	if err := r.email.ExecuteTemplate(&buf, "email.html", r.view(n)); err != nil {
		return "", fmt.Errorf("execute email template: %w", err)
	}
	return buf.String(), nil
}

// RenderSMS returns the single line SMS body
func (r *Renderer) RenderSMS(n Notice) (string, error) {
	var buf bytes.Buffer
	if err := r.sms.ExecuteTemplate(&buf, "sms.txt", r.view(n)); err != nil {
		return "", fmt.Errorf("execute sms template: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// FormatMoney renders an amount with thousands separators and two decimals
func (r *Renderer) FormatMoney(d decimal.NullDecimal) string {
	return r.format(d, 2)
}

func (r *Renderer) format(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return ""
	}
	f, _ := d.Decimal.Round(places).Float64()
	if places == 0 {
		return currencySymbol + r.printer.Sprintf("%.0f", f)
	}
	return currencySymbol + r.printer.Sprintf("%.2f", f)
}

func (r *Renderer) view(n Notice) noticeView {
	savings := n.Savings()
	if savings.Valid && !savings.Decimal.IsPositive() {
		savings = decimal.NullDecimal{}
	}

	return noticeView{
		Headline:           n.Headline(),
		ProductName:        n.ProductName,
		ProductURL:         n.ProductURL,
		PreviousPrice:      r.format(n.PreviousPrice, 2),
		CurrentPrice:       r.format(n.CurrentPrice, 2),
		Threshold:          r.format(n.Threshold, 2),
		Savings:            r.format(savings, 2),
		PreviousPriceShort: r.format(n.PreviousPrice, 0),
		CurrentPriceShort:  r.format(n.CurrentPrice, 0),
		SenderName:         r.senderName,
	}
}
