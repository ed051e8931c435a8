package extractor

import (
	"math"
	"strconv"
	"strings"
	"time"

	"price-tracker/internal/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

// Selectors locate product facts on a page
type Selectors struct {
	Anchor        string
	Name          string
	Price         string
	OriginalPrice string
	Stock         string
	Rating        string
	Reviews       string
	Image         string
}

// DefaultSelectors match the Flipkart product page layout
var DefaultSelectors = Selectors{
	Anchor:        "div._3wjZc",
	Name:          "span.B_NuCI",
	Price:         "div._30jeq",
	OriginalPrice: "div._3I9_wc",
	Stock:         "div._2p6bF",
	Rating:        "div._3LWZlK",
	Reviews:       "span._3nVJvd",
	Image:         "img._396cs4",
}

var outOfStockPhrases = []string{"out of stock", "sold out", "currently unavailable", "unavailable"}

var inStockPhrases = []string{"in stock", "available"}

// Extractor turns raw page markup into an ObservedProduct
type Extractor struct {
	selectors Selectors
	now       func() time.Time
}

// New creates an extractor with the given selectors
func New(selectors Selectors) *Extractor {
	return &Extractor{
		selectors: selectors,
		now:       time.Now,
	}
}

// NewDefault creates an extractor for the default page layout
func NewDefault() *Extractor {
	return New(DefaultSelectors)
}

// WithClock returns a copy of the extractor that stamps observations with clock
func (e *Extractor) WithClock(clock func() time.Time) *Extractor {
	return &Extractor{selectors: e.selectors, now: clock}
}

// Extract parses raw markup. It never fails: absent or malformed fields are
// left empty and a page without the product anchor yields the Unknown sentinel.
func (e *Extractor) Extract(raw string) models.ObservedProduct {
	observedAt := e.now().UTC()

	if strings.TrimSpace(raw) == "" {
		return unknownProduct(observedAt)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return unknownProduct(observedAt)
	}

	if doc.Find(e.selectors.Anchor).Length() == 0 {
		return unknownProduct(observedAt)
	}

	name, ok := firstText(doc, e.selectors.Name)
	if !ok || name == "" {
		return unknownProduct(observedAt)
	}

	observed := models.ObservedProduct{
		Name:        name,
		StockStatus: models.StockAvailable,
		ObservedAt:  observedAt,
	}

	if text, ok := firstText(doc, e.selectors.Price); ok {
		observed.Price = ParsePrice(text)
	}
	if text, ok := firstText(doc, e.selectors.OriginalPrice); ok {
		observed.OriginalPrice = ParsePrice(text)
	}
	if text, ok := firstText(doc, e.selectors.Stock); ok {
		observed.StockStatus = ParseStockStatus(text)
	}
	if text, ok := firstText(doc, e.selectors.Rating); ok {
		observed.Rating = ParseRating(text)
	}
	if text, ok := firstText(doc, e.selectors.Reviews); ok {
		observed.ReviewCount = ParseReviewCount(text)
	}
	if src, ok := doc.Find(e.selectors.Image).First().Attr("src"); ok {
		observed.ImageURL = strings.TrimSpace(src)
	}

	return observed
}

// ParsePrice keeps only digits and dots before conversion. An empty or
// unparsable remainder yields an absent price, never zero.
func ParsePrice(text string) decimal.NullDecimal {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, text)
	if cleaned == "" {
		return decimal.NullDecimal{}
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil || d.IsNegative() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// ParseRating reads the leading float token and rejects NaN and values outside [0,5]
func ParseRating(text string) *float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}

	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || math.IsNaN(v) || v < 0 || v > 5 {
		return nil
	}
	return &v
}

// ParseReviewCount strips every non-digit; empty text counts as zero
func ParseReviewCount(text string) int {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, text)
	if digits == "" {
		return 0
	}

	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

// ParseStockStatus normalizes known availability phrases and keeps other text raw
func ParseStockStatus(text string) models.StockStatus {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return models.StockUnknown
	}

	lower := strings.ToLower(trimmed)
	for _, phrase := range outOfStockPhrases {
		if strings.Contains(lower, phrase) {
			return models.StockOutOfStock
		}
	}
	for _, phrase := range inStockPhrases {
		if strings.Contains(lower, phrase) {
			return models.StockAvailable
		}
	}
	return models.StockStatus(trimmed)
}

func firstText(doc *goquery.Document, selector string) (string, bool) {
	if selector == "" {
		return "", false
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	return strings.TrimSpace(sel.Text()), true
}

func unknownProduct(observedAt time.Time) models.ObservedProduct {
	return models.ObservedProduct{
		Name:        models.UnknownProductName,
		StockStatus: models.StockUnknown,
		ObservedAt:  observedAt,
	}
}
