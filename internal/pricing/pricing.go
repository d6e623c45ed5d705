// Package pricing converts a model's provider credit cost into a final
// price in the billing currency. Everything here is pure: the same model,
// options and settings snapshot always produce the same quote.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/digkill/TGArtBot/internal/models"
)

// ErrPriceUndetermined is returned when a model declares no pricing
// information. Callers must not charge and should warn the user.
var ErrPriceUndetermined = errors.New("price undetermined for model")

// Quote is the outcome of one price calculation.
type Quote struct {
	Credits decimal.Decimal // provider credit units
	Price   decimal.Decimal // billing currency, two decimal places
}

// creditFunc maps selected options to a credit cost for one model
// family. Unknown or missing options fall back to the base cost.
type creditFunc func(base decimal.Decimal, options map[string]any) decimal.Decimal

var creditTables = map[string]creditFunc{
	"nano-banana-pro":      nanoBananaCredits,
	"sora-2-text-to-video": soraVideoCredits,
}

func nanoBananaCredits(base decimal.Decimal, options map[string]any) decimal.Decimal {
	if stringOption(options, "resolution") == "4K" {
		return decimal.NewFromInt(24)
	}
	return base // 1K and 2K share the base cost
}

func soraVideoCredits(base decimal.Decimal, options map[string]any) decimal.Decimal {
	if stringOption(options, "n_frames") == "15" {
		// 30 credits buy a 10-second clip; a 15-second one costs half more.
		return base.Mul(decimal.NewFromFloat(1.5))
	}
	return base
}

func stringOption(options map[string]any, key string) string {
	if options == nil {
		return ""
	}
	s, _ := options[key].(string)
	return s
}

// CreditCost returns the provider credit units for model+options.
func CreditCost(m *models.Model, options map[string]any) (decimal.Decimal, error) {
	if !m.BaseCredits.Valid {
		return decimal.Zero, ErrPriceUndetermined
	}
	if table, ok := creditTables[m.ID]; ok {
		return table(m.BaseCredits.Decimal, options), nil
	}
	return m.BaseCredits.Decimal, nil
}

// Price computes the final quote: credits -> USD -> billing currency with
// markup, rounded half-up to two decimal places. Privileged users are
// charged zero but still see the credit cost.
func Price(m *models.Model, options map[string]any, settings models.Settings, privileged bool) (Quote, error) {
	credits, err := CreditCost(m, options)
	if err != nil {
		return Quote{}, err
	}
	if privileged {
		return Quote{Credits: credits, Price: decimal.Zero}, nil
	}
	price := credits.
		Mul(settings.CreditUSD).
		Mul(settings.ExchangeRate).
		Mul(settings.Markup).
		Round(2)
	return Quote{Credits: credits, Price: price}, nil
}
