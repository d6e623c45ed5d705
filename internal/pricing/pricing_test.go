package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/TGArtBot/internal/models"
)

func testSettings() models.Settings {
	return models.Settings{
		CreditUSD:    decimal.RequireFromString("0.005"),
		ExchangeRate: decimal.RequireFromString("77.46"),
		Markup:       decimal.RequireFromString("2"),
	}
}

func modelWithCredits(id string, credits string) *models.Model {
	return &models.Model{
		ID:          id,
		Name:        id,
		BaseCredits: decimal.NullDecimal{Decimal: decimal.RequireFromString(credits), Valid: true},
	}
}

func TestPrice_CreditsToBillingCurrency(t *testing.T) {
	m := modelWithCredits("nano-banana-pro", "18")

	quote, err := Price(m, nil, testSettings(), false)
	require.NoError(t, err)

	// 18 * 0.005 * 77.46 * 2 = 13.9428 -> 13.94
	assert.Equal(t, "18", quote.Credits.String())
	assert.Equal(t, "13.94", quote.Price.StringFixed(2))
}

func TestPrice_RoundsHalfUp(t *testing.T) {
	m := modelWithCredits("z-image", "1")
	settings := models.Settings{
		CreditUSD:    decimal.RequireFromString("0.005"),
		ExchangeRate: decimal.RequireFromString("77"),
		Markup:       decimal.RequireFromString("32.5"), // 1*0.005*77*32.5 = 12.5125 -> 12.51
	}

	quote, err := Price(m, nil, settings, false)
	require.NoError(t, err)
	assert.Equal(t, "12.51", quote.Price.StringFixed(2))

	settings.Markup = decimal.RequireFromString("33") // 12.705 -> 12.71 (half up)
	quote, err = Price(m, nil, settings, false)
	require.NoError(t, err)
	assert.Equal(t, "12.71", quote.Price.StringFixed(2))
}

func TestPrice_Deterministic(t *testing.T) {
	m := modelWithCredits("seedream-v4-text-to-image", "6.5")
	options := map[string]any{"prompt": "кот в сапогах"}

	first, err := Price(m, options, testSettings(), false)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Price(m, options, testSettings(), false)
		require.NoError(t, err)
		assert.True(t, first.Price.Equal(again.Price))
		assert.True(t, first.Credits.Equal(again.Credits))
	}
}

func TestPrice_PrivilegedIsFree(t *testing.T) {
	m := modelWithCredits("sora-2-text-to-video", "30")

	quote, err := Price(m, nil, testSettings(), true)
	require.NoError(t, err)
	assert.True(t, quote.Price.IsZero())
	assert.Equal(t, "30", quote.Credits.String())
}

func TestPrice_UndeterminedWithoutBaseCredits(t *testing.T) {
	m := &models.Model{ID: "mystery-model", Name: "mystery"}

	_, err := Price(m, nil, testSettings(), false)
	assert.ErrorIs(t, err, ErrPriceUndetermined)

	_, err = CreditCost(m, nil)
	assert.ErrorIs(t, err, ErrPriceUndetermined)
}

func TestCreditCost_NanoBananaResolution(t *testing.T) {
	m := modelWithCredits("nano-banana-pro", "18")

	credits, err := CreditCost(m, map[string]any{"resolution": "4K"})
	require.NoError(t, err)
	assert.Equal(t, "24", credits.String())

	credits, err = CreditCost(m, map[string]any{"resolution": "2K"})
	require.NoError(t, err)
	assert.Equal(t, "18", credits.String())

	credits, err = CreditCost(m, nil)
	require.NoError(t, err)
	assert.Equal(t, "18", credits.String())
}

func TestCreditCost_SoraLongClip(t *testing.T) {
	m := modelWithCredits("sora-2-text-to-video", "30")

	credits, err := CreditCost(m, map[string]any{"n_frames": "15"})
	require.NoError(t, err)
	assert.Equal(t, "45", credits.String())

	credits, err = CreditCost(m, map[string]any{"n_frames": "10"})
	require.NoError(t, err)
	assert.Equal(t, "30", credits.String())
}
