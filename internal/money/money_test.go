package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrice_NormalizesScale(t *testing.T) {
	p, err := ParsePrice("150.5")
	require.NoError(t, err)
	assert.Equal(t, "150.5000", p.String())
}

func TestParsePrice_RejectsNonPositive(t *testing.T) {
	_, err := ParsePrice("0")
	assert.Error(t, err)

	_, err = ParsePrice("-1.00")
	assert.Error(t, err)
}

func TestParsePrice_RejectsGarbage(t *testing.T) {
	_, err := ParsePrice("not-a-number")
	assert.Error(t, err)
}

func TestPrice_EqualIgnoresTrailingZeroFormatting(t *testing.T) {
	a, err := ParsePrice("100")
	require.NoError(t, err)
	b, err := ParsePrice("100.0000")
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestPrice_Ordering(t *testing.T) {
	low, err := ParsePrice("10.00")
	require.NoError(t, err)
	high, err := ParsePrice("20.00")
	require.NoError(t, err)

	assert.True(t, low.Less(high))
	assert.False(t, high.Less(low))
	assert.True(t, low.LessOrEqual(low))
	assert.True(t, high.GreaterOrEqual(low))
	assert.Equal(t, -1, low.Compare(high))
}

func TestPrice_ValueAndScan_RoundTrip(t *testing.T) {
	p, err := ParsePrice("42.1234")
	require.NoError(t, err)

	v, err := p.Value()
	require.NoError(t, err)

	var scanned Price
	require.NoError(t, scanned.Scan(v))
	assert.True(t, p.Equal(scanned))
}

func TestNewPrice_RoundsToScale(t *testing.T) {
	d, err := decimal.NewFromString("9.99995")
	require.NoError(t, err)
	p, err := NewPrice(d)
	require.NoError(t, err)
	assert.Equal(t, "10.0000", p.String())
}
