package volatility

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistorical_UndefinedPrefix(t *testing.T) {
	closes := []float64{100, 101, 102, 101, 103, 104}
	vols := Historical(closes, 3)
	require.Len(t, vols, len(closes))

	for i := 0; i < 3; i++ {
		assert.True(t, math.IsNaN(vols[i]), "index %d should be undefined", i)
	}
	for i := 3; i < len(closes); i++ {
		assert.False(t, math.IsNaN(vols[i]), "index %d should be defined", i)
	}
}

func TestHistorical_KnownValue(t *testing.T) {
	closes := []float64{100, 110, 99}
	vols := Historical(closes, 2)

	r1 := math.Log(110.0 / 100.0)
	r2 := math.Log(99.0 / 110.0)
	mean := (r1 + r2) / 2
	sd := math.Sqrt(((r1-mean)*(r1-mean) + (r2-mean)*(r2-mean)) / 1)
	assert.InDelta(t, sd*math.Sqrt(252), vols[2], 1e-12)
}

func TestHistorical_ConstantPricesGiveZero(t *testing.T) {
	closes := []float64{50, 50, 50, 50}
	vols := Historical(closes, 2)
	assert.Equal(t, 0.0, vols[3])
}

func TestHistorical_NonPositiveCloseIsUndefined(t *testing.T) {
	closes := []float64{100, 0, 101, 102, 103}
	vols := Historical(closes, 2)
	assert.True(t, math.IsNaN(vols[2]))
	assert.False(t, math.IsNaN(vols[4]))
}

func TestHistorical_ShortSeries(t *testing.T) {
	vols := Historical([]float64{1, 2}, DefaultLookback)
	for _, v := range vols {
		assert.True(t, math.IsNaN(v))
	}
	assert.Empty(t, Historical(nil, DefaultLookback))
}

func TestSeries_FillsDefault(t *testing.T) {
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	vols := Series(closes, DefaultLookback, DefaultVolatility)
	for _, v := range vols {
		assert.Equal(t, DefaultVolatility, v)
	}
}
