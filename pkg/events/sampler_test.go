package events_test

import (
	"testing"

	"github.com/illmade-knight/eventgen/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCatalog(t *testing.T) {
	t.Run("Default catalog", func(t *testing.T) {
		c := events.MustDefaultCatalog()
		assert.Len(t, c.Labels(), 10)
		assert.Equal(t, 199, c.TotalWeight())
		assert.Equal(t, 100, c.Weight("Message2"))
		assert.Zero(t, c.Weight("missing"))
		assert.InDelta(t, 50.0/199.0, c.Probability("Message1"), 1e-12)
	})

	t.Run("Rejects invalid catalogs", func(t *testing.T) {
		_, err := events.NewCatalog(nil)
		assert.Error(t, err)

		_, err = events.NewCatalog(map[string]int{"A": 1, "B": 0})
		assert.ErrorContains(t, err, `"B" has weight 0`)

		_, err = events.NewCatalog(map[string]int{"": 3})
		assert.Error(t, err)
	})

	t.Run("Catalog is a copy of its input", func(t *testing.T) {
		weights := map[string]int{"A": 2}
		c, err := events.NewCatalog(weights)
		require.NoError(t, err)
		weights["A"] = 99
		assert.Equal(t, 2, c.Weight("A"))
	})
}

func TestCatalog_Universe(t *testing.T) {
	c, err := events.NewCatalog(map[string]int{"A": 3, "B": 1, "C": 2})
	require.NoError(t, err)

	universe := c.Universe()
	assert.Equal(t, []string{"A", "A", "A", "B", "C", "C"}, universe)
	assert.Len(t, universe, c.TotalWeight())
}

func TestSampler_OnlyReturnsCatalogLabels(t *testing.T) {
	c, err := events.NewCatalog(map[string]int{"only": 7})
	require.NoError(t, err)
	s := events.NewSampler(c, events.NewSource(0))

	assert.Equal(t, 7, s.Len())
	for i := 0; i < 100; i++ {
		assert.Equal(t, "only", s.Sample())
	}
}

func TestSampler_SeededSourcesAreReproducible(t *testing.T) {
	c := events.MustDefaultCatalog()
	a := events.NewSampler(c, events.NewSeededSource(42, 1))
	b := events.NewSampler(c, events.NewSeededSource(42, 1))
	other := events.NewSampler(c, events.NewSeededSource(42, 2))

	var same, diverged int
	for i := 0; i < 1000; i++ {
		x, y, z := a.Sample(), b.Sample(), other.Sample()
		if x == y {
			same++
		}
		if x != z {
			diverged++
		}
	}
	assert.Equal(t, 1000, same, "same seed and worker must give the same sequence")
	assert.Positive(t, diverged, "different workers must not share a sequence")
}

// TestSampler_Distribution checks the observed label frequencies against the
// catalog weights with a chi-squared goodness-of-fit test.
func TestSampler_Distribution(t *testing.T) {
	c := events.MustDefaultCatalog()
	s := events.NewSampler(c, events.NewSeededSource(20261017, 7))

	const draws = 200000
	counts := make(map[string]int)
	for i := 0; i < draws; i++ {
		counts[s.Sample()]++
	}

	var chi2 float64
	for _, label := range c.Labels() {
		expected := draws * c.Probability(label)
		diff := float64(counts[label]) - expected
		chi2 += diff * diff / expected
	}

	// 9 degrees of freedom, p = 0.0001.
	const critical = 33.72
	assert.Less(t, chi2, critical, "chi-squared statistic %.2f exceeds %.2f", chi2, critical)

	assert.InDelta(t, 50.0/199.0, float64(counts["Message1"])/draws, 0.01)
	assert.InDelta(t, 100.0/199.0, float64(counts["Message2"])/draws, 0.01)
}
