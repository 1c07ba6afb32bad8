package events

import (
	"errors"
	"fmt"
	"sort"
)

// Catalog maps a message label to its relative weight. A Catalog is immutable
// once built and may be shared by reference across workers.
type Catalog struct {
	labels  []string
	weights map[string]int
	total   int
}

// DefaultWeights is the message mix generated when no catalog is configured.
func DefaultWeights() map[string]int {
	return map[string]int{
		"Message1":  50,
		"Message2":  100,
		"Message3":  4,
		"Message4":  20,
		"Message5":  4,
		"Message6":  5,
		"Message7":  4,
		"Message8":  10,
		"Message9":  1,
		"Message10": 1,
	}
}

// NewCatalog validates weights and copies them into a Catalog.
func NewCatalog(weights map[string]int) (*Catalog, error) {
	if len(weights) == 0 {
		return nil, errors.New("message catalog cannot be empty")
	}

	c := &Catalog{
		labels:  make([]string, 0, len(weights)),
		weights: make(map[string]int, len(weights)),
	}
	for label, w := range weights {
		if label == "" {
			return nil, errors.New("message catalog contains an empty label")
		}
		if w < 1 {
			return nil, fmt.Errorf("message %q has weight %d, weights must be at least 1", label, w)
		}
		c.labels = append(c.labels, label)
		c.weights[label] = w
		c.total += w
	}
	sort.Strings(c.labels)
	return c, nil
}

// MustDefaultCatalog returns the catalog built from DefaultWeights.
func MustDefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultWeights())
	if err != nil {
		panic(err)
	}
	return c
}

// Labels returns the catalog labels in sorted order.
func (c *Catalog) Labels() []string {
	out := make([]string, len(c.labels))
	copy(out, c.labels)
	return out
}

// Weight returns the weight of label, or 0 if it is not in the catalog.
func (c *Catalog) Weight(label string) int {
	return c.weights[label]
}

// TotalWeight is the sum of all weights.
func (c *Catalog) TotalWeight() int {
	return c.total
}

// Probability is the expected sampling frequency of label.
func (c *Catalog) Probability(label string) float64 {
	return float64(c.weights[label]) / float64(c.total)
}

// Universe expands the catalog so that each label appears exactly weight
// times. The result is ordered by label and is a fresh slice on every call.
func (c *Catalog) Universe() []string {
	universe := make([]string, 0, c.total)
	for _, label := range c.labels {
		for i := 0; i < c.weights[label]; i++ {
			universe = append(universe, label)
		}
	}
	return universe
}
