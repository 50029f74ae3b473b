// Package validate performs single-pass structural and semantic validation
// of merged product records, weighted confidence aggregation and
// best-effort auto-fixing.
package validate

import (
	"fmt"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
	"github.com/artikelwerk/hybrid-extractor/internal/textnorm"
)

// Profile fixes the per-field weights of the confidence aggregation, the
// review threshold and the price sanity ceiling. Weights reflect how
// strongly each field predicts record acceptability and must sum to 1.
type Profile struct {
	Name            string
	Weights         map[extraction.FieldName]float64
	ReviewThreshold float64
	PriceCeiling    float64
}

// WithLimits overrides the review threshold and price ceiling where the
// arguments are positive, keeping the profile defaults otherwise. This is
// how the configured validation limits reach a named profile.
func (p Profile) WithLimits(reviewThreshold, priceCeiling float64) Profile {
	if reviewThreshold > 0 {
		p.ReviewThreshold = reviewThreshold
	}
	if priceCeiling > 0 {
		p.PriceCeiling = priceCeiling
	}
	return p
}

// DefaultProfile weighs identifier and price heavily; descriptions and
// tier schedules are nice to have.
func DefaultProfile() Profile {
	return Profile{
		Name: "default",
		Weights: map[extraction.FieldName]float64{
			extraction.FieldProductName:   0.30,
			extraction.FieldPrice:         0.25,
			extraction.FieldDescription:   0.10,
			extraction.FieldTieredPrices:  0.10,
			extraction.FieldArticleNumber: 0.25,
		},
		ReviewThreshold: 0.70,
		PriceCeiling:    textnorm.PriceCeiling,
	}
}

// StrictProfile shifts weight toward descriptions and tier schedules for
// pipelines that refuse records without them.
func StrictProfile() Profile {
	return Profile{
		Name: "strict",
		Weights: map[extraction.FieldName]float64{
			extraction.FieldProductName:   0.30,
			extraction.FieldPrice:         0.20,
			extraction.FieldDescription:   0.15,
			extraction.FieldTieredPrices:  0.15,
			extraction.FieldArticleNumber: 0.20,
		},
		ReviewThreshold: 0.70,
		PriceCeiling:    textnorm.PriceCeiling,
	}
}

// ProfileByName resolves a configured profile name.
func ProfileByName(name string) (Profile, error) {
	switch name {
	case "", "default":
		return DefaultProfile(), nil
	case "strict":
		return StrictProfile(), nil
	default:
		return Profile{}, fmt.Errorf("unknown validation profile %q", name)
	}
}
