package services

import (
	"fmt"
	"strings"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
)

// DefaultMinRecommendationItems is the wardrobe size below which no recommendation is requested.
const DefaultMinRecommendationItems = 5

// Eligibility reasons.
const (
	ReasonNotEnoughItems  = "not_enough_items"
	ReasonNeedsProcessing = "needs_processing"
	ReasonMissingBuckets  = "missing_buckets"
)

// Eligibility is the outcome of the pre-recommendation coverage check.
// Eligible holds the categorized items that have an image.
type Eligibility struct {
	OK             bool
	Reason         string
	Message        string
	MissingBuckets []domain.Bucket
	Eligible       []domain.WardrobeItem
	BucketCounts   map[domain.Bucket]int
}

// Err returns the eligibility failure as a *ValidationError, or nil when OK.
func (e Eligibility) Err() error {
	if e.OK {
		return nil
	}
	verr := newValidationError(e.Reason, e.Message)
	for _, bucket := range e.MissingBuckets {
		verr.MissingBuckets = append(verr.MissingBuckets, bucket.FriendlyName())
	}
	return verr
}

// CheckEligibility applies the coverage rules with the default minimum.
func CheckEligibility(items []domain.WardrobeItem) Eligibility {
	return CheckEligibilityWithMinimum(items, DefaultMinRecommendationItems)
}

// CheckEligibilityWithMinimum applies the coverage rules in order: enough
// items, enough processed items, then one processed item per core bucket.
func CheckEligibilityWithMinimum(items []domain.WardrobeItem, minItems int) Eligibility {
	if minItems <= 0 {
		minItems = DefaultMinRecommendationItems
	}
	if len(items) < minItems {
		return Eligibility{
			Reason:  ReasonNotEnoughItems,
			Message: fmt.Sprintf("Not enough items: at least %d wardrobe items are required to generate outfits.", minItems),
		}
	}

	eligible := make([]domain.WardrobeItem, 0, len(items))
	for _, item := range items {
		if item.IsCategorized() && item.HasImage() {
			eligible = append(eligible, item)
		}
	}

	counts := make(map[domain.Bucket]int, 4)
	for _, item := range eligible {
		counts[item.Bucket()]++
	}

	if len(eligible) < minItems {
		return Eligibility{
			Reason:       ReasonNeedsProcessing,
			Message:      fmt.Sprintf("At least %d wardrobe items with processed images and categories are required.", minItems),
			Eligible:     eligible,
			BucketCounts: counts,
		}
	}

	var missing []domain.Bucket
	for _, bucket := range domain.CoreBuckets() {
		if counts[bucket] == 0 {
			missing = append(missing, bucket)
		}
	}
	if len(missing) > 0 {
		names := make([]string, len(missing))
		for i, bucket := range missing {
			names[i] = bucket.FriendlyName()
		}
		return Eligibility{
			Reason:         ReasonMissingBuckets,
			Message:        fmt.Sprintf("Add at least one %s item to generate outfits.", strings.Join(names, ", ")),
			MissingBuckets: missing,
			Eligible:       eligible,
			BucketCounts:   counts,
		}
	}

	return Eligibility{OK: true, Eligible: eligible, BucketCounts: counts}
}
