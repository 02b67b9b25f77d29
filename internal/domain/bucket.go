package domain

import "strings"

// Bucket is the outfit role of a wardrobe item. It is derived from the
// category name and never stored.
type Bucket string

const (
	BucketTop      Bucket = "top"
	BucketBottom   Bucket = "bottom"
	BucketFootwear Bucket = "footwear"
	BucketNone     Bucket = "none"
)

var (
	footwearKeywords = []string{"shoe", "sneaker", "boot", "footwear", "trainer", "loafer", "heel", "sandal", "slipper"}
	bottomKeywords   = []string{"pant", "jean", "short", "skirt", "dress", "bottom", "trouser", "chino", "legging"}
	topKeywords      = []string{"shirt", "top", "hoodie", "sweater", "blouse", "tee", "upper", "jacket", "coat"}
)

// ClassifyCategory maps a free-text category label to a bucket. Keyword sets
// are tested in the order footwear, bottom, top; the first match wins.
func ClassifyCategory(label string) Bucket {
	lower := strings.ToLower(label)
	if lower == "" {
		return BucketNone
	}
	switch {
	case containsAny(lower, footwearKeywords):
		return BucketFootwear
	case containsAny(lower, bottomKeywords):
		return BucketBottom
	case containsAny(lower, topKeywords):
		return BucketTop
	default:
		return BucketNone
	}
}

// CoreBuckets lists the buckets every outfit needs, in reporting order.
func CoreBuckets() []Bucket {
	return []Bucket{BucketTop, BucketBottom, BucketFootwear}
}

// FriendlyName returns the lower-case noun used in user facing messages.
func (b Bucket) FriendlyName() string {
	switch b {
	case BucketTop, BucketBottom, BucketFootwear:
		return string(b)
	default:
		return "accessory"
	}
}

// IsCore reports whether b is one of the buckets required for an outfit.
func (b Bucket) IsCore() bool {
	return b == BucketTop || b == BucketBottom || b == BucketFootwear
}

// ParseBucket converts a query value into a bucket.
func ParseBucket(value string) (Bucket, bool) {
	switch Bucket(strings.ToLower(strings.TrimSpace(value))) {
	case BucketTop:
		return BucketTop, true
	case BucketBottom:
		return BucketBottom, true
	case BucketFootwear:
		return BucketFootwear, true
	case BucketNone:
		return BucketNone, true
	default:
		return "", false
	}
}

func containsAny(value string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(value, keyword) {
			return true
		}
	}
	return false
}
