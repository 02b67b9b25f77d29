package services

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KyawIT/what-to-wear-sub000/internal/platform/textutil"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

// WardrobeServiceDeps bundles collaborators required by the wardrobe service.
type WardrobeServiceDeps struct {
	Wardrobe repositories.WardrobeRepository
	Tokens   repositories.TokenSource
	MinItems int
}

type wardrobeService struct {
	wardrobe repositories.WardrobeRepository
	tokens   repositories.TokenSource
	minItems int
}

var _ WardrobeService = (*wardrobeService)(nil)

// NewWardrobeService constructs the wardrobe listing service.
func NewWardrobeService(deps WardrobeServiceDeps) (WardrobeService, error) {
	if deps.Wardrobe == nil {
		return nil, errors.New("wardrobe service: wardrobe repository is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("wardrobe service: token source is required")
	}
	minItems := deps.MinItems
	if minItems <= 0 {
		minItems = DefaultMinRecommendationItems
	}
	return &wardrobeService{wardrobe: deps.Wardrobe, tokens: deps.Tokens, minItems: minItems}, nil
}

func (s *wardrobeService) ListItems(ctx context.Context, filter WardrobeListFilter) (page WardrobePage, err error) {
	ctx, span := startSpan(ctx, "wardrobe.ListItems", attribute.String("bucket", string(filter.Bucket)))
	defer func() { endSpan(span, err) }()

	items, err := s.load(ctx, filter.UserID)
	if err != nil {
		return WardrobePage{}, err
	}

	category := textutil.FoldKey(filter.Category)
	tag := textutil.FoldKey(filter.Tag)
	matched := make([]WardrobeEntry, 0, len(items))
	for _, item := range items {
		bucket := item.Bucket()
		if filter.Bucket != "" && bucket != filter.Bucket {
			continue
		}
		if filter.ExcludeBucket != "" && bucket == filter.ExcludeBucket {
			continue
		}
		if category != "" && textutil.FoldKey(item.CategoryName) != category {
			continue
		}
		if tag != "" && !hasTag(item.Tags, tag) {
			continue
		}
		matched = append(matched, WardrobeEntry{
			Item:   item,
			Bucket: bucket,
			Ready:  item.IsCategorized() && item.HasImage(),
		})
	}

	start, end, next := filter.Page.Window(len(matched))
	page = WardrobePage{Items: matched[start:end], Total: len(matched), NextPageToken: next}
	return page, nil
}

func (s *wardrobeService) CheckEligibility(ctx context.Context, userID string) (result Eligibility, err error) {
	ctx, span := startSpan(ctx, "wardrobe.CheckEligibility")
	defer func() { endSpan(span, err) }()

	items, err := s.load(ctx, userID)
	if err != nil {
		return Eligibility{}, err
	}
	result = CheckEligibilityWithMinimum(items, s.minItems)
	span.SetAttributes(attribute.Bool("eligible", result.OK), attribute.String("reason", result.Reason))
	return result, nil
}

func (s *wardrobeService) load(ctx context.Context, userID string) ([]WardrobeItem, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, &AuthError{Err: errors.New("user id is required")}
	}
	token, err := s.tokens.AccessToken(ctx, userID)
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	items, err := s.wardrobe.ListItems(ctx, token)
	if err != nil {
		return nil, ClassifyFailure("Failed to load your wardrobe", err)
	}
	return items, nil
}

func hasTag(tags []string, key string) bool {
	for _, tag := range tags {
		if textutil.FoldKey(tag) == key {
			return true
		}
	}
	return false
}
