package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

const (
	defaultRecommendTimeout = 45 * time.Second
	defaultRecommendLimit   = 6
	maxRecommendLimit       = 12
	defaultSettleDelay      = 80 * time.Millisecond

	opGenerateOutfits = "Failed to generate outfits"
	opLoadWardrobe    = "Failed to load your wardrobe"
	opCreateOutfit    = "Failed to create outfit"
)

// RecommendationServiceDeps bundles collaborators required by the recommendation service.
// A zero SettleDelay selects the default; a negative one disables the wait.
type RecommendationServiceDeps struct {
	Wardrobe    repositories.WardrobeRepository
	Recommender repositories.RecommendationClient
	Outfits     repositories.OutfitRepository
	Tokens      repositories.TokenSource
	Previews    repositories.PreviewRenderer
	IndexSync   IndexSyncDispatcher
	Metrics     MetricsRecorder
	Logger      *zap.Logger
	Clock       func() time.Time

	Timeout      time.Duration
	DefaultLimit int
	MaxLimit     int
	MinItems     int
	SettleDelay  time.Duration
}

type recommendationService struct {
	wardrobe    repositories.WardrobeRepository
	recommender repositories.RecommendationClient
	outfits     repositories.OutfitRepository
	tokens      repositories.TokenSource
	previews    repositories.PreviewRenderer
	indexSync   IndexSyncDispatcher
	metrics     MetricsRecorder
	logger      *zap.Logger
	clock       func() time.Time

	timeout      time.Duration
	defaultLimit int
	maxLimit     int
	minItems     int
	settleDelay  time.Duration

	mu     sync.Mutex
	boards map[string]*board
}

// board is the recommendation state of one user. Every field is guarded by mu.
type board struct {
	mu         sync.Mutex
	generation uint64
	generating bool
	cancel     context.CancelFunc
	outfits    []ResolvedOutfit
	warnings   []string
	errMessage string
	errReason  string
	saveStates map[string]SaveState
	updatedAt  time.Time
	closed     bool
	done       chan struct{}
}

var _ RecommendationService = (*recommendationService)(nil)

// NewRecommendationService constructs the recommendation orchestrator.
func NewRecommendationService(deps RecommendationServiceDeps) (RecommendationService, error) {
	if deps.Wardrobe == nil {
		return nil, errors.New("recommendation service: wardrobe repository is required")
	}
	if deps.Recommender == nil {
		return nil, errors.New("recommendation service: recommendation client is required")
	}
	if deps.Outfits == nil {
		return nil, errors.New("recommendation service: outfit repository is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("recommendation service: token source is required")
	}

	svc := &recommendationService{
		wardrobe:     deps.Wardrobe,
		recommender:  deps.Recommender,
		outfits:      deps.Outfits,
		tokens:       deps.Tokens,
		previews:     deps.Previews,
		indexSync:    deps.IndexSync,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		clock:        deps.Clock,
		timeout:      deps.Timeout,
		defaultLimit: deps.DefaultLimit,
		maxLimit:     deps.MaxLimit,
		minItems:     deps.MinItems,
		settleDelay:  deps.SettleDelay,
		boards:       make(map[string]*board),
	}
	if svc.indexSync == nil {
		svc.indexSync = NewIndexSyncDispatcher(IndexSyncDispatcherDeps{})
	}
	if svc.metrics == nil {
		svc.metrics = noopMetrics{}
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	if svc.clock == nil {
		svc.clock = time.Now
	}
	if svc.timeout <= 0 {
		svc.timeout = defaultRecommendTimeout
	}
	if svc.maxLimit <= 0 {
		svc.maxLimit = maxRecommendLimit
	}
	if svc.defaultLimit <= 0 {
		svc.defaultLimit = defaultRecommendLimit
	}
	if svc.defaultLimit > svc.maxLimit {
		svc.defaultLimit = svc.maxLimit
	}
	if svc.minItems <= 0 {
		svc.minItems = DefaultMinRecommendationItems
	}
	switch {
	case svc.settleDelay == 0:
		svc.settleDelay = defaultSettleDelay
	case svc.settleDelay < 0:
		svc.settleDelay = 0
	}
	return svc, nil
}

func (s *recommendationService) Generate(ctx context.Context, cmd GenerateCommand) (result RecommendationBoard, err error) {
	ctx, span := startSpan(ctx, "recommendation.Generate")
	defer func() { endSpan(span, err) }()

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return RecommendationBoard{}, &AuthError{Err: errors.New("user id is required")}
	}
	token, err := s.tokens.AccessToken(ctx, userID)
	if err != nil {
		return RecommendationBoard{}, &AuthError{Err: err}
	}
	items, err := s.wardrobe.ListItems(ctx, token)
	if err != nil {
		return RecommendationBoard{}, ClassifyFailure(opLoadWardrobe, err)
	}

	b := s.boardFor(userID, true)
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	b.generation++
	gen := b.generation
	if b.cancel != nil {
		b.cancel()
	}
	b.cancel = cancel
	b.generating = true
	b.saveStates = make(map[string]SaveState)
	b.mu.Unlock()
	span.SetAttributes(attribute.Int64("generation", int64(gen)), attribute.Int("wardrobe.items", len(items)))

	eligibility := CheckEligibilityWithMinimum(items, s.minItems)
	if !eligibility.OK {
		verr := eligibility.Err()
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.generation != gen || b.closed {
			s.metrics.RecordRecommendation("superseded", 0)
			return RecommendationBoard{}, ErrSuperseded
		}
		s.commitLocked(b, nil, nil, verr)
		s.metrics.RecordRecommendation("ineligible", 0)
		return b.snapshotLocked(), verr
	}

	uploads := make([]domain.UploadDescriptor, 0, len(eligibility.Eligible))
	for _, item := range eligibility.Eligible {
		uploads = append(uploads, domain.UploadDescriptor{
			WearableID: item.ID,
			ImageURI:   item.ImageURL,
			Tags:       append([]string(nil), item.Tags...),
		})
	}

	timeoutCtx, cancelTimeout := context.WithTimeout(callCtx, s.timeout)
	started := s.clock()
	resp, callErr := s.recommender.Recommend(timeoutCtx, repositories.RecommendationRequest{
		Items: uploads,
		Limit: s.clampLimit(cmd.Limit),
	}, token)
	cancelTimeout()
	elapsed := s.clock().Sub(started)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.generation != gen || b.closed {
		s.metrics.RecordRecommendation("superseded", elapsed)
		return RecommendationBoard{}, ErrSuperseded
	}

	if callErr != nil {
		classified := ClassifyFailure(opGenerateOutfits, callErr)
		s.commitLocked(b, nil, nil, classified)
		s.metrics.RecordRecommendation(failureReason(classified), elapsed)
		s.logger.Warn("outfit generation failed", zap.String("userId", userID), zap.Uint64("generation", gen), zap.Error(callErr))
		return b.snapshotLocked(), classified
	}

	resolved := domain.ResolveOutfits(resp.Outfits, items)
	var resolutionErr error
	switch {
	case len(resp.Outfits) == 0:
		resolutionErr = &ResolutionError{Kind: ResolutionEmpty}
	case len(resolved) == 0:
		resolutionErr = &ResolutionError{Kind: ResolutionUnmatched}
	}
	s.commitLocked(b, resolved, resp.Warnings, resolutionErr)
	if resolutionErr != nil {
		s.metrics.RecordRecommendation(failureReason(resolutionErr), elapsed)
		return b.snapshotLocked(), resolutionErr
	}
	s.metrics.RecordRecommendation("ok", elapsed)
	span.SetAttributes(attribute.Int("outfits.raw", len(resp.Outfits)), attribute.Int("outfits.resolved", len(resolved)))
	return b.snapshotLocked(), nil
}

func (s *recommendationService) Board(_ context.Context, userID string) (RecommendationBoard, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return RecommendationBoard{}, &AuthError{Err: errors.New("user id is required")}
	}
	b := s.boardFor(userID, false)
	if b == nil {
		return RecommendationBoard{SaveStates: map[string]SaveState{}}, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked(), nil
}

// Close cancels the in-flight generation and pending preview captures, then
// discards the board.
func (s *recommendationService) Close(_ context.Context, userID string) {
	s.mu.Lock()
	b, ok := s.boards[userID]
	delete(s.boards, userID)
	s.mu.Unlock()
	if !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	close(b.done)
}

func (s *recommendationService) SaveSuggestion(ctx context.Context, cmd SaveSuggestionCommand) (result SaveSuggestionResult, err error) {
	ctx, span := startSpan(ctx, "recommendation.SaveSuggestion", attribute.String("outfit.id", cmd.OutfitID))
	defer func() { endSpan(span, err) }()

	userID := strings.TrimSpace(cmd.UserID)
	outfitID := strings.TrimSpace(cmd.OutfitID)
	if userID == "" {
		return SaveSuggestionResult{}, &AuthError{Err: errors.New("user id is required")}
	}
	if outfitID == "" {
		return SaveSuggestionResult{}, ErrInvalidInput
	}

	b := s.boardFor(userID, false)
	if b == nil {
		return SaveSuggestionResult{}, ErrOutfitNotFound
	}

	b.mu.Lock()
	outfit, ok := findOutfit(b.outfits, outfitID)
	if !ok {
		b.mu.Unlock()
		return SaveSuggestionResult{}, ErrOutfitNotFound
	}
	if state := b.saveStates[outfitID]; state == domain.SaveStateSaving || state == domain.SaveStateSaved {
		b.mu.Unlock()
		return SaveSuggestionResult{Started: false, State: state}, nil
	}
	b.saveStates[outfitID] = domain.SaveStateSaving
	gen := b.generation
	done := b.done
	b.mu.Unlock()

	persisted, err := s.persistSuggestion(ctx, userID, outfit, done)

	b.mu.Lock()
	defer b.mu.Unlock()
	state := domain.SaveStateSaved
	if err != nil {
		state = domain.SaveStateUnsaved
	}
	if b.generation == gen {
		b.saveStates[outfitID] = state
	}
	s.metrics.RecordSave("suggestion", err == nil)
	if err != nil {
		return SaveSuggestionResult{Started: true, State: state}, err
	}
	return SaveSuggestionResult{Started: true, State: state, Outfit: &persisted}, nil
}

func (s *recommendationService) persistSuggestion(ctx context.Context, userID string, outfit ResolvedOutfit, done <-chan struct{}) (PersistedOutfit, error) {
	token, err := s.tokens.AccessToken(ctx, userID)
	if err != nil {
		return PersistedOutfit{}, &AuthError{Err: err}
	}

	ids := make([]string, len(outfit.Items))
	for i, item := range outfit.Items {
		ids[i] = item.ID
	}
	title := suggestionTitle(outfit.ID)
	preview := s.capturePreview(ctx, outfit.Items, token, done)

	created, err := s.outfits.Create(ctx, domain.OutfitSubmission{
		Title:       title,
		WearableIDs: ids,
		Image:       preview,
	}, token)
	if err != nil {
		return PersistedOutfit{}, ClassifyFailure(opCreateOutfit, err)
	}

	s.indexSync.Dispatch(ctx, indexDocument(created, userID, ids, nil, title), token)
	return created, nil
}

// capturePreview renders the preview grid after the settle delay. Any failure
// or cancellation resolves to no image.
func (s *recommendationService) capturePreview(ctx context.Context, items []WardrobeItem, token string, done <-chan struct{}) *domain.Image {
	if s.previews == nil {
		return nil
	}
	if s.settleDelay > 0 {
		timer := time.NewTimer(s.settleDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-done:
			s.metrics.RecordCapture("cancelled")
			return nil
		case <-ctx.Done():
			s.metrics.RecordCapture("cancelled")
			return nil
		}
	}

	img, err := s.previews.RenderPreview(ctx, items, token)
	select {
	case <-done:
		s.metrics.RecordCapture("cancelled")
		return nil
	default:
	}
	switch {
	case err != nil:
		s.logger.Warn("outfit preview capture failed", zap.Error(err))
		s.metrics.RecordCapture("failed")
		return nil
	case img == nil:
		s.metrics.RecordCapture("empty")
		return nil
	}
	s.metrics.RecordCapture("ok")
	return img
}

func (s *recommendationService) boardFor(userID string, create bool) *board {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[userID]
	if !ok && create {
		b = &board{saveStates: make(map[string]SaveState), done: make(chan struct{})}
		s.boards[userID] = b
	}
	return b
}

func (s *recommendationService) clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return s.defaultLimit
	case limit > s.maxLimit:
		return s.maxLimit
	default:
		return limit
	}
}

// commitLocked replaces outfits, warnings and error state together.
func (s *recommendationService) commitLocked(b *board, outfits []ResolvedOutfit, warnings []string, failure error) {
	b.generating = false
	b.cancel = nil
	b.outfits = outfits
	b.warnings = append([]string(nil), warnings...)
	b.errMessage = ""
	b.errReason = ""
	if failure != nil {
		b.errMessage = failure.Error()
		b.errReason = failureReason(failure)
	}
	b.updatedAt = s.clock().UTC()
}

func (b *board) snapshotLocked() RecommendationBoard {
	outfits := make([]ResolvedOutfit, len(b.outfits))
	for i, outfit := range b.outfits {
		outfits[i] = ResolvedOutfit{ID: outfit.ID, Items: append([]WardrobeItem(nil), outfit.Items...)}
	}
	states := make(map[string]SaveState, len(b.outfits))
	for _, outfit := range b.outfits {
		state := b.saveStates[outfit.ID]
		if state == "" {
			state = domain.SaveStateUnsaved
		}
		states[outfit.ID] = state
	}
	return RecommendationBoard{
		Generation:  b.generation,
		Generating:  b.generating,
		Outfits:     outfits,
		Warnings:    append([]string(nil), b.warnings...),
		Error:       b.errMessage,
		ErrorReason: b.errReason,
		SaveStates:  states,
		UpdatedAt:   b.updatedAt,
	}
}

func findOutfit(outfits []ResolvedOutfit, id string) (ResolvedOutfit, bool) {
	for _, outfit := range outfits {
		if outfit.ID == id {
			return outfit, true
		}
	}
	return ResolvedOutfit{}, false
}

// suggestionTitle turns "outfit-3" into "Outfit 3".
func suggestionTitle(outfitID string) string {
	return strings.Replace(outfitID, "outfit-", "Outfit ", 1)
}

// failureReason is a short machine readable label for a classified failure.
func failureReason(err error) string {
	var (
		validation *ValidationError
		resolution *ResolutionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return validation.Reason
	case errors.As(err, &resolution):
		return "resolution_" + string(resolution.Kind)
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "upstream"
	}
}
