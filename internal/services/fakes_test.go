package services

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

type stubTokens struct {
	token string
	err   error
}

func (s stubTokens) AccessToken(context.Context, string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.token == "" {
		return "token-1", nil
	}
	return s.token, nil
}

type stubWardrobe struct {
	mu    sync.Mutex
	items []domain.WardrobeItem
	err   error
	calls int
}

func (s *stubWardrobe) ListItems(context.Context, string) ([]domain.WardrobeItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]domain.WardrobeItem(nil), s.items...), nil
}

// stubRecommender answers from a queue of responses. When a response has a
// release channel the call blocks until it is closed or ctx is done.
type stubRecommender struct {
	mu        sync.Mutex
	responses []recommenderResponse
	requests  []repositories.RecommendationRequest
	started   chan struct{}
}

// recommenderResponse is one queued answer. ignoreCancel keeps the call
// blocked on release even after ctx is cancelled.
type recommenderResponse struct {
	resp         domain.RecommendationResponse
	err          error
	release      chan struct{}
	ignoreCancel bool
}

func (s *stubRecommender) Recommend(ctx context.Context, req repositories.RecommendationRequest, _ string) (domain.RecommendationResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	var next recommenderResponse
	if len(s.responses) > 0 {
		next = s.responses[0]
		s.responses = s.responses[1:]
	}
	started := s.started
	s.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if next.release != nil {
		if next.ignoreCancel {
			<-next.release
		} else {
			select {
			case <-next.release:
			case <-ctx.Done():
				return domain.RecommendationResponse{}, ctx.Err()
			}
		}
	}
	return next.resp, next.err
}

func (s *stubRecommender) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type stubOutfits struct {
	mu      sync.Mutex
	created []domain.OutfitSubmission
	updated []domain.OutfitSubmission
	outfits map[string]domain.PersistedOutfit
	err     error
	getErr  error
	block   chan struct{}
	entered chan struct{}
	nextID  int
}

func (s *stubOutfits) Create(ctx context.Context, sub domain.OutfitSubmission, _ string) (domain.PersistedOutfit, error) {
	s.wait(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, sub)
	if s.err != nil {
		return domain.PersistedOutfit{}, s.err
	}
	s.nextID++
	return domain.PersistedOutfit{
		ID:    "persisted-" + string(rune('0'+s.nextID)),
		Title: sub.Title,
		Tags:  sub.Tags,
	}, nil
}

func (s *stubOutfits) Update(ctx context.Context, sub domain.OutfitSubmission, _ string) (domain.PersistedOutfit, error) {
	s.wait(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = append(s.updated, sub)
	if s.err != nil {
		return domain.PersistedOutfit{}, s.err
	}
	return domain.PersistedOutfit{ID: sub.OutfitID, Title: sub.Title, Tags: sub.Tags}, nil
}

func (s *stubOutfits) Get(_ context.Context, id string, _ string) (domain.PersistedOutfit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return domain.PersistedOutfit{}, s.getErr
	}
	outfit, ok := s.outfits[id]
	if !ok {
		return domain.PersistedOutfit{}, notFoundError{}
	}
	return outfit, nil
}

func (s *stubOutfits) wait(ctx context.Context) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
		}
	}
}

func (s *stubOutfits) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

type notFoundError struct{}

func (notFoundError) Error() string       { return "not found" }
func (notFoundError) IsNotFound() bool    { return true }
func (notFoundError) IsConflict() bool    { return false }
func (notFoundError) IsUnavailable() bool { return false }

type statusErr struct {
	status int
	msg    string
}

func (e statusErr) Error() string   { return e.msg }
func (e statusErr) StatusCode() int { return e.status }
func (e statusErr) Body() string    { return e.msg }

type stubCapturer struct {
	mu        sync.Mutex
	snapshots []domain.CanvasSnapshot
	image     *domain.Image
	err       error
	release   chan struct{}
}

func (s *stubCapturer) Capture(ctx context.Context, snapshot domain.CanvasSnapshot, _ string) (*domain.Image, error) {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snapshot)
	release := s.release
	s.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.image, s.err
}

func (s *stubCapturer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

type stubPredictor struct {
	mu         sync.Mutex
	prediction domain.TagPrediction
	err        error
	calls      int
}

func (s *stubPredictor) Predict(context.Context, domain.Image, string) (domain.TagPrediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.prediction, s.err
}

type stubPreviews struct {
	mu    sync.Mutex
	items [][]domain.WardrobeItem
	image *domain.Image
	err   error
}

func (s *stubPreviews) RenderPreview(_ context.Context, items []domain.WardrobeItem, _ string) (*domain.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items)
	return s.image, s.err
}

type recordingIndexSync struct {
	mu   sync.Mutex
	docs []domain.IndexDocument
}

func (r *recordingIndexSync) Dispatch(_ context.Context, doc domain.IndexDocument, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, doc)
}

func (r *recordingIndexSync) Wait(context.Context) error { return nil }

func (r *recordingIndexSync) documents() []domain.IndexDocument {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.IndexDocument(nil), r.docs...)
}

type recordingMetrics struct {
	mu              sync.Mutex
	recommendations []string
	saves           []string
	captures        []string
	syncFailures    int
	active          int
}

func (m *recordingMetrics) RecordRecommendation(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recommendations = append(m.recommendations, outcome)
}

func (m *recordingMetrics) RecordSave(source string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	label := source + ":failure"
	if success {
		label = source + ":success"
	}
	m.saves = append(m.saves, label)
}

func (m *recordingMetrics) RecordCapture(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures = append(m.captures, result)
}

func (m *recordingMetrics) RecordIndexSyncFailure(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncFailures++
}

func (m *recordingMetrics) SetActiveCompositions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = n
}

func (m *recordingMetrics) failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncFailures
}

var errBoom = errors.New("boom")

func wardrobeItem(id, title, category string) domain.WardrobeItem {
	return domain.WardrobeItem{
		ID:           id,
		Title:        title,
		CategoryID:   "cat-" + category,
		CategoryName: category,
		ImageURL:     "http://images/" + id + ".png",
	}
}

// coreWardrobe is one top, one bottom, one pair of footwear and two accessories.
func coreWardrobe() []domain.WardrobeItem {
	return []domain.WardrobeItem{
		wardrobeItem("shirt", "White Shirt", "Shirts"),
		wardrobeItem("jeans", "Blue Jeans", "Jeans"),
		wardrobeItem("sneakers", "Running Sneakers", "Sneakers"),
		wardrobeItem("belt", "Leather Belt", "Accessories"),
		wardrobeItem("watch", "Watch", "Accessories"),
	}
}

var (
	_ repositories.TokenSource          = stubTokens{}
	_ repositories.WardrobeRepository   = (*stubWardrobe)(nil)
	_ repositories.RecommendationClient = (*stubRecommender)(nil)
	_ repositories.OutfitRepository     = (*stubOutfits)(nil)
	_ repositories.Capturer             = (*stubCapturer)(nil)
	_ repositories.TagPredictor         = (*stubPredictor)(nil)
	_ repositories.PreviewRenderer      = (*stubPreviews)(nil)
	_ repositories.RepositoryError      = notFoundError{}
	_ repositories.StatusError          = statusErr{}
	_ IndexSyncDispatcher               = (*recordingIndexSync)(nil)
	_ MetricsRecorder                   = (*recordingMetrics)(nil)
)
