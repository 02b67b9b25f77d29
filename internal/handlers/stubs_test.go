package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/auth"
	"github.com/KyawIT/what-to-wear-sub000/internal/services"
)

const testUserID = "user-1"

func withUser(req *http.Request, userID string) *http.Request {
	identity := &auth.Identity{
		UserID:      userID,
		AccessToken: "token-" + userID,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func serve(t *testing.T, routes RouteRegistrar, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/", routes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	decodeBody(t, rr, &body)
	code, _ := body["error"].(string)
	return code
}

func sampleItems() []domain.WardrobeItem {
	return []domain.WardrobeItem{
		{ID: "shirt", Title: "Shirt", CategoryID: "c1", CategoryName: "Shirts", ImageURL: "https://img/shirt.png", Tags: []string{"casual"}},
		{ID: "jeans", Title: "Jeans", CategoryID: "c2", CategoryName: "Jeans", ImageURL: "https://img/jeans.png"},
		{ID: "sneakers", Title: "Sneakers", CategoryID: "c3", CategoryName: "Sneakers", ImageURL: "https://img/sneakers.png"},
	}
}

type stubWardrobeService struct {
	page        services.WardrobePage
	eligibility services.Eligibility
	err         error
	lastFilter  services.WardrobeListFilter
}

func (s *stubWardrobeService) ListItems(_ context.Context, filter services.WardrobeListFilter) (services.WardrobePage, error) {
	s.lastFilter = filter
	return s.page, s.err
}

func (s *stubWardrobeService) CheckEligibility(context.Context, string) (services.Eligibility, error) {
	return s.eligibility, s.err
}

type stubRecommendationService struct {
	board      services.RecommendationBoard
	err        error
	saveResult services.SaveSuggestionResult
	saveErr    error
	lastCmd    services.GenerateCommand
	saveCalls  int
	closed     []string
}

func (s *stubRecommendationService) Generate(_ context.Context, cmd services.GenerateCommand) (services.RecommendationBoard, error) {
	s.lastCmd = cmd
	return s.board, s.err
}

func (s *stubRecommendationService) Board(context.Context, string) (services.RecommendationBoard, error) {
	return s.board, nil
}

func (s *stubRecommendationService) Close(_ context.Context, userID string) {
	s.closed = append(s.closed, userID)
}

func (s *stubRecommendationService) SaveSuggestion(context.Context, services.SaveSuggestionCommand) (services.SaveSuggestionResult, error) {
	s.saveCalls++
	return s.saveResult, s.saveErr
}

// stubCompositionService records the last call and replies with view/err.
type stubCompositionService struct {
	view       services.CompositionView
	err        error
	saveResult services.SaveCompositionResult
	preview    *domain.Image

	lastRef    services.SessionRef
	lastStart  services.StartCompositionCommand
	lastEvents []services.GestureEvent
	lastItemID string
	lastUp     bool
	lastMeta   services.OutfitMetadata
	lastTag    string
	saveCalls  int
}

func (s *stubCompositionService) Start(_ context.Context, cmd services.StartCompositionCommand) (services.CompositionView, error) {
	s.lastStart = cmd
	return s.view, s.err
}

func (s *stubCompositionService) Get(_ context.Context, ref services.SessionRef) (services.CompositionView, error) {
	s.lastRef = ref
	return s.view, s.err
}

func (s *stubCompositionService) ApplyGestures(_ context.Context, ref services.SessionRef, events []services.GestureEvent) (services.CompositionView, error) {
	s.lastRef = ref
	s.lastEvents = events
	return s.view, s.err
}

func (s *stubCompositionService) MoveLayer(_ context.Context, ref services.SessionRef, itemID string, up bool) (services.CompositionView, error) {
	s.lastRef = ref
	s.lastItemID = itemID
	s.lastUp = up
	return s.view, s.err
}

func (s *stubCompositionService) SetActive(_ context.Context, ref services.SessionRef, itemID string) (services.CompositionView, error) {
	s.lastRef = ref
	s.lastItemID = itemID
	return s.view, s.err
}

func (s *stubCompositionService) UpdateMetadata(_ context.Context, ref services.SessionRef, meta services.OutfitMetadata) (services.CompositionView, error) {
	s.lastRef = ref
	s.lastMeta = meta
	return s.view, s.err
}

func (s *stubCompositionService) AddTag(_ context.Context, ref services.SessionRef, tag string) (services.CompositionView, error) {
	s.lastRef = ref
	s.lastTag = tag
	return s.view, s.err
}

func (s *stubCompositionService) RemoveTag(_ context.Context, ref services.SessionRef, tag string) (services.CompositionView, error) {
	s.lastRef = ref
	s.lastTag = tag
	return s.view, s.err
}

func (s *stubCompositionService) AutoTag(_ context.Context, ref services.SessionRef) (services.CompositionView, error) {
	s.lastRef = ref
	return s.view, s.err
}

func (s *stubCompositionService) AutoFill(_ context.Context, ref services.SessionRef) (services.CompositionView, error) {
	s.lastRef = ref
	return s.view, s.err
}

func (s *stubCompositionService) Save(_ context.Context, ref services.SessionRef) (services.SaveCompositionResult, error) {
	s.lastRef = ref
	s.saveCalls++
	return s.saveResult, s.err
}

func (s *stubCompositionService) Preview(_ context.Context, ref services.SessionRef) (*domain.Image, error) {
	s.lastRef = ref
	return s.preview, s.err
}

func (s *stubCompositionService) Close(_ context.Context, ref services.SessionRef) error {
	s.lastRef = ref
	return s.err
}

func (s *stubCompositionService) EvictIdle(time.Time) int { return 0 }

func (s *stubCompositionService) ActiveSessions() int { return 0 }

type stubCutoutService struct {
	out     domain.Image
	err     error
	lastCmd services.CutoutCommand
}

func (s *stubCutoutService) RemoveBackground(_ context.Context, cmd services.CutoutCommand) (domain.Image, error) {
	s.lastCmd = cmd
	return s.out, s.err
}

var (
	_ services.WardrobeService       = (*stubWardrobeService)(nil)
	_ services.RecommendationService = (*stubRecommendationService)(nil)
	_ services.CompositionService    = (*stubCompositionService)(nil)
	_ services.CutoutService         = (*stubCutoutService)(nil)
)
