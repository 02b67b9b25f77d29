package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/textutil"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

const (
	defaultFrameDelay = 150 * time.Millisecond
	defaultSessionTTL = 30 * time.Minute
	minSaveItems      = 2

	opUpdateOutfit = "Failed to update outfit"
	opFetchOutfit  = "Failed to fetch outfit"
	opPredictTags  = "Prediction failed"
)

// CompositionServiceDeps bundles collaborators required by the composition service.
// A zero FrameDelay selects the default; a negative one disables the wait.
type CompositionServiceDeps struct {
	Wardrobe    repositories.WardrobeRepository
	Outfits     repositories.OutfitRepository
	Tokens      repositories.TokenSource
	Capturer    repositories.Capturer
	Predictor   repositories.TagPredictor
	IndexSync   IndexSyncDispatcher
	Metrics     MetricsRecorder
	Logger      *zap.Logger
	Clock       func() time.Time
	IDGenerator func() string

	Canvas     domain.CanvasSize
	ItemSize   float64
	FrameDelay time.Duration
	SessionTTL time.Duration
}

type compositionService struct {
	wardrobe  repositories.WardrobeRepository
	outfits   repositories.OutfitRepository
	tokens    repositories.TokenSource
	capturer  repositories.Capturer
	predictor repositories.TagPredictor
	indexSync IndexSyncDispatcher
	metrics   MetricsRecorder
	logger    *zap.Logger
	clock     func() time.Time
	newID     func() string

	canvas     domain.CanvasSize
	itemSize   float64
	frameDelay time.Duration
	ttl        time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// session owns one draft. The draft and the workflow fields are guarded by mu;
// captures is keyed per session so concurrent captures share one result.
type session struct {
	mu        sync.Mutex
	id        string
	userID    string
	draft     *domain.OutfitDraft
	saveState CompositionSaveState
	lastError string
	createdAt time.Time
	updatedAt time.Time
	savedAt   time.Time
	closed    bool
	done      chan struct{}
	captures  singleflight.Group
}

var _ CompositionService = (*compositionService)(nil)

// NewCompositionService constructs the composition workflow service.
func NewCompositionService(deps CompositionServiceDeps) (CompositionService, error) {
	if deps.Wardrobe == nil {
		return nil, errors.New("composition service: wardrobe repository is required")
	}
	if deps.Outfits == nil {
		return nil, errors.New("composition service: outfit repository is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("composition service: token source is required")
	}
	if deps.Capturer == nil {
		return nil, errors.New("composition service: capturer is required")
	}

	svc := &compositionService{
		wardrobe:   deps.Wardrobe,
		outfits:    deps.Outfits,
		tokens:     deps.Tokens,
		capturer:   deps.Capturer,
		predictor:  deps.Predictor,
		indexSync:  deps.IndexSync,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		clock:      deps.Clock,
		newID:      deps.IDGenerator,
		canvas:     deps.Canvas,
		itemSize:   deps.ItemSize,
		frameDelay: deps.FrameDelay,
		ttl:        deps.SessionTTL,
		sessions:   make(map[string]*session),
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
	if svc.newID == nil {
		svc.newID = func() string {
			return ulid.Make().String()
		}
	}
	if svc.canvas.Width <= 0 || svc.canvas.Height <= 0 {
		svc.canvas = domain.CanvasSize{Width: domain.DefaultCanvasWidth, Height: domain.DefaultCanvasHeight}
	}
	if svc.itemSize <= 0 {
		svc.itemSize = domain.DefaultItemSize
	}
	switch {
	case svc.frameDelay == 0:
		svc.frameDelay = defaultFrameDelay
	case svc.frameDelay < 0:
		svc.frameDelay = 0
	}
	if svc.ttl <= 0 {
		svc.ttl = defaultSessionTTL
	}
	return svc, nil
}

func (s *compositionService) Start(ctx context.Context, cmd StartCompositionCommand) (view CompositionView, err error) {
	ctx, span := startSpan(ctx, "composition.Start", attribute.Int("items", len(cmd.ItemIDs)))
	defer func() { endSpan(span, err) }()

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CompositionView{}, &AuthError{Err: errors.New("user id is required")}
	}
	token, err := s.tokens.AccessToken(ctx, userID)
	if err != nil {
		return CompositionView{}, &AuthError{Err: err}
	}
	wardrobe, err := s.wardrobe.ListItems(ctx, token)
	if err != nil {
		return CompositionView{}, ClassifyFailure(opLoadWardrobe, err)
	}

	known := make(map[string]WardrobeItem, len(wardrobe))
	for _, item := range wardrobe {
		known[item.ID] = item
	}

	ids := trimIDs(cmd.ItemIDs)
	var seed *PersistedOutfit
	if outfitID := strings.TrimSpace(cmd.OutfitID); outfitID != "" {
		outfit, err := s.outfits.Get(ctx, outfitID, token)
		if err != nil {
			if isRepoNotFound(err) {
				return CompositionView{}, ErrOutfitNotFound
			}
			return CompositionView{}, ClassifyFailure(opFetchOutfit, err)
		}
		for _, item := range outfit.Items {
			if _, ok := known[item.ID]; !ok && item.ID != "" {
				known[item.ID] = item
			}
		}
		if len(ids) == 0 {
			for _, item := range outfit.Items {
				ids = append(ids, item.ID)
			}
		}
		if outfit.ID == "" {
			outfit.ID = outfitID
		}
		seed = &outfit
	}

	if len(ids) == 0 {
		return CompositionView{}, newValidationError("no_items", "Select at least one item to compose an outfit.")
	}
	selected := make([]WardrobeItem, 0, len(ids))
	for _, id := range ids {
		item, ok := known[id]
		if !ok {
			return CompositionView{}, newValidationError("unknown_item", fmt.Sprintf("Wardrobe item %q was not found.", id))
		}
		selected = append(selected, item)
	}

	draft, err := domain.NewOutfitDraft(s.newID(), userID, selected, s.canvas, s.itemSize)
	if err != nil {
		return CompositionView{}, draftError(err)
	}
	if seed != nil {
		draft.OutfitID = seed.ID
		draft.SetMetadata(sanitizeMetadata(OutfitMetadata{
			Title:       seed.Title,
			Description: seed.Description,
			Tags:        seed.Tags,
		}))
	}

	now := s.clock().UTC()
	sess := &session{
		id:        draft.ID,
		userID:    userID,
		draft:     draft,
		saveState: CompositionIdle,
		createdAt: now,
		updatedAt: now,
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	active := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetActiveCompositions(active)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.viewLocked(), nil
}

func (s *compositionService) Get(_ context.Context, ref SessionRef) (CompositionView, error) {
	sess, err := s.lookup(ref)
	if err != nil {
		return CompositionView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.viewLocked(), nil
}

func (s *compositionService) ApplyGestures(_ context.Context, ref SessionRef, events []GestureEvent) (CompositionView, error) {
	for i, ev := range events {
		if !ev.Valid() {
			return CompositionView{}, newValidationError("invalid_gesture", fmt.Sprintf("gesture %d is not valid", i))
		}
	}
	return s.mutate(ref, func(d *domain.OutfitDraft) error {
		for _, ev := range events {
			d.ApplyGesture(ev)
		}
		return nil
	})
}

func (s *compositionService) MoveLayer(_ context.Context, ref SessionRef, itemID string, up bool) (CompositionView, error) {
	return s.mutate(ref, func(d *domain.OutfitDraft) error {
		_, err := d.MoveLayer(strings.TrimSpace(itemID), up)
		return err
	})
}

func (s *compositionService) SetActive(_ context.Context, ref SessionRef, itemID string) (CompositionView, error) {
	return s.mutate(ref, func(d *domain.OutfitDraft) error {
		return d.SetActive(strings.TrimSpace(itemID))
	})
}

func (s *compositionService) UpdateMetadata(_ context.Context, ref SessionRef, meta OutfitMetadata) (CompositionView, error) {
	cleaned := sanitizeMetadata(meta)
	return s.mutate(ref, func(d *domain.OutfitDraft) error {
		d.SetMetadata(cleaned)
		return nil
	})
}

func (s *compositionService) AddTag(_ context.Context, ref SessionRef, tag string) (CompositionView, error) {
	cleaned := sanitizeText(tag)
	if cleaned == "" {
		return CompositionView{}, newValidationError("invalid_tag", "Tag must not be empty.")
	}
	return s.mutate(ref, func(d *domain.OutfitDraft) error {
		d.AddTag(cleaned)
		return nil
	})
}

func (s *compositionService) RemoveTag(_ context.Context, ref SessionRef, tag string) (CompositionView, error) {
	return s.mutate(ref, func(d *domain.OutfitDraft) error {
		d.RemoveTag(tag)
		return nil
	})
}

// AutoTag predicts tags from a clean capture and merges them into the draft.
func (s *compositionService) AutoTag(ctx context.Context, ref SessionRef) (view CompositionView, err error) {
	ctx, span := startSpan(ctx, "composition.AutoTag")
	defer func() { endSpan(span, err) }()

	if s.predictor == nil {
		return CompositionView{}, &UpstreamError{Op: opPredictTags, Message: "tag prediction is not configured"}
	}
	sess, err := s.lookup(ref)
	if err != nil {
		return CompositionView{}, err
	}
	token, err := s.tokens.AccessToken(ctx, ref.UserID)
	if err != nil {
		return CompositionView{}, &AuthError{Err: err}
	}
	img, err := s.captureClean(ctx, sess, token)
	if err != nil {
		return CompositionView{}, err
	}
	if img == nil {
		return CompositionView{}, ErrNothingToCapture
	}
	prediction, err := s.predictor.Predict(ctx, *img, token)
	if err != nil {
		return CompositionView{}, ClassifyFailure(opPredictTags, err)
	}
	span.SetAttributes(attribute.Int("tags.predicted", len(prediction.Tags)))

	incoming := sanitizeTags(prediction.Tags)
	return s.mutate(ref, func(d *domain.OutfitDraft) error {
		d.Metadata.Tags = textutil.MergeLower(d.Metadata.Tags, incoming)
		return nil
	})
}

// AutoFill overwrites the title and description with a suggestion built from
// predicted tags, falling back to the draft's own tags.
func (s *compositionService) AutoFill(ctx context.Context, ref SessionRef) (view CompositionView, err error) {
	ctx, span := startSpan(ctx, "composition.AutoFill")
	defer func() { endSpan(span, err) }()

	sess, err := s.lookup(ref)
	if err != nil {
		return CompositionView{}, err
	}

	var predicted []string
	if s.predictor != nil {
		predicted = s.predictTags(ctx, sess, ref.UserID)
	}
	if err := ctx.Err(); err != nil {
		return CompositionView{}, err
	}

	return s.mutate(ref, func(d *domain.OutfitDraft) error {
		source := predicted
		if len(source) == 0 {
			source = d.Metadata.Tags
		}
		titles := make([]string, len(d.Items))
		for i, item := range d.Items {
			titles[i] = item.Title
		}
		suggestion := SuggestOutfitMetadata(OutfitSuggestionInput{
			Tags:       source,
			ItemTitles: titles,
			ItemCount:  len(d.Items),
		})
		d.SetMetadata(applySuggestion(d.Metadata, suggestion, true))
		return nil
	})
}

// predictTags returns predicted tags or nil on any failure.
func (s *compositionService) predictTags(ctx context.Context, sess *session, userID string) []string {
	token, err := s.tokens.AccessToken(ctx, userID)
	if err != nil {
		return nil
	}
	img, err := s.captureClean(ctx, sess, token)
	if err != nil || img == nil {
		return nil
	}
	prediction, err := s.predictor.Predict(ctx, *img, token)
	if err != nil {
		s.logger.Warn("tag prediction failed", zap.String("sessionId", sess.id), zap.Error(err))
		return nil
	}
	return sanitizeTags(prediction.Tags)
}

// Save captures the canvas and creates or updates the outfit. The draft is
// kept on failure so the save can be retried.
func (s *compositionService) Save(ctx context.Context, ref SessionRef) (result SaveCompositionResult, err error) {
	ctx, span := startSpan(ctx, "composition.Save", attribute.String("session.id", ref.SessionID))
	defer func() { endSpan(span, err) }()

	sess, err := s.lookup(ref)
	if err != nil {
		return SaveCompositionResult{}, err
	}

	sess.mu.Lock()
	if sess.saveState == CompositionCapturing || sess.saveState == CompositionSubmitting {
		sess.mu.Unlock()
		return SaveCompositionResult{}, ErrSaveInProgress
	}
	if strings.TrimSpace(sess.draft.Metadata.Title) == "" {
		sess.mu.Unlock()
		return SaveCompositionResult{}, newValidationError("title_required", "Please enter a name for your outfit.")
	}
	if len(sess.draft.Items) < minSaveItems {
		sess.mu.Unlock()
		return SaveCompositionResult{}, newValidationError("not_enough_items", "Select at least 2 items to save an outfit.")
	}
	sess.saveState = CompositionCapturing
	sess.lastError = ""
	sess.mu.Unlock()

	token, err := s.tokens.AccessToken(ctx, ref.UserID)
	if err != nil {
		return SaveCompositionResult{}, s.failSave(sess, &AuthError{Err: err})
	}

	img, err := s.captureClean(ctx, sess, token)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, ErrSessionNotFound) {
			return SaveCompositionResult{}, s.failSave(sess, err)
		}
		s.logger.Warn("canvas capture failed, saving without image", zap.String("sessionId", sess.id), zap.Error(err))
		img = nil
	}

	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return SaveCompositionResult{}, ErrSessionNotFound
	}
	sess.saveState = CompositionSubmitting
	submission := sess.draft.Submission(img)
	sess.mu.Unlock()

	updated := submission.OutfitID != ""
	var persisted PersistedOutfit
	if updated {
		persisted, err = s.outfits.Update(ctx, submission, token)
		err = ClassifyFailure(opUpdateOutfit, err)
	} else {
		persisted, err = s.outfits.Create(ctx, submission, token)
		err = ClassifyFailure(opCreateOutfit, err)
	}
	if err != nil {
		s.metrics.RecordSave("composition", false)
		return SaveCompositionResult{}, s.failSave(sess, err)
	}
	s.metrics.RecordSave("composition", true)

	sess.mu.Lock()
	if persisted.ID != "" {
		sess.draft.OutfitID = persisted.ID
	} else {
		persisted.ID = submission.OutfitID
	}
	sess.saveState = CompositionDone
	sess.savedAt = s.clock().UTC()
	sess.updatedAt = sess.savedAt
	view := sess.viewLocked()
	sess.mu.Unlock()

	s.indexSync.Dispatch(ctx, indexDocument(persisted, ref.UserID, submission.WearableIDs, submission.Tags, submission.Title), token)
	span.SetAttributes(attribute.String("outfit.id", persisted.ID), attribute.Bool("updated", updated))
	return SaveCompositionResult{Outfit: persisted, Updated: updated, View: view}, nil
}

// Preview returns a clean capture of the canvas.
func (s *compositionService) Preview(ctx context.Context, ref SessionRef) (*domain.Image, error) {
	sess, err := s.lookup(ref)
	if err != nil {
		return nil, err
	}
	token, err := s.tokens.AccessToken(ctx, ref.UserID)
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	img, err := s.captureClean(ctx, sess, token)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, ErrNothingToCapture
	}
	return img, nil
}

// Close cancels a pending capture and removes the session.
func (s *compositionService) Close(_ context.Context, ref SessionRef) error {
	sess, err := s.lookup(ref)
	if err != nil {
		return err
	}
	s.remove(sess)
	return nil
}

// EvictIdle removes sessions untouched for longer than the TTL. Sessions in
// the middle of a save are kept.
func (s *compositionService) EvictIdle(now time.Time) int {
	s.mu.Lock()
	candidates := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		candidates = append(candidates, sess)
	}
	s.mu.Unlock()

	evicted := 0
	for _, sess := range candidates {
		sess.mu.Lock()
		idle := now.Sub(sess.updatedAt) > s.ttl
		busy := sess.saveState == CompositionCapturing || sess.saveState == CompositionSubmitting
		sess.mu.Unlock()
		if idle && !busy {
			s.remove(sess)
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Info("evicted idle composition sessions", zap.Int("count", evicted))
	}
	return evicted
}

func (s *compositionService) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// captureClean deactivates the selection, waits one frame, rasterizes and
// restores the previous selection. Concurrent callers share one capture, which
// only a session close ends early; a caller whose own context ends stops
// waiting without cancelling the others. A session closed mid-capture resolves
// to no image.
func (s *compositionService) captureClean(ctx context.Context, sess *session, token string) (*domain.Image, error) {
	results := sess.captures.DoChan("clean", func() (any, error) {
		shared, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		go func() {
			select {
			case <-sess.done:
				cancel()
			case <-shared.Done():
			}
		}()
		return s.captureOnce(shared, sess, token)
	})
	select {
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		img, _ := res.Val.(*domain.Image)
		return img, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// captureOnce runs under a context that ends only when the session closes.
func (s *compositionService) captureOnce(ctx context.Context, sess *session, token string) (*domain.Image, error) {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	previous := sess.draft.ActiveItemID
	_ = sess.draft.SetActive("")
	sess.mu.Unlock()

	defer func() {
		sess.mu.Lock()
		if previous != "" && sess.draft.ActiveItemID == "" {
			_ = sess.draft.SetActive(previous)
		}
		sess.mu.Unlock()
	}()

	if s.frameDelay > 0 {
		timer := time.NewTimer(s.frameDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-sess.done:
			s.metrics.RecordCapture("cancelled")
			return nil, nil
		case <-ctx.Done():
			s.metrics.RecordCapture("cancelled")
			return nil, nil
		}
	}

	sess.mu.Lock()
	snapshot := sess.draft.Snapshot()
	sess.mu.Unlock()
	// A selection made while waiting for the frame stays on the draft but is
	// never drawn.
	snapshot.ActiveItemID = ""

	img, err := s.capturer.Capture(ctx, snapshot, token)
	select {
	case <-sess.done:
		s.metrics.RecordCapture("cancelled")
		return nil, nil
	default:
	}
	switch {
	case err != nil:
		s.metrics.RecordCapture("failed")
		return nil, err
	case img == nil:
		s.metrics.RecordCapture("empty")
		return nil, nil
	}
	s.metrics.RecordCapture("ok")
	return img, nil
}

func (s *compositionService) failSave(sess *session, err error) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.saveState = CompositionFailed
	sess.lastError = err.Error()
	sess.updatedAt = s.clock().UTC()
	return err
}

func (s *compositionService) mutate(ref SessionRef, apply func(d *domain.OutfitDraft) error) (CompositionView, error) {
	sess, err := s.lookup(ref)
	if err != nil {
		return CompositionView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return CompositionView{}, ErrSessionNotFound
	}
	if err := apply(sess.draft); err != nil {
		return CompositionView{}, draftError(err)
	}
	sess.updatedAt = s.clock().UTC()
	return sess.viewLocked(), nil
}

func (s *compositionService) lookup(ref SessionRef) (*session, error) {
	id := strings.TrimSpace(ref.SessionID)
	if id == "" {
		return nil, ErrSessionNotFound
	}
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok || sess.userID != strings.TrimSpace(ref.UserID) {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *compositionService) remove(sess *session) {
	s.mu.Lock()
	if current, ok := s.sessions[sess.id]; ok && current == sess {
		delete(s.sessions, sess.id)
	}
	active := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetActiveCompositions(active)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.closed {
		sess.closed = true
		close(sess.done)
	}
}

func (sess *session) viewLocked() CompositionView {
	return CompositionView{
		SessionID: sess.id,
		Draft:     sess.draft.Clone(),
		SaveState: sess.saveState,
		LastError: sess.lastError,
		CreatedAt: sess.createdAt,
		UpdatedAt: sess.updatedAt,
		SavedAt:   sess.savedAt,
	}
}

func draftError(err error) error {
	switch {
	case errors.Is(err, domain.ErrUnknownItem):
		return &ValidationError{Reason: "unknown_item", Message: "The item is not part of this outfit."}
	case errors.Is(err, domain.ErrDuplicateItem):
		return &ValidationError{Reason: "duplicate_item", Message: "Each item can only be selected once."}
	case errors.Is(err, domain.ErrDraftEmpty):
		return &ValidationError{Reason: "no_items", Message: "Select at least one item to compose an outfit."}
	default:
		return err
	}
}

func trimIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
