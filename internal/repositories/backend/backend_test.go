package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

const (
	shirtID = "6f1c1d2e-3a4b-4c5d-8e9f-0a1b2c3d4e5f"
	jeansID = "7a2b3c4d-5e6f-4a1b-9c2d-3e4f5a6b7c8d"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(ClientOptions{
		BaseURL:      server.URL + "/",
		APIKey:       "key-123",
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, server
}

func TestResolveImageURL(t *testing.T) {
	client, err := NewClient(ClientOptions{BaseURL: "http://backend:8080"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "http://localhost:9000/wearables/a.png", want: "http://backend:8080/api/image/wearables/a.png"},
		{in: "http://minio:9000/minio/outfits/u/b.png", want: "http://backend:8080/api/image/outfits/u/b.png"},
		{in: "/wearables/c.png", want: "http://backend:8080/api/image/wearables/c.png"},
		{in: "https://cdn.example.com/other/d.png", want: "https://cdn.example.com/other/d.png"},
	}
	for _, tc := range cases {
		if got := client.ResolveImageURL(tc.in); got != tc.want {
			t.Fatalf("ResolveImageURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWardrobeRepositoryListItems(t *testing.T) {
	var (
		mu              sync.Mutex
		gotAuth, gotKey string
	)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/wearable" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("X-Api-Key")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
			{"id":"`+shirtID+`","userId":"u1","categoryId":"c1","categoryName":"Shirts","title":"Blue shirt",
			 "tags":["casual","blue"],"cutoutImageKey":"k1","cutoutImageUrl":"http://localhost:9000/wearables/k1.png",
			 "createdAt":"2025-01-02T03:04:05Z"},
			{"id":"","title":"ghost"},
			{"id":"`+jeansID+`","categoryId":null,"categoryName":null,"title":"Jeans"}
		]`)
	}))

	repo, err := NewWardrobeRepository(client)
	if err != nil {
		t.Fatalf("NewWardrobeRepository: %v", err)
	}
	items, err := repo.ListItems(context.Background(), "tok")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	mu.Lock()
	if gotAuth != "Bearer tok" || gotKey != "key-123" {
		t.Fatalf("unexpected credentials auth=%q key=%q", gotAuth, gotKey)
	}
	mu.Unlock()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	shirt := items[0]
	if shirt.CategoryName != "Shirts" || !shirt.IsCategorized() || !shirt.HasImage() {
		t.Fatalf("unexpected shirt %#v", shirt)
	}
	if !strings.HasSuffix(shirt.ImageURL, "/api/image/wearables/k1.png") {
		t.Fatalf("expected resolved image url, got %q", shirt.ImageURL)
	}
	if shirt.CreatedAt.IsZero() || len(shirt.Tags) != 2 {
		t.Fatalf("expected timestamps and tags, got %#v", shirt)
	}
	if items[1].IsCategorized() || items[1].HasImage() {
		t.Fatalf("expected uncategorized jeans without image, got %#v", items[1])
	}
}

func TestWardrobeRepositoryRetriesReads(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	}))
	repo, _ := NewWardrobeRepository(client)
	items, err := repo.ListItems(context.Background(), "tok")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 0 || calls.Load() != 2 {
		t.Fatalf("expected retry then empty list, calls=%d items=%d", calls.Load(), len(items))
	}
}

func TestOutfitRepositoryCreate(t *testing.T) {
	var (
		mu     sync.Mutex
		fields = map[string]string{}
		file   []byte
		fname  string
	)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/outfit" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		mu.Lock()
		for key, values := range r.MultipartForm.Value {
			fields[key] = values[0]
		}
		if headers := r.MultipartForm.File["file"]; len(headers) == 1 {
			fname = headers[0].Filename
			f, _ := headers[0].Open()
			file, _ = io.ReadAll(f)
			_ = f.Close()
		}
		mu.Unlock()
		_, _ = io.WriteString(w, `{"id":"o-1","title":"Weekend","tags":["casual"],"wearables":[{"id":"`+shirtID+`"}]}`)
	}))

	now := time.UnixMilli(1700000000000)
	repo, _ := NewOutfitRepository(client, func() time.Time { return now })
	outfit, err := repo.Create(context.Background(), domain.OutfitSubmission{
		Title:       " Weekend ",
		Description: " chill ",
		Tags:        []string{"casual", " ", "street"},
		WearableIDs: []string{shirtID, jeansID},
		Image:       &domain.Image{Data: []byte("png-bytes"), ContentType: "image/png"},
	}, "tok")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if outfit.ID != "o-1" || len(outfit.Items) != 1 {
		t.Fatalf("unexpected outfit %#v", outfit)
	}

	mu.Lock()
	defer mu.Unlock()
	if fields["title"] != "Weekend" || fields["description"] != "chill" {
		t.Fatalf("unexpected text fields %#v", fields)
	}
	if fields["tags"] != "casual,street" {
		t.Fatalf("unexpected tags %q", fields["tags"])
	}
	if fields["wearableIds"] != shirtID+","+jeansID {
		t.Fatalf("unexpected wearableIds %q", fields["wearableIds"])
	}
	if string(file) != "png-bytes" || fname != "outfit_1700000000000.png" {
		t.Fatalf("unexpected file %q named %q", file, fname)
	}
}

func TestOutfitRepositoryValidatesBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	repo, _ := NewOutfitRepository(client, nil)

	_, err := repo.Create(context.Background(), domain.OutfitSubmission{Title: "x", WearableIDs: []string{"not-a-uuid"}}, "tok")
	if !errors.Is(err, ErrInvalidWearableID) {
		t.Fatalf("expected ErrInvalidWearableID, got %v", err)
	}
	_, err = repo.Create(context.Background(), domain.OutfitSubmission{Title: " ", WearableIDs: []string{shirtID}}, "tok")
	if !errors.Is(err, ErrTitleRequired) {
		t.Fatalf("expected ErrTitleRequired, got %v", err)
	}
	_, err = repo.Create(context.Background(), domain.OutfitSubmission{Title: "x"}, "tok")
	if !errors.Is(err, ErrWearableIDsRequired) {
		t.Fatalf("expected ErrWearableIDsRequired, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no network calls, got %d", calls.Load())
	}
}

func TestOutfitRepositoryErrors(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message":"outfit not found"}`)
		case http.MethodPut:
			if r.URL.Path != "/api/outfit/o-9" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `bad title`)
		}
	}))
	repo, _ := NewOutfitRepository(client, nil)

	_, err := repo.Get(context.Background(), "o-1", "tok")
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found repository error, got %v", err)
	}
	var backendErr *Error
	if !errors.As(err, &backendErr) || backendErr.Message() != "outfit not found" {
		t.Fatalf("expected parsed message, got %v", err)
	}

	_, err = repo.Update(context.Background(), domain.OutfitSubmission{OutfitID: "o-9", Title: "x", WearableIDs: []string{shirtID}}, "tok")
	if err == nil || err.Error() != "Failed to update outfit (400): bad title" {
		t.Fatalf("unexpected update error %v", err)
	}
}

func TestRecommendationClientRecommend(t *testing.T) {
	pngData := testPNG(t)
	var (
		mu       sync.Mutex
		limit    string
		manifest []uploadItem
		parts    int
	)
	client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/image/"):
			if r.Header.Get("Authorization") != "Bearer tok" {
				t.Errorf("expected bearer token on image download")
			}
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngData)
		case r.URL.Path == "/api/outfit/recommend-from-uploads":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("ParseMultipartForm: %v", err)
			}
			mu.Lock()
			limit = r.FormValue("limitOutfits")
			_ = json.Unmarshal([]byte(r.FormValue("items")), &manifest)
			parts = len(r.MultipartForm.File)
			mu.Unlock()
			_, _ = io.WriteString(w, `{"outfits":[
				{"id":"r1","wearables":[{"id":"`+shirtID+`"},"`+jeansID+`"]},
				{"items":[{"item_id":"`+jeansID+`"}]}
			],"warnings":["only 2 outfits"]}`)
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	}))

	fetcher, _ := NewImageFetcher(client, 0)
	rec, err := NewRecommendationClient(client, fetcher)
	if err != nil {
		t.Fatalf("NewRecommendationClient: %v", err)
	}
	resp, err := rec.Recommend(context.Background(), repositories.RecommendationRequest{
		Limit: 6,
		Items: []domain.UploadDescriptor{
			{WearableID: shirtID, ImageURI: server.URL + "/wearables/a.png"},
			{WearableID: jeansID, ImageURI: server.URL + "/minio/wearables/b.png"},
		},
	}, "tok")
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if limit != "6" || len(manifest) != 2 || parts != 2 {
		t.Fatalf("unexpected upload limit=%q manifest=%#v parts=%d", limit, manifest, parts)
	}
	if manifest[0].WearableID != shirtID || manifest[0].FileKey == manifest[1].FileKey {
		t.Fatalf("unexpected manifest %#v", manifest)
	}
	if len(resp.Outfits) != 2 || resp.Outfits[0].ID != "r1" || resp.Outfits[1].ID != "" {
		t.Fatalf("unexpected outfits %#v", resp.Outfits)
	}
	if got := resp.Outfits[0].ItemRefs; len(got) != 2 || got[0] != shirtID || got[1] != jeansID {
		t.Fatalf("unexpected refs %#v", got)
	}
	if got := resp.Outfits[1].ItemRefs; len(got) != 1 || got[0] != jeansID {
		t.Fatalf("unexpected refs %#v", got)
	}
	if len(resp.Warnings) != 1 {
		t.Fatalf("expected warnings, got %#v", resp.Warnings)
	}
}

func TestRecommendationClientImageFailure(t *testing.T) {
	client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/image/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		t.Errorf("recommendation endpoint must not be called")
	}))
	fetcher, _ := NewImageFetcher(client, 0)
	rec, _ := NewRecommendationClient(client, fetcher)
	_, err := rec.Recommend(context.Background(), repositories.RecommendationRequest{
		Limit: 6,
		Items: []domain.UploadDescriptor{{WearableID: shirtID, ImageURI: server.URL + "/wearables/missing.png"}},
	}, "tok")
	var fetchErr *repositories.ImageFetchError
	if !errors.As(err, &fetchErr) || fetchErr.WearableID != shirtID {
		t.Fatalf("expected ImageFetchError, got %v", err)
	}
}

func TestImageFetcherDecodesDimensions(t *testing.T) {
	pngData := testPNG(t)
	var gotAuth atomic.Value
	external := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pngData)
	}))
	t.Cleanup(external.Close)

	client, _ := newTestClient(t, http.NotFoundHandler())
	fetcher, _ := NewImageFetcher(client, 0)
	img, err := fetcher.Fetch(context.Background(), external.URL+"/cdn/x.png", "tok")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if img.ContentType != "image/png" || img.Width != 4 || img.Height != 3 {
		t.Fatalf("unexpected image %q %dx%d", img.ContentType, img.Width, img.Height)
	}
	if auth, _ := gotAuth.Load().(string); auth != "" {
		t.Fatalf("expected no credentials for foreign hosts, got %q", auth)
	}

	small, _ := NewImageFetcher(client, 8)
	if _, err := small.Fetch(context.Background(), external.URL+"/cdn/x.png", "tok"); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}
	if _, err := fetcher.Fetch(context.Background(), "relative/path.png", "tok"); !errors.Is(err, ErrInvalidImageURL) {
		t.Fatalf("expected ErrInvalidImageURL, got %v", err)
	}
}

func TestTagPredictorPredict(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/wearable/predict" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("expected file part: %v", err)
		}
		_, _ = io.WriteString(w, `{"category":"SHIRT","tags":["casual","Blue"],"confidence":0.87}`)
	}))
	predictor, _ := NewTagPredictor(client, time.Second, nil)
	prediction, err := predictor.Predict(context.Background(), domain.Image{Data: []byte("img")}, "tok")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if prediction.Category != "SHIRT" || len(prediction.Tags) != 2 || prediction.Confidence != 0.87 {
		t.Fatalf("unexpected prediction %#v", prediction)
	}
}

func TestIndexSyncerSyncOutfit(t *testing.T) {
	var (
		mu      sync.Mutex
		payload indexPayload
		method  string
	)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		method = r.Method
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusNoContent)
	}))
	syncer, _ := NewIndexSyncer(client, time.Second)
	err := syncer.SyncOutfit(context.Background(), domain.IndexDocument{
		OutfitID: "o-1", UserID: "u1", ItemIDs: []string{"a", "b"}, Tags: []string{"casual"}, Title: "Weekend",
	}, "tok")
	if err != nil {
		t.Fatalf("SyncOutfit: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut || payload.ItemIDs != "a,b" || payload.Tags != "casual" || payload.OutfitID != "o-1" {
		t.Fatalf("unexpected payload %s %#v", method, payload)
	}
}

func TestBackgroundRemover(t *testing.T) {
	pngData := testPNG(t)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/remove-bg" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		_ = file.Close()
		if header.Header.Get("Content-Type") != "image/jpeg" {
			t.Errorf("unexpected part content type %q", header.Header.Get("Content-Type"))
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngData)
	}))
	remover, _ := NewBackgroundRemover(client)
	out, err := remover.RemoveBackground(context.Background(), domain.Image{Data: []byte("jpeg"), ContentType: "image/jpeg"})
	if err != nil {
		t.Fatalf("RemoveBackground: %v", err)
	}
	if out.ContentType != "image/png" || out.Width != 4 {
		t.Fatalf("unexpected cutout %#v", out)
	}
}

func TestErrorClassification(t *testing.T) {
	err := statusError("Failed to fetch wearables", http.StatusServiceUnavailable, []byte(" down "))
	if !err.IsUnavailable() || err.IsNotFound() || err.Error() != "Failed to fetch wearables (503): down" {
		t.Fatalf("unexpected classification for %v", err)
	}
	if !statusError("x", http.StatusUnauthorized, nil).IsUnauthorized() {
		t.Fatal("expected 401 to be unauthorized")
	}
	if !statusError("x", http.StatusConflict, nil).IsConflict() {
		t.Fatal("expected 409 to be conflict")
	}
	if wrapped := wrapTransport("x", context.DeadlineExceeded); !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Fatalf("expected deadline to pass through, got %v", wrapped)
	}
	transport := wrapTransport("Image download failed", errors.New("dial tcp: no such host"))
	var backendErr *Error
	if !errors.As(transport, &backendErr) || !backendErr.IsUnavailable() || backendErr.StatusCode() != 0 {
		t.Fatalf("unexpected transport error %v", transport)
	}
}
