package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

const defaultDownloadConcurrency = 4

// RecommendationClient uploads the eligible wardrobe to the recommendation endpoint.
type RecommendationClient struct {
	client      *Client
	images      repositories.ImageFetcher
	concurrency int
}

var _ repositories.RecommendationClient = (*RecommendationClient)(nil)

// NewRecommendationClient wires a RecommendationClient. Item images are downloaded through images.
func NewRecommendationClient(client *Client, images repositories.ImageFetcher) (*RecommendationClient, error) {
	if client == nil {
		return nil, errors.New("recommendation client: client is required")
	}
	if images == nil {
		return nil, errors.New("recommendation client: image fetcher is required")
	}
	return &RecommendationClient{client: client, images: images, concurrency: defaultDownloadConcurrency}, nil
}

type uploadItem struct {
	WearableID string `json:"wearableId"`
	FileKey    string `json:"fileKey"`
}

// Recommend downloads every item image and posts them as one multipart request.
func (c *RecommendationClient) Recommend(ctx context.Context, req repositories.RecommendationRequest, token string) (domain.RecommendationResponse, error) {
	if len(req.Items) == 0 {
		return domain.RecommendationResponse{}, errors.New("recommendation client: at least one item is required")
	}

	images := make([]domain.Image, len(req.Items))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.concurrency)
	for i, item := range req.Items {
		i, item := i, item
		group.Go(func() error {
			img, err := c.images.Fetch(groupCtx, item.ImageURI, token)
			if err != nil {
				return &repositories.ImageFetchError{WearableID: item.WearableID, URL: item.ImageURI, Err: err}
			}
			images[i] = img
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return domain.RecommendationResponse{}, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	manifest := make([]uploadItem, len(req.Items))
	for i, item := range req.Items {
		manifest[i] = uploadItem{
			WearableID: item.WearableID,
			FileKey:    "file-" + strings.ToLower(ulid.Make().String()),
		}
	}
	encoded, err := json.Marshal(manifest)
	if err != nil {
		return domain.RecommendationResponse{}, fmt.Errorf("recommendation client: encode items: %w", err)
	}
	if err := writer.WriteField("limitOutfits", strconv.Itoa(req.Limit)); err != nil {
		return domain.RecommendationResponse{}, err
	}
	if err := writer.WriteField("items", string(encoded)); err != nil {
		return domain.RecommendationResponse{}, err
	}
	for i, entry := range manifest {
		img := images[i]
		contentType := img.ContentType
		if contentType == "" {
			contentType = "image/png"
		}
		if err := writeFilePart(writer, entry.FileKey, entry.WearableID+fileExtension(contentType), contentType, img.Data); err != nil {
			return domain.RecommendationResponse{}, fmt.Errorf("recommendation client: write image: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return domain.RecommendationResponse{}, fmt.Errorf("recommendation client: close multipart: %w", err)
	}

	resp, err := c.client.do(ctx, request{
		op:          "Failed to generate outfits",
		method:      http.MethodPost,
		path:        "/api/outfit/recommend-from-uploads",
		body:        body.Bytes(),
		contentType: writer.FormDataContentType(),
		token:       token,
	})
	if err != nil {
		return domain.RecommendationResponse{}, err
	}
	return decodeRecommendations(resp.body), nil
}

// decodeRecommendations tolerates refs given as plain ids or as objects carrying id or item_id.
func decodeRecommendations(body []byte) domain.RecommendationResponse {
	root := gjson.ParseBytes(body)
	out := domain.RecommendationResponse{Warnings: stringArray(root.Get("warnings"))}
	for _, outfit := range root.Get("outfits").Array() {
		refs := outfit.Get("wearables")
		if !refs.Exists() {
			refs = outfit.Get("items")
		}
		remote := domain.RemoteOutfit{ID: outfit.Get("id").String()}
		for _, ref := range refs.Array() {
			var id string
			switch {
			case ref.Type == gjson.String:
				id = ref.String()
			case ref.IsObject():
				id = ref.Get("id").String()
				if id == "" {
					id = ref.Get("item_id").String()
				}
			}
			if id = strings.TrimSpace(id); id != "" {
				remote.ItemRefs = append(remote.ItemRefs, id)
			}
		}
		out.Outfits = append(out.Outfits, remote)
	}
	return out
}
