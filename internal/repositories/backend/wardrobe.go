package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

// WardrobeRepository lists wearables from the CRUD backend.
type WardrobeRepository struct {
	client *Client
}

var _ repositories.WardrobeRepository = (*WardrobeRepository)(nil)

// NewWardrobeRepository wires a WardrobeRepository on top of client.
func NewWardrobeRepository(client *Client) (*WardrobeRepository, error) {
	if client == nil {
		return nil, errors.New("wardrobe repository: client is required")
	}
	return &WardrobeRepository{client: client}, nil
}

// ListItems returns every wearable owned by the token's subject.
func (r *WardrobeRepository) ListItems(ctx context.Context, token string) ([]domain.WardrobeItem, error) {
	resp, err := r.client.do(ctx, request{
		op:     "Failed to fetch wearables",
		method: http.MethodGet,
		path:   "/api/wearable",
		token:  token,
	})
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(resp.body) {
		return nil, fmt.Errorf("wardrobe repository: invalid json response")
	}
	list := listRoot(resp.body, "items", "wearables")
	items := make([]domain.WardrobeItem, 0, len(list.Array()))
	for _, value := range list.Array() {
		item := r.client.decodeWardrobeItem(value)
		if item.ID == "" {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}
