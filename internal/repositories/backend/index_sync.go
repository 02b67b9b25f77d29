package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

// IndexSyncer pushes outfit documents to the AI index over HTTP.
type IndexSyncer struct {
	client  *Client
	timeout time.Duration
}

var _ repositories.IndexSyncer = (*IndexSyncer)(nil)

// NewIndexSyncer wires an IndexSyncer against the index service client.
func NewIndexSyncer(client *Client, timeout time.Duration) (*IndexSyncer, error) {
	if client == nil {
		return nil, errors.New("index syncer: client is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &IndexSyncer{client: client, timeout: timeout}, nil
}

type indexPayload struct {
	UserID   string `json:"user_id"`
	OutfitID string `json:"outfit_id"`
	ItemIDs  string `json:"item_ids"`
	Tags     string `json:"tags"`
	Title    string `json:"title"`
}

// SyncOutfit upserts doc in the index. List fields travel as comma separated strings.
func (s *IndexSyncer) SyncOutfit(ctx context.Context, doc domain.IndexDocument, token string) error {
	if doc.OutfitID == "" {
		return errors.New("index syncer: outfit id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(indexPayload{
		UserID:   doc.UserID,
		OutfitID: doc.OutfitID,
		ItemIDs:  joinCSV(doc.ItemIDs),
		Tags:     joinCSV(doc.Tags),
		Title:    doc.Title,
	})
	if err != nil {
		return fmt.Errorf("index syncer: encode payload: %w", err)
	}
	_, err = s.client.do(ctx, request{
		op:          "Index sync failed",
		method:      http.MethodPut,
		path:        "/outfits/update",
		body:        body,
		contentType: "application/json",
		token:       token,
	})
	return err
}
