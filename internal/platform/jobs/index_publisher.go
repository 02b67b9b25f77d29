package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/platform/observability"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

// indexSchema versions the message body so subscribers can reject documents they do not understand.
const indexSchema = "outfit-index.v1"

var errPublisherClosed = errors.New("pubsub index publisher: not initialised")

// PubSubIndexPublisher hands saved outfits to the AI index through a Pub/Sub
// topic. The indexer subscribes and upserts each document.
type PubSubIndexPublisher struct {
	topic *pubsub.Topic
}

var _ repositories.IndexSyncer = (*PubSubIndexPublisher)(nil)

func NewPubSubIndexPublisher(topic *pubsub.Topic) (*PubSubIndexPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub index publisher: topic is required")
	}
	return &PubSubIndexPublisher{topic: topic}, nil
}

// SyncOutfit publishes doc and blocks until the server acknowledges it. The
// bearer token is dropped; the indexer authenticates as the service account.
func (p *PubSubIndexPublisher) SyncOutfit(ctx context.Context, doc domain.IndexDocument, _ string) error {
	if p == nil || p.topic == nil {
		return errPublisherClosed
	}
	outfitID := strings.TrimSpace(doc.OutfitID)
	if outfitID == "" {
		return errors.New("pubsub index publisher: outfit id is required")
	}

	msg, err := indexMessage(ctx, doc, outfitID)
	if err != nil {
		return err
	}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = outfitID
	}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		if msg.OrderingKey != "" {
			// A failed publish pauses its ordering key until resumed.
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return fmt.Errorf("publish outfit %s: %w", outfitID, err)
	}
	return nil
}

func indexMessage(ctx context.Context, doc domain.IndexDocument, outfitID string) (*pubsub.Message, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode outfit %s: %w", outfitID, err)
	}
	attrs := map[string]string{
		"schema":   indexSchema,
		"op":       "upsert",
		"outfitId": outfitID,
	}
	if user := strings.TrimSpace(doc.UserID); user != "" {
		attrs["userId"] = user
	}
	observability.InjectTraceAttributes(ctx, attrs)
	return &pubsub.Message{Data: data, Attributes: attrs}, nil
}
