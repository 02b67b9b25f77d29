package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

// TagPredictor calls the wearable prediction endpoint.
type TagPredictor struct {
	client  *Client
	timeout time.Duration
	now     func() time.Time
}

var _ repositories.TagPredictor = (*TagPredictor)(nil)

// NewTagPredictor wires a TagPredictor with its own per-call timeout.
func NewTagPredictor(client *Client, timeout time.Duration, clock func() time.Time) (*TagPredictor, error) {
	if client == nil {
		return nil, errors.New("tag predictor: client is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if clock == nil {
		clock = time.Now
	}
	return &TagPredictor{client: client, timeout: timeout, now: clock}, nil
}

// Predict uploads image and returns the predicted category and tags.
func (p *TagPredictor) Predict(ctx context.Context, image domain.Image, token string) (domain.TagPrediction, error) {
	if len(image.Data) == 0 {
		return domain.TagPrediction{}, errors.New("tag predictor: image is required")
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	contentType := image.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	name := "predict_" + strconv.FormatInt(p.now().UnixMilli(), 10) + fileExtension(contentType)
	if err := writeFilePart(writer, "file", name, contentType, image.Data); err != nil {
		return domain.TagPrediction{}, fmt.Errorf("tag predictor: write image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return domain.TagPrediction{}, fmt.Errorf("tag predictor: close multipart: %w", err)
	}

	resp, err := p.client.do(ctx, request{
		op:          "Prediction failed",
		method:      http.MethodPost,
		path:        "/api/wearable/predict",
		body:        body.Bytes(),
		contentType: writer.FormDataContentType(),
		token:       token,
	})
	if err != nil {
		return domain.TagPrediction{}, err
	}
	root := gjson.ParseBytes(resp.body)
	return domain.TagPrediction{
		Category:   root.Get("category").String(),
		Tags:       stringArray(root.Get("tags")),
		Confidence: root.Get("confidence").Float(),
	}, nil
}
