package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

// BackgroundRemover calls the rembg service.
type BackgroundRemover struct {
	client *Client
}

var _ repositories.BackgroundRemover = (*BackgroundRemover)(nil)

// NewBackgroundRemover wires a BackgroundRemover against the rembg client.
func NewBackgroundRemover(client *Client) (*BackgroundRemover, error) {
	if client == nil {
		return nil, errors.New("background remover: client is required")
	}
	return &BackgroundRemover{client: client}, nil
}

// RemoveBackground uploads image and returns the PNG cutout.
func (b *BackgroundRemover) RemoveBackground(ctx context.Context, image domain.Image) (domain.Image, error) {
	if len(image.Data) == 0 {
		return domain.Image{}, errors.New("background remover: image is required")
	}
	contentType := image.ContentType
	if !strings.HasPrefix(contentType, "image/") {
		contentType = "image/png"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writeFilePart(writer, "file", "upload"+fileExtension(contentType), contentType, image.Data); err != nil {
		return domain.Image{}, fmt.Errorf("background remover: write image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return domain.Image{}, fmt.Errorf("background remover: close multipart: %w", err)
	}

	resp, err := b.client.do(ctx, request{
		op:          "Background removal failed",
		method:      http.MethodPost,
		path:        "/remove-bg",
		body:        body.Bytes(),
		contentType: writer.FormDataContentType(),
		accept:      "image/png",
	})
	if err != nil {
		return domain.Image{}, err
	}
	return DecodeImage(resp.body, resp.contentType), nil
}
