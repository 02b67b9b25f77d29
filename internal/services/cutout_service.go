package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

const (
	defaultCutoutMaxBytes = 15 << 20
	opRemoveBackground    = "Background removal failed"
)

// CutoutServiceDeps bundles collaborators required by the cutout service.
type CutoutServiceDeps struct {
	Remover  repositories.BackgroundRemover
	MaxBytes int64
}

type cutoutService struct {
	remover  repositories.BackgroundRemover
	maxBytes int64
}

var _ CutoutService = (*cutoutService)(nil)

// NewCutoutService constructs the background removal proxy.
func NewCutoutService(deps CutoutServiceDeps) (CutoutService, error) {
	if deps.Remover == nil {
		return nil, errors.New("cutout service: background remover is required")
	}
	maxBytes := deps.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultCutoutMaxBytes
	}
	return &cutoutService{remover: deps.Remover, maxBytes: maxBytes}, nil
}

func (s *cutoutService) RemoveBackground(ctx context.Context, cmd CutoutCommand) (result domain.Image, err error) {
	ctx, span := startSpan(ctx, "cutout.RemoveBackground", attribute.Int("image.bytes", len(cmd.Image.Data)))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(cmd.UserID) == "" {
		return domain.Image{}, &AuthError{Err: errors.New("user id is required")}
	}
	if len(cmd.Image.Data) == 0 {
		return domain.Image{}, newValidationError("image_required", "An image is required.")
	}
	if int64(len(cmd.Image.Data)) > s.maxBytes {
		return domain.Image{}, newValidationError("image_too_large", fmt.Sprintf("Image exceeds the %d MB limit.", s.maxBytes>>20))
	}
	contentType := cmd.Image.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(cmd.Image.Data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return domain.Image{}, newValidationError("unsupported_media_type", "Only image uploads are supported.")
	}
	cmd.Image.ContentType = contentType

	out, err := s.remover.RemoveBackground(ctx, cmd.Image)
	if err != nil {
		classified := ClassifyFailure(opRemoveBackground, err)
		var upstream *UpstreamError
		if errors.As(classified, &upstream) && isTransportFailure(err) {
			upstream.Hint = cutoutHint
		}
		return domain.Image{}, classified
	}
	return out, nil
}
