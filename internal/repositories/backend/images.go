package backend

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	_ "golang.org/x/image/webp"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

const defaultMaxImageBytes = 15 << 20

var imagePathPattern = regexp.MustCompile(`^(?:/minio)?/(wearables|outfits)/(.+)$`)

// ResolveImageURL rewrites storage URLs onto the backend image proxy. Any URL
// whose path is /wearables/<key> or /outfits/<key>, optionally under /minio,
// becomes <base>/api/image/<kind>/<key>. Other URLs are returned unchanged.
func (c *Client) ResolveImageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	match := imagePathPattern.FindStringSubmatch(parsed.Path)
	if match == nil {
		return raw
	}
	return c.baseURL + "/api/image/" + match[1] + "/" + match[2]
}

// ImageFetcher downloads images, attaching credentials only for backend hosted URLs.
type ImageFetcher struct {
	client   *Client
	maxBytes int
}

var _ repositories.ImageFetcher = (*ImageFetcher)(nil)

// NewImageFetcher builds an ImageFetcher. maxBytes <= 0 selects the default limit.
func NewImageFetcher(client *Client, maxBytes int) (*ImageFetcher, error) {
	if client == nil {
		return nil, fmt.Errorf("image fetcher: client is required")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxImageBytes
	}
	return &ImageFetcher{client: client, maxBytes: maxBytes}, nil
}

// Fetch downloads the image at rawURL.
func (f *ImageFetcher) Fetch(ctx context.Context, rawURL string, token string) (domain.Image, error) {
	target := f.client.ResolveImageURL(rawURL)
	if target == "" {
		return domain.Image{}, fmt.Errorf("%w: empty image url", ErrInvalidImageURL)
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return domain.Image{}, fmt.Errorf("%w: %s", ErrInvalidImageURL, target)
	}
	resp, err := f.client.do(ctx, request{
		op:     "Image download failed",
		method: http.MethodGet,
		path:   target,
		token:  token,
		accept: "image/*",
	})
	if err != nil {
		return domain.Image{}, err
	}
	if len(resp.body) > f.maxBytes {
		return domain.Image{}, ErrImageTooLarge
	}
	return DecodeImage(resp.body, resp.contentType), nil
}

// DecodeImage wraps raw bytes into a domain image, sniffing the content type
// and reading the dimensions when the format is known.
func DecodeImage(data []byte, contentType string) domain.Image {
	img := domain.Image{Data: data, ContentType: contentType}
	if img.ContentType == "" || strings.HasPrefix(img.ContentType, "application/octet-stream") {
		img.ContentType = http.DetectContentType(data)
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Width = cfg.Width
		img.Height = cfg.Height
	}
	return img
}

func fileExtension(contentType string) string {
	switch {
	case strings.Contains(contentType, "jpeg"):
		return ".jpg"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	case strings.Contains(contentType, "gif"):
		return ".gif"
	default:
		return ".png"
	}
}
