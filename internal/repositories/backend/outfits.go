package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

// OutfitRepository creates, updates and reads outfits in the CRUD backend.
type OutfitRepository struct {
	client *Client
	now    func() time.Time
}

var _ repositories.OutfitRepository = (*OutfitRepository)(nil)

// NewOutfitRepository wires an OutfitRepository on top of client.
func NewOutfitRepository(client *Client, clock func() time.Time) (*OutfitRepository, error) {
	if client == nil {
		return nil, errors.New("outfit repository: client is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &OutfitRepository{client: client, now: clock}, nil
}

// Create posts a new outfit.
func (r *OutfitRepository) Create(ctx context.Context, submission domain.OutfitSubmission, token string) (domain.PersistedOutfit, error) {
	return r.submit(ctx, "Failed to create outfit", http.MethodPost, "/api/outfit", submission, token)
}

// Update replaces an existing outfit.
func (r *OutfitRepository) Update(ctx context.Context, submission domain.OutfitSubmission, token string) (domain.PersistedOutfit, error) {
	id := strings.TrimSpace(submission.OutfitID)
	if id == "" {
		return domain.PersistedOutfit{}, errors.New("outfit repository: outfit id is required for update")
	}
	return r.submit(ctx, "Failed to update outfit", http.MethodPut, "/api/outfit/"+url.PathEscape(id), submission, token)
}

// Get loads a single outfit.
func (r *OutfitRepository) Get(ctx context.Context, outfitID string, token string) (domain.PersistedOutfit, error) {
	id := strings.TrimSpace(outfitID)
	if id == "" {
		return domain.PersistedOutfit{}, errors.New("outfit repository: outfit id is required")
	}
	resp, err := r.client.do(ctx, request{
		op:     "Failed to fetch outfit",
		method: http.MethodGet,
		path:   "/api/outfit/" + url.PathEscape(id),
		token:  token,
	})
	if err != nil {
		return domain.PersistedOutfit{}, err
	}
	return r.client.decodeOutfit(gjson.ParseBytes(resp.body)), nil
}

func (r *OutfitRepository) submit(ctx context.Context, op, method, path string, submission domain.OutfitSubmission, token string) (domain.PersistedOutfit, error) {
	if err := validateSubmission(submission); err != nil {
		return domain.PersistedOutfit{}, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := [][2]string{
		{"title", strings.TrimSpace(submission.Title)},
		{"description", strings.TrimSpace(submission.Description)},
		{"tags", joinCSV(submission.Tags)},
		{"wearableIds", joinCSV(submission.WearableIDs)},
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return domain.PersistedOutfit{}, fmt.Errorf("outfit repository: write field %s: %w", field[0], err)
		}
	}
	if submission.Image != nil && len(submission.Image.Data) > 0 {
		contentType := submission.Image.ContentType
		if contentType == "" {
			contentType = "image/png"
		}
		name := "outfit_" + strconv.FormatInt(r.now().UnixMilli(), 10) + fileExtension(contentType)
		if err := writeFilePart(writer, "file", name, contentType, submission.Image.Data); err != nil {
			return domain.PersistedOutfit{}, fmt.Errorf("outfit repository: write image: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return domain.PersistedOutfit{}, fmt.Errorf("outfit repository: close multipart: %w", err)
	}

	resp, err := r.client.do(ctx, request{
		op:          op,
		method:      method,
		path:        path,
		body:        body.Bytes(),
		contentType: writer.FormDataContentType(),
		token:       token,
	})
	if err != nil {
		return domain.PersistedOutfit{}, err
	}
	return r.client.decodeOutfit(gjson.ParseBytes(resp.body)), nil
}

func validateSubmission(submission domain.OutfitSubmission) error {
	if strings.TrimSpace(submission.Title) == "" {
		return ErrTitleRequired
	}
	ids := 0
	for _, id := range submission.WearableIDs {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, err := uuid.Parse(trimmed); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidWearableID, id)
		}
		ids++
	}
	if ids == 0 {
		return ErrWearableIDsRequired
	}
	return nil
}

func joinCSV(values []string) string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, ",")
}

func writeFilePart(writer *multipart.Writer, field, filename, contentType string, data []byte) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}
