package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

// loadFallbackFile reads the developer secrets file. It uses dotenv syntax
// keyed by secret name:
//
//	backend_api_key=local-key
//	index_sync_api_key=local-index-key
//
// A missing file yields an empty set.
func loadFallbackFile(path string) (map[string]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return map[string]string{}, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: read fallback file %s: %w", path, err)
	}
	normalized := make(map[string]string, len(values))
	for name, value := range values {
		normalized[strings.ToLower(strings.TrimSpace(name))] = value
	}
	return normalized, nil
}
