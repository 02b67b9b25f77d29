package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const latestVersion = "latest"

var (
	// ErrInvalidReference is returned for values that are not secret:// or sm:// URIs.
	ErrInvalidReference = errors.New("secrets: invalid reference")
)

// Reference names one Secret Manager secret, e.g.
//
//	secret://backend_api_key?version=3&project=wtw-prod
//
// sm:// is accepted as an alias of secret://.
type Reference struct {
	Name    string
	Version string
	Project string
}

// IsReference reports whether value looks like a secret reference.
func IsReference(value string) bool {
	value = strings.TrimSpace(value)
	return strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://")
}

// ParseReference parses raw into a Reference.
func ParseReference(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if !IsReference(raw) {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" || strings.Contains(name, "/") {
		return Reference{}, fmt.Errorf("%w: secret name missing or nested in %q", ErrInvalidReference, raw)
	}
	query := u.Query()
	return Reference{
		Name:    name,
		Version: strings.TrimSpace(query.Get("version")),
		Project: strings.TrimSpace(query.Get("project")),
	}, nil
}

// Key is the canonical form used for caching and version pins.
func (r Reference) Key() string {
	return "secret://" + r.Name
}

func (r Reference) resource(project, version string) string {
	return "projects/" + project + "/secrets/" + r.Name + "/versions/" + version
}
