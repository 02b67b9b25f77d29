package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/KyawIT/what-to-wear-sub000/internal/platform/secrets"
)

// SecretResolver turns a secret reference into its value.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

var errNoResolver = errors.New("secret resolver not configured")

// SecretError is returned when a reference cannot be resolved.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secret fields that resolved empty.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return "config: missing required secrets [" + strings.Join(e.RedactedNames(), ", ") + "]"
}

// RedactedNames returns short digests of the missing field names, safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.names))
	for i, name := range e.names {
		out[i] = redactSecretName(name)
	}
	slices.Sort(out)
	return out
}

// resolveSecretFields replaces reference values in fields and returns the
// trimmed value of every field by name.
func resolveSecretFields(ctx context.Context, resolver SecretResolver, fields map[string]*string) (map[string]string, error) {
	resolved := make(map[string]string, len(fields))
	for name, field := range fields {
		if secrets.IsReference(*field) {
			ref := canonicalRef(*field)
			if resolver == nil {
				return nil, &SecretError{Ref: ref, Err: errNoResolver}
			}
			value, err := resolver.ResolveSecret(ctx, ref)
			if err != nil {
				return nil, &SecretError{Ref: ref, Err: err}
			}
			*field = value
		}
		resolved[name] = strings.TrimSpace(*field)
	}
	return resolved, nil
}

// canonicalRef rewrites the sm:// alias to secret://.
func canonicalRef(value string) string {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest
	}
	return value
}

func missingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var names []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || resolved[name] != "" || slices.Contains(names, name) {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}
	return &MissingSecretsError{names: names}
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
