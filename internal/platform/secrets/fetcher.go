// Package secrets resolves secret:// references used in configuration against
// Google Secret Manager, with a dotenv file fallback for local development.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/KyawIT/what-to-wear-sub000/internal/platform/secrets"
)

// ErrNotFound is returned when neither Secret Manager nor the fallback file has the secret.
var ErrNotFound = errors.New("secrets: secret not found")

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (accessor, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves references and caches values for the process lifetime.
// Concurrent lookups of the same secret share one remote call.
type Fetcher struct {
	client     accessor
	ownsClient bool
	logger     *zap.Logger

	env            string
	defaultProject string
	projects       map[string]string
	pins           map[string]string

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]string

	latency metric.Float64Histogram
}

type settings struct {
	logger       *zap.Logger
	env          string
	project      string
	projects     map[string]string
	pins         map[string]string
	fallbackPath string
	meter        metric.Meter
	client       accessor
	clientOpts   []option.ClientOption
}

// Option customises NewFetcher.
type Option func(*settings)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEnvironment selects the entry of the project map and the pin prefix.
func WithEnvironment(env string) Option {
	return func(s *settings) {
		if env = strings.ToLower(strings.TrimSpace(env)); env != "" {
			s.env = env
		}
	}
}

// WithDefaultProject sets the project used when neither the reference nor the project map name one.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) {
		s.project = strings.TrimSpace(projectID)
	}
}

// WithProjectMap maps environment names to Secret Manager projects.
func WithProjectMap(projects map[string]string) Option {
	return func(s *settings) {
		for env, project := range projects {
			s.projects[strings.ToLower(env)] = strings.TrimSpace(project)
		}
	}
}

// WithVersionPins pins versions by canonical key ("secret://name") or by
// environment scoped key ("prod:secret://name").
func WithVersionPins(pins map[string]string) Option {
	return func(s *settings) {
		for key, version := range pins {
			s.pins[key] = strings.TrimSpace(version)
		}
	}
}

// WithFallbackFile overrides the dotenv fallback path. An empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(s *settings) {
		s.fallbackPath = strings.TrimSpace(path)
	}
}

// WithMeter overrides the OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(s *settings) {
		s.meter = m
	}
}

// WithClientOptions forwards options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) {
		s.clientOpts = append(s.clientOpts, opts...)
	}
}

func withAccessor(client accessor) Option {
	return func(s *settings) {
		s.client = client
	}
}

// NewFetcher builds a Fetcher. When no Secret Manager client can be created it
// logs a warning and serves from the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{
		logger:       zap.NewNop(),
		env:          defaultEnvironment,
		projects:     map[string]string{},
		pins:         map[string]string{},
		fallbackPath: defaultFallbackPath,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		client:         s.client,
		logger:         s.logger,
		env:            s.env,
		defaultProject: s.project,
		projects:       s.projects,
		pins:           s.pins,
		fallbackPath:   s.fallbackPath,
		cache:          make(map[string]string),
	}

	latency, err := s.meter.Float64Histogram("secrets.resolve.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source"),
	)
	if err != nil {
		s.logger.Warn("secrets latency histogram unavailable", zap.Error(err))
	} else {
		f.latency = latency
	}

	if f.client == nil {
		client, err := newSecretManagerClient(ctx, s.clientOpts...)
		if err != nil {
			s.logger.Warn("secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret resolves ref to its value. It satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := ParseReference(ref)
	if err != nil {
		return "", err
	}
	version := f.version(parsed)
	cacheKey := parsed.Key() + "@" + version

	f.mu.RLock()
	value, ok := f.cache[cacheKey]
	f.mu.RUnlock()
	if ok {
		f.observe(ctx, "cache", start)
		return value, nil
	}

	v, err, _ := f.group.Do(cacheKey, func() (any, error) {
		value, source, err := f.load(ctx, parsed, version)
		if err != nil {
			f.observe(ctx, "error", start)
			return "", err
		}
		f.mu.Lock()
		f.cache[cacheKey] = value
		f.mu.Unlock()
		f.observe(ctx, source, start)
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (f *Fetcher) load(ctx context.Context, ref Reference, version string) (string, string, error) {
	if project := f.project(ref); project != "" && f.client != nil {
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
			Name: ref.resource(project, version),
		})
		switch {
		case err == nil && resp.GetPayload() != nil:
			return string(resp.GetPayload().GetData()), "secret_manager", nil
		case err == nil:
			return "", "", fmt.Errorf("secrets: empty payload for %s", ref.Key())
		case !fallbackEligible(err):
			if status.Code(err) == codes.NotFound {
				return "", "", fmt.Errorf("%w: %s: %v", ErrNotFound, ref.Key(), err)
			}
			return "", "", fmt.Errorf("secrets: access %s: %w", ref.Key(), err)
		}
		f.logger.Debug("secret manager unreachable, trying fallback file",
			zap.String("secret", ref.Name),
			zap.Error(err),
		)
	}

	f.fallbackOnce.Do(func() {
		f.fallback, f.fallbackErr = loadFallbackFile(f.fallbackPath)
	})
	if f.fallbackErr != nil {
		return "", "", f.fallbackErr
	}
	if value, ok := f.fallback[strings.ToLower(ref.Name)]; ok {
		return value, "fallback", nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrNotFound, ref.Key())
}

func (f *Fetcher) project(ref Reference) string {
	if ref.Project != "" {
		return ref.Project
	}
	if project := f.projects[f.env]; project != "" {
		return project
	}
	return f.defaultProject
}

func (f *Fetcher) version(ref Reference) string {
	if ref.Version != "" {
		return ref.Version
	}
	if pin := f.pins[f.env+":"+ref.Key()]; pin != "" {
		return pin
	}
	if pin := f.pins[ref.Key()]; pin != "" {
		return pin
	}
	return latestVersion
}

func (f *Fetcher) observe(ctx context.Context, source string, start time.Time) {
	if f.latency == nil {
		return
	}
	f.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("source", source)))
}

// fallbackEligible reports errors that mean Secret Manager is unreachable for
// this caller rather than that the secret is missing.
func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
