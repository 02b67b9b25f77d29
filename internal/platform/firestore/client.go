// Package firestore builds Cloud Firestore clients, including clients pointed
// at the local emulator.
package firestore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	defaultDialTimeout = 10 * time.Second
	emulatorHostEnv    = "FIRESTORE_EMULATOR_HOST"
	projectEnv         = "GOOGLE_CLOUD_PROJECT"
)

// ErrProjectRequired is returned when neither the options nor the environment name a project.
var ErrProjectRequired = errors.New("firestore: project id is required")

// Options configures NewClient. Empty fields fall back to GOOGLE_CLOUD_PROJECT
// and FIRESTORE_EMULATOR_HOST.
type Options struct {
	ProjectID     string
	EmulatorHost  string
	DialTimeout   time.Duration
	ClientOptions []option.ClientOption
}

// NewClient dials Firestore. Emulator clients skip authentication and use plaintext gRPC.
func NewClient(ctx context.Context, opts Options) (*firestore.Client, error) {
	project := cmp.Or(strings.TrimSpace(opts.ProjectID), strings.TrimSpace(os.Getenv(projectEnv)))
	if project == "" {
		return nil, ErrProjectRequired
	}

	clientOpts := slices.Clone(opts.ClientOptions)
	if host := cmp.Or(strings.TrimSpace(opts.EmulatorHost), strings.TrimSpace(os.Getenv(emulatorHostEnv))); host != "" {
		// The client library only switches to emulator mode through the environment.
		if os.Getenv(emulatorHostEnv) == "" {
			_ = os.Setenv(emulatorHostEnv, host)
		}
		clientOpts = append(clientOpts,
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := firestore.NewClient(dialCtx, project, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client for %s: %w", project, err)
	}
	return client, nil
}

// Probe reads at most one document of collection, proving the database answers.
func Probe(client *firestore.Client, collection string) func(context.Context) error {
	return func(ctx context.Context) error {
		docs := client.Collection(collection).Limit(1).Documents(ctx)
		defer docs.Stop()
		if _, err := docs.Next(); err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	}
}
