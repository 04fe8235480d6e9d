package firebase

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	pingCollection = "_health"
	pingDocument   = "ping"
)

// Config holds Firebase configuration.
type Config struct {
	ProjectID                    string
	GoogleApplicationCredentials string // Path to service account JSON (optional)
}

// Clients holds the persistence clients wired at startup.
type Clients struct {
	Firestore *firestore.Client
}

// InitializeClients creates the Firebase app and its Firestore client.
// Without a credentials file the client falls back to Application Default
// Credentials, or to the emulator when FIRESTORE_EMULATOR_HOST is set.
func InitializeClients(ctx context.Context, cfg Config) (*Clients, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase: project ID is required")
	}

	var opts []option.ClientOption
	if cfg.GoogleApplicationCredentials != "" {
		creds, err := os.ReadFile(cfg.GoogleApplicationCredentials)
		if err != nil {
			return nil, fmt.Errorf("read credentials: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(creds))
	}

	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}

	fc, err := fbApp.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firestore: %w", err)
	}

	return &Clients{Firestore: fc}, nil
}

// Ping reads a sentinel document to confirm Firestore is reachable.
// A missing document still proves connectivity.
func (c *Clients) Ping(ctx context.Context) error {
	if c == nil || c.Firestore == nil {
		return errors.New("firebase: firestore client not initialized")
	}
	_, err := c.Firestore.Collection(pingCollection).Doc(pingDocument).Get(ctx)
	if err == nil || status.Code(err) == codes.NotFound {
		return nil
	}
	return fmt.Errorf("ping firestore: %w", err)
}

// Close closes the Firestore client. It is safe on a nil receiver.
func (c *Clients) Close() error {
	if c == nil || c.Firestore == nil {
		return nil
	}
	return c.Firestore.Close()
}
