package firebase

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/yiroma/budgetmanagement/internal/testutil"
)

func TestCloseIsNilSafe(t *testing.T) {
	var nilClients *Clients
	if err := nilClients.Close(); err != nil {
		t.Fatalf("expected nil error for nil receiver, got %v", err)
	}
	if err := (&Clients{}).Close(); err != nil {
		t.Fatalf("expected nil error without Firestore client, got %v", err)
	}
}

func TestPingWithoutClient(t *testing.T) {
	var c *Clients
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected error when pinging without a client")
	}
}

func TestInitializeClientsRequiresProjectID(t *testing.T) {
	if _, err := InitializeClients(context.Background(), Config{}); err == nil {
		t.Fatal("expected error without project ID")
	}
}

func TestInitializeClientsMissingCredentialsFile(t *testing.T) {
	cfg := Config{
		ProjectID:                    testutil.ProjectID,
		GoogleApplicationCredentials: filepath.Join(t.TempDir(), "missing.json"),
	}
	if _, err := InitializeClients(context.Background(), cfg); err == nil {
		t.Fatal("expected error for missing credentials file")
	}
}

func TestInitializeClientsAgainstEmulator(t *testing.T) {
	testutil.SkipIfEmulatorUnavailable(t)
	testutil.SetupEmulator(t)
	t.Cleanup(func() { testutil.ClearFirestore(t) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clients, err := InitializeClients(ctx, Config{ProjectID: testutil.ProjectID})
	if err != nil {
		t.Fatalf("InitializeClients: %v", err)
	}
	t.Cleanup(func() { _ = clients.Close() })

	if err := clients.Ping(ctx); err != nil {
		t.Fatalf("expected ping to succeed against emulator, got %v", err)
	}
}
