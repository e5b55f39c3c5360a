//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	pconfig "github.com/seoulthread/api/internal/platform/config"
	pfirestore "github.com/seoulthread/api/internal/platform/firestore"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

type counterDoc struct {
	Label string `firestore:"label"`
	Value int    `firestore:"value"`
}

// Exercises provider dialing, typed reads and writes, query iteration, error
// classification, and transactions against a dockerised Firestore emulator.
func TestRepositoryAgainstEmulator(t *testing.T) {
	endpoint := startEmulator(t)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "seoulthread-it",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if _, err := provider.Client(ctx); err != nil {
		t.Fatalf("dial emulator: %v", err)
	}

	repo := pfirestore.NewBaseRepository[counterDoc](provider, "counters", nil, nil)

	if _, err := repo.Set(ctx, "c1", counterDoc{Label: "orders", Value: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}

	doc, err := repo.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.ID != "c1" || doc.Data.Label != "orders" || doc.Data.Value != 1 {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if doc.UpdateTime.IsZero() {
		t.Fatal("update time not populated")
	}

	if _, err := repo.Update(ctx, "c1", []firestore.Update{{Path: "value", Value: 2}}); err != nil {
		t.Fatalf("update: %v", err)
	}

	docs, err := repo.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("label", "==", "orders")
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 1 || docs[0].Data.Value != 2 {
		t.Fatalf("unexpected query result: %+v", docs)
	}

	_, err = repo.Get(ctx, "absent")
	if err == nil {
		t.Fatal("expected not-found error")
	}
	var classified interface{ IsNotFound() bool }
	if !errors.As(err, &classified) || !classified.IsNotFound() {
		t.Fatalf("expected not-found classification, got %v", err)
	}

	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := repo.DocumentRef(ctx, "c1")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var entity counterDoc
		if err := snap.DataTo(&entity); err != nil {
			return err
		}
		entity.Value++
		return tx.Set(ref, entity)
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	doc, err = repo.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get after transaction: %v", err)
	}
	if doc.Data.Value != 3 {
		t.Fatalf("expected value 3, got %d", doc.Data.Value)
	}

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	if err := provider.RunTransaction(cancelled, func(context.Context, *firestore.Transaction) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// startEmulator launches the Firestore emulator in docker and returns its
// endpoint. The test is skipped when docker is unavailable.
func startEmulator(t *testing.T) string {
	t.Helper()

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed: " + err.Error())
	}
	probeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(probeCtx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("start emulator: %v - %s", err, out)
	}
	containerID := strings.TrimSpace(string(out))
	if containerID == "" {
		t.Fatal("docker returned no container id")
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = exec.CommandContext(stopCtx, "docker", "stop", containerID).Run()
	})

	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return endpoint
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("emulator on %s did not become ready", endpoint)
	return ""
}
