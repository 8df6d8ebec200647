package cooldown

import (
	"context"
	"testing"
	"time"

	"github.com/envhealthd/envhealthd/internal/testutil"
)

func newTestManager(t *testing.T, endpoints []string) *EtcdManager {
	t.Helper()

	manager, err := NewEtcdManager(EtcdManagerOptions{
		Endpoints: endpoints,
		Key:       "/envhealthd/healing/cooldown",
		NodeName:  "dev-01",
	})
	if err != nil {
		t.Fatalf("failed to create cooldown manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func TestStatusWithoutWindow(t *testing.T) {
	cluster := testutil.StartEmbeddedEtcd(t)
	manager := newTestManager(t, cluster.Endpoints)

	status, err := manager.Status(context.Background())
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Active {
		t.Fatalf("expected no active window, got %+v", status)
	}
}

func TestStartAndObserveWindow(t *testing.T) {
	cluster := testutil.StartEmbeddedEtcd(t)
	manager := newTestManager(t, cluster.Endpoints)

	if err := manager.Start(context.Background(), time.Minute, "run-42"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	status, err := manager.Status(context.Background())
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !status.Active {
		t.Fatal("expected active window")
	}
	if status.Node != "dev-01" {
		t.Fatalf("unexpected node: %q", status.Node)
	}
	if status.RunID != "run-42" {
		t.Fatalf("unexpected run id: %q", status.RunID)
	}
	if status.Remaining <= 0 || status.Remaining > time.Minute {
		t.Fatalf("unexpected remaining duration: %s", status.Remaining)
	}
}

func TestStartWithZeroDurationClearsWindow(t *testing.T) {
	cluster := testutil.StartEmbeddedEtcd(t)
	manager := newTestManager(t, cluster.Endpoints)

	if err := manager.Start(context.Background(), time.Minute, "run-1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := manager.Start(context.Background(), 0, ""); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	status, err := manager.Status(context.Background())
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Active {
		t.Fatalf("expected window to be cleared, got %+v", status)
	}
}

func TestWindowExpiresWithLease(t *testing.T) {
	cluster := testutil.StartEmbeddedEtcd(t)
	manager := newTestManager(t, cluster.Endpoints)

	if err := manager.Start(context.Background(), time.Second, "run-2"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		status, err := manager.Status(context.Background())
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		if !status.Active {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected window to expire, still active: %+v", status)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func TestNewEtcdManagerValidatesOptions(t *testing.T) {
	if _, err := NewEtcdManager(EtcdManagerOptions{Key: "/k", NodeName: "n"}); err == nil {
		t.Fatal("expected missing endpoints to be rejected")
	}
	if _, err := NewEtcdManager(EtcdManagerOptions{Endpoints: []string{"127.0.0.1:2379"}, NodeName: "n"}); err == nil {
		t.Fatal("expected missing key to be rejected")
	}
	if _, err := NewEtcdManager(EtcdManagerOptions{Endpoints: []string{"127.0.0.1:2379"}, Key: "/k"}); err == nil {
		t.Fatal("expected missing node name to be rejected")
	}
}
