package testutil

import (
	"fmt"
	"net/url"
	"testing"
	"time"

	"go.etcd.io/etcd/server/v3/embed"
)

const etcdStartTimeout = 15 * time.Second

// EmbeddedEtcd is a single-node etcd listening on ephemeral localhost
// ports, backing the lock, cooldown, and fleet integration tests.
type EmbeddedEtcd struct {
	Server    *embed.Etcd
	Endpoints []string
}

// StartEmbeddedEtcd boots an embedded etcd in a temp directory and stops
// it when the test finishes.
func StartEmbeddedEtcd(t testing.TB) *EmbeddedEtcd {
	t.Helper()

	cfg := embed.NewConfig()
	cfg.Dir = t.TempDir()
	cfg.Logger = "zap"
	cfg.LogLevel = "error"
	cfg.EnableGRPCGateway = false

	peer := localURL(t)
	client := localURL(t)
	cfg.ListenPeerUrls = []url.URL{peer}
	cfg.AdvertisePeerUrls = []url.URL{peer}
	cfg.ListenClientUrls = []url.URL{client}
	cfg.AdvertiseClientUrls = []url.URL{client}
	cfg.InitialCluster = fmt.Sprintf("%s=%s", cfg.Name, peer.String())

	server, err := embed.StartEtcd(cfg)
	if err != nil {
		t.Fatalf("start embedded etcd: %v", err)
	}
	t.Cleanup(func() {
		server.Close()
		select {
		case <-server.Server.StopNotify():
		case <-time.After(5 * time.Second):
		}
	})

	select {
	case <-server.Server.ReadyNotify():
	case <-time.After(etcdStartTimeout):
		t.Fatalf("embedded etcd not ready after %s", etcdStartTimeout)
	}

	endpoints := make([]string, 0, len(server.Clients))
	for _, listener := range server.Clients {
		endpoints = append(endpoints, listener.Addr().String())
	}
	return &EmbeddedEtcd{Server: server, Endpoints: endpoints}
}

// localURL yields an http URL on 127.0.0.1 with a kernel-assigned port.
func localURL(t testing.TB) url.URL {
	t.Helper()

	parsed, err := url.Parse("http://127.0.0.1:0")
	if err != nil {
		t.Fatalf("parse listener url: %v", err)
	}
	return *parsed
}
