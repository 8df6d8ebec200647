package cooldown

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdManagerOptions configures the etcd-backed cooldown coordinator.
type EtcdManagerOptions struct {
	Endpoints   []string
	DialTimeout time.Duration
	Namespace   string
	Key         string
	TLS         *tls.Config
	NodeName    string
	Clock       func() time.Time
}

// EtcdManager persists cooldown windows in etcd using a short-lived lease.
// The lease TTL enforces expiry even if the writing process dies.
type EtcdManager struct {
	client *clientv3.Client
	key    string
	node   string
	now    func() time.Time
}

var _ Manager = (*EtcdManager)(nil)

// windowRecord is the JSON payload stored under the cooldown key.
type windowRecord struct {
	Node        string `json:"node"`
	RunID       string `json:"run_id,omitempty"`
	StartedAt   string `json:"started_at"`
	DurationSec int64  `json:"duration_sec"`
}

// NewEtcdManager constructs a cooldown manager backed by etcd.
func NewEtcdManager(opts EtcdManagerOptions) (*EtcdManager, error) {
	key := strings.TrimSpace(opts.Key)
	node := strings.TrimSpace(opts.NodeName)
	switch {
	case len(opts.Endpoints) == 0:
		return nil, errors.New("cooldown etcd manager requires at least one endpoint")
	case key == "":
		return nil, errors.New("cooldown etcd manager requires a key")
	case node == "":
		return nil, errors.New("cooldown etcd manager requires a node name")
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:           opts.Endpoints,
		DialTimeout:         dialTimeout,
		TLS:                 opts.TLS,
		RejectOldCluster:    true,
		PermitWithoutStream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create etcd client: %w", err)
	}

	return &EtcdManager{
		client: client,
		key:    applyNamespace(opts.Namespace, key),
		node:   node,
		now:    clock,
	}, nil
}

// Close releases underlying client resources.
func (m *EtcdManager) Close() error {
	if m == nil {
		return nil
	}
	return m.client.Close()
}

// Status implements Manager. An absent key, or a key whose lease already
// ran out, reads as no active cooldown.
func (m *EtcdManager) Status(ctx context.Context) (Status, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	leaderCtx := clientv3.WithRequireLeader(ctx)

	resp, err := m.client.Get(leaderCtx, m.key)
	if err != nil {
		return Status{}, wrapEtcdErr("read cooldown key", err)
	}
	if len(resp.Kvs) == 0 {
		return Status{}, nil
	}
	kv := resp.Kvs[0]

	record, err := decodeWindowRecord(kv.Value)
	if err != nil {
		return Status{}, err
	}

	status := Status{
		Active:    true,
		Node:      record.Node,
		RunID:     record.RunID,
		StartedAt: record.startedAt,
	}
	if record.DurationSec > 0 {
		status.ExpiresAt = record.startedAt.Add(time.Duration(record.DurationSec) * time.Second)
	}

	if kv.Lease != 0 {
		ttlResp, err := m.client.TimeToLive(leaderCtx, clientv3.LeaseID(kv.Lease))
		if err != nil {
			return Status{}, wrapEtcdErr("query cooldown ttl", err)
		}
		if ttlResp.TTL <= 0 {
			return Status{}, nil
		}
		status.Remaining = time.Duration(ttlResp.TTL) * time.Second
	}
	if !status.ExpiresAt.IsZero() {
		if remaining := time.Until(status.ExpiresAt); remaining > 0 {
			status.Remaining = remaining
		}
	}
	return status, nil
}

// Start implements Manager. A non-positive duration clears any active window.
func (m *EtcdManager) Start(ctx context.Context, duration time.Duration, runID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if duration <= 0 {
		return m.clear(ctx)
	}

	seconds := int64(math.Ceil(duration.Seconds()))
	if seconds <= 0 {
		seconds = 1
	}
	lease, err := m.client.Grant(ctx, seconds)
	if err != nil {
		return wrapEtcdErr("grant cooldown lease", err)
	}

	payload, err := json.Marshal(windowRecord{
		Node:        m.node,
		RunID:       runID,
		StartedAt:   m.now().UTC().Format(time.RFC3339Nano),
		DurationSec: seconds,
	})
	if err != nil {
		return err
	}

	if _, err := m.client.Put(ctx, m.key, string(payload), clientv3.WithLease(lease.ID)); err != nil {
		// Revoke the orphaned lease on a best-effort basis; a fresh
		// context because ctx may already be done.
		revokeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = m.client.Revoke(revokeCtx, lease.ID)
		return wrapEtcdErr("store cooldown payload", err)
	}
	return nil
}

// clear removes the cooldown key, used when a zero duration is requested.
func (m *EtcdManager) clear(ctx context.Context) error {
	if _, err := m.client.Delete(ctx, m.key); err != nil {
		return wrapEtcdErr("clear cooldown key", err)
	}
	return nil
}

// decodedRecord carries the parsed payload plus its start time.
type decodedRecord struct {
	windowRecord
	startedAt time.Time
}

func decodeWindowRecord(raw []byte) (decodedRecord, error) {
	var record decodedRecord
	if err := json.Unmarshal(raw, &record.windowRecord); err != nil {
		return decodedRecord{}, fmt.Errorf("parse cooldown payload: %w", err)
	}
	startedAt, err := time.Parse(time.RFC3339Nano, record.StartedAt)
	if err != nil {
		return decodedRecord{}, fmt.Errorf("parse cooldown start timestamp: %w", err)
	}
	record.startedAt = startedAt
	return record, nil
}

// wrapEtcdErr passes context cancellation through untouched and annotates
// everything else with the failed operation.
func wrapEtcdErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func applyNamespace(namespace, key string) string {
	normalized := "/" + strings.TrimLeft(key, "/")
	trimmed := strings.Trim(namespace, "/")
	if trimmed == "" {
		return normalized
	}
	return "/" + trimmed + normalized
}
