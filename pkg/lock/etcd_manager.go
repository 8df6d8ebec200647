package lock

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// EtcdManagerOptions configures the etcd-backed healing lock.
type EtcdManagerOptions struct {
	Endpoints   []string
	DialTimeout time.Duration
	LockKey     string
	Namespace   string
	TTL         time.Duration
	TLS         *tls.Config
	ProcessID   int
	Clock       func() time.Time
}

// EtcdManager hands out the healing lock via an etcd mutex. The session TTL
// bounds how long a crashed holder can block the fleet.
type EtcdManager struct {
	client     *clientv3.Client
	key        string
	ttlSeconds int
	pid        int
	now        func() time.Time
}

var _ Manager = (*EtcdManager)(nil)

// holderAnnotation is stored under the mutex key so operators can see which
// node is healing and why.
type holderAnnotation struct {
	Node       string `json:"node"`
	PID        int    `json:"pid"`
	RunID      string `json:"run_id,omitempty"`
	Issues     int    `json:"issues"`
	AcquiredAt string `json:"acquired_at"`
}

// NewEtcdManager builds a healing lock manager backed by etcd.
func NewEtcdManager(opts EtcdManagerOptions) (*EtcdManager, error) {
	key := strings.TrimSpace(opts.LockKey)
	ttlSeconds := int(math.Ceil(opts.TTL.Seconds()))
	switch {
	case len(opts.Endpoints) == 0:
		return nil, errors.New("etcd lock manager requires at least one endpoint")
	case key == "":
		return nil, errors.New("etcd lock manager requires a non-empty lock key")
	case ttlSeconds <= 0:
		return nil, errors.New("etcd lock manager requires a TTL of at least 1 second")
	}

	pid := opts.ProcessID
	if pid <= 0 {
		pid = os.Getpid()
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
		client:     client,
		key:        applyNamespace(opts.Namespace, key),
		ttlSeconds: ttlSeconds,
		pid:        pid,
		now:        clock,
	}, nil
}

// Close releases underlying client resources.
func (m *EtcdManager) Close() error {
	if m == nil {
		return nil
	}
	return m.client.Close()
}

// Acquire attempts to take the healing lock without blocking. ErrNotAcquired
// is returned when another holder exists. The returned lease keeps the etcd
// session alive until released.
func (m *EtcdManager) Acquire(ctx context.Context, meta Metadata) (Lease, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	leaderCtx := clientv3.WithRequireLeader(ctx)

	session, err := concurrency.NewSession(m.client, concurrency.WithTTL(m.ttlSeconds))
	if err != nil {
		return nil, wrapErr("create session", err)
	}

	mutex := concurrency.NewMutex(session, m.key)
	if err := mutex.TryLock(leaderCtx); err != nil {
		_ = session.Close()
		if errors.Is(err, concurrency.ErrLocked) {
			return nil, ErrNotAcquired
		}
		return nil, wrapErr("try lock", err)
	}

	if err := m.annotateHolder(leaderCtx, session, mutex, meta); err != nil {
		m.abandon(session, mutex)
		return nil, wrapErr("annotate lock", err)
	}

	return &etcdLease{session: session, mutex: mutex}, nil
}

// abandon unlocks and closes a half-acquired mutex on a fresh context, since
// the caller's context may already be done.
func (m *EtcdManager) abandon(session *concurrency.Session, mutex *concurrency.Mutex) {
	ctx, cancel := context.WithTimeout(clientv3.WithRequireLeader(context.Background()), 5*time.Second)
	defer cancel()
	_ = mutex.Unlock(ctx)
	_ = session.Close()
}

func (m *EtcdManager) annotateHolder(ctx context.Context, session *concurrency.Session, mutex *concurrency.Mutex, meta Metadata) error {
	payload, err := json.Marshal(holderAnnotation{
		Node:       meta.Node,
		PID:        m.pid,
		RunID:      meta.RunID,
		Issues:     meta.Issues,
		AcquiredAt: m.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	_, err = session.Client().Put(ctx, mutex.Key(), string(payload), clientv3.WithLease(session.Lease()))
	return err
}

type etcdLease struct {
	session *concurrency.Session
	mutex   *concurrency.Mutex
}

// Release unlocks the mutex and closes the session. An already-released
// mutex is not an error; a failed unlock still closes the session so the
// TTL can reclaim the lock.
func (l *etcdLease) Release(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	unlockErr := l.mutex.Unlock(clientv3.WithRequireLeader(ctx))
	closeErr := l.session.Close()

	if unlockErr != nil && !errors.Is(unlockErr, concurrency.ErrLockReleased) {
		return wrapErr("unlock", unlockErr)
	}
	if closeErr != nil {
		return wrapErr("close session", closeErr)
	}
	return nil
}

// wrapErr passes context cancellation through untouched and annotates
// everything else with the failed operation.
func wrapErr(op string, err error) error {
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
