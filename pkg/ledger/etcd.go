package ledger

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdOptions configures the etcd-backed ledger.
type EtcdOptions struct {
	Endpoints   []string
	DialTimeout time.Duration
	Namespace   string
	Prefix      string
	TLS         *tls.Config
	NodeName    string
	// TTL bounds how long a record may outlive the agent that wrote it. Zero
	// keeps records until they are cleared.
	TTL   time.Duration
	Clock func() time.Time
}

// Etcd stores one key per active condition under a per-node prefix.
type Etcd struct {
	client   *clientv3.Client
	nodePath string
	node     string
	ttl      time.Duration
	now      func() time.Time
}

type etcdRecord struct {
	Node      string `json:"node"`
	ID        string `json:"id"`
	Condition string `json:"condition,omitempty"`
	MarkedAt  string `json:"marked_at"`
}

// NewEtcd constructs an etcd-backed ledger.
func NewEtcd(opts EtcdOptions) (*Etcd, error) {
	if len(opts.Endpoints) == 0 {
		return nil, errors.New("etcd ledger requires at least one endpoint")
	}
	node := strings.TrimSpace(opts.NodeName)
	if node == "" {
		return nil, errors.New("etcd ledger requires a node name")
	}
	if opts.TTL < 0 {
		return nil, errors.New("etcd ledger TTL must not be negative")
	}
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = "alerts"
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

	return &Etcd{
		client:   client,
		nodePath: path.Join(applyNamespace(opts.Namespace, prefix), node),
		node:     node,
		ttl:      opts.TTL,
		now:      clock,
	}, nil
}

// Close releases the underlying client.
func (e *Etcd) Close() error {
	if e == nil {
		return nil
	}
	return e.client.Close()
}

func (e *Etcd) key(id string) string {
	return e.nodePath + "/" + url.PathEscape(id)
}

// Exists implements Ledger.
func (e *Etcd) Exists(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	resp, err := e.client.Get(clientv3.WithRequireLeader(ctx), e.key(id), clientv3.WithCountOnly())
	if err != nil {
		return false, wrapEtcdErr("read alert record", err)
	}
	return resp.Count > 0, nil
}

// Mark implements Ledger. An existing record keeps its original payload and lease.
func (e *Etcd) Mark(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	payload, err := json.Marshal(etcdRecord{
		Node:      e.node,
		ID:        id,
		Condition: ConditionOf(id),
		MarkedAt:  e.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}

	key := e.key(id)
	var putOpts []clientv3.OpOption
	var leaseID clientv3.LeaseID
	if e.ttl > 0 {
		seconds := int64(math.Ceil(e.ttl.Seconds()))
		lease, err := e.client.Grant(ctx, seconds)
		if err != nil {
			return wrapEtcdErr("grant alert lease", err)
		}
		leaseID = lease.ID
		putOpts = append(putOpts, clientv3.WithLease(leaseID))
	}

	resp, err := e.client.Txn(clientv3.WithRequireLeader(ctx)).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(payload), putOpts...)).
		Commit()
	if err != nil || !resp.Succeeded {
		e.revoke(leaseID)
	}
	if err != nil {
		return wrapEtcdErr("store alert record", err)
	}
	return nil
}

// Clear implements Ledger.
func (e *Etcd) Clear(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if _, err := e.client.Delete(clientv3.WithRequireLeader(ctx), e.key(id)); err != nil {
		return wrapEtcdErr("delete alert record", err)
	}
	return nil
}

// List implements Lister for the local node.
func (e *Etcd) List(ctx context.Context) ([]string, error) {
	prefix := e.nodePath + "/"
	resp, err := e.client.Get(clientv3.WithRequireLeader(ctx), prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, wrapEtcdErr("list alert records", err)
	}

	ids := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var record etcdRecord
		if err := json.Unmarshal(kv.Value, &record); err == nil && record.ID != "" {
			ids = append(ids, record.ID)
			continue
		}
		id, err := url.PathUnescape(strings.TrimPrefix(string(kv.Key), prefix))
		if err != nil {
			return nil, fmt.Errorf("parse alert record key %q: %w", kv.Key, err)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (e *Etcd) revoke(id clientv3.LeaseID) {
	if id == 0 {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = e.client.Revoke(cleanupCtx, id)
}

func wrapEtcdErr(action string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w", action, err)
}

func applyNamespace(namespace, key string) string {
	normalizedKey := "/" + strings.Trim(key, "/")
	trimmedNamespace := strings.Trim(namespace, "/")
	if trimmedNamespace == "" {
		return normalizedKey
	}
	return "/" + trimmedNamespace + normalizedKey
}

var _ Ledger = (*Etcd)(nil)
var _ Lister = (*Etcd)(nil)
