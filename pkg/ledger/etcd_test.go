package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostwatchd/hostwatchd/internal/testutil"
)

func TestEtcdLedgerContract(t *testing.T) {
	cluster := testutil.StartEmbeddedEtcd(t)

	l, err := NewEtcd(EtcdOptions{
		Endpoints: cluster.Endpoints,
		Namespace: "hostwatchd",
		NodeName:  "web-1",
	})
	require.NoError(t, err)
	defer l.Close()

	exerciseLedger(t, l)
}

func TestEtcdLedgerIsolatesNodes(t *testing.T) {
	cluster := testutil.StartEmbeddedEtcd(t)
	ctx := context.Background()

	a, err := NewEtcd(EtcdOptions{Endpoints: cluster.Endpoints, NodeName: "web-1"})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewEtcd(EtcdOptions{Endpoints: cluster.Endpoints, NodeName: "web-2"})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Mark(ctx, DiskID("/")))
	exists, err := b.Exists(ctx, DiskID("/"))
	require.NoError(t, err)
	assert.False(t, exists)

	ids, err := b.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestEtcdLedgerRecordsExpireWithTTL(t *testing.T) {
	cluster := testutil.StartEmbeddedEtcd(t)
	ctx := context.Background()

	l, err := NewEtcd(EtcdOptions{Endpoints: cluster.Endpoints, NodeName: "web-1", TTL: time.Second})
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Mark(ctx, ServiceID("myapp")))
	exists, err := l.Exists(ctx, ServiceID("myapp"))
	require.NoError(t, err)
	require.True(t, exists)

	assert.Eventually(t, func() bool {
		exists, err := l.Exists(ctx, ServiceID("myapp"))
		return err == nil && !exists
	}, 5*time.Second, 100*time.Millisecond)
}

func TestNewEtcdValidatesOptions(t *testing.T) {
	_, err := NewEtcd(EtcdOptions{NodeName: "web-1"})
	assert.Error(t, err)
	_, err = NewEtcd(EtcdOptions{Endpoints: []string{"127.0.0.1:2379"}})
	assert.Error(t, err)
	_, err = NewEtcd(EtcdOptions{Endpoints: []string{"127.0.0.1:2379"}, NodeName: "web-1", TTL: -time.Second})
	assert.Error(t, err)
}
