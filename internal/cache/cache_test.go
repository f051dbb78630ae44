package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/agriledger/backend/internal/domain"
)

func newTx(id, user string, status domain.Status, created time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:          id,
		FromAddress: "0xa",
		ToAddress:   "0xb",
		Amount:      decimal.NewFromInt(10),
		UserID:      user,
		Status:      status,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestPutAndGetReturnCopies(t *testing.T) {
	c := New(time.Minute, time.Minute)
	tx := newTx("tx_1", "alice", domain.StatusPending, time.Now())
	c.Put(tx)

	tx.Status = domain.StatusFailed
	got, ok := c.Get("tx_1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusPending, got.Status)

	got.Status = domain.StatusConfirmed
	again, _ := c.Get("tx_1")
	assert.Equal(t, domain.StatusPending, again.Status)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestPutNeverRegresses(t *testing.T) {
	c := New(time.Minute, time.Minute)
	now := time.Now()

	confirmed := newTx("tx_1", "alice", domain.StatusConfirmed, now)
	c.Put(confirmed)
	c.Put(newTx("tx_1", "alice", domain.StatusPending, now))

	got, _ := c.Get("tx_1")
	assert.Equal(t, domain.StatusConfirmed, got.Status)

	delivered := confirmed.Clone()
	at := now.Add(time.Second)
	delivered.DeliveredAt = &at
	c.Put(delivered)
	c.Put(confirmed)

	got, _ = c.Get("tx_1")
	assert.True(t, got.Delivered())
}

func TestSnapshotsAreNewestFirst(t *testing.T) {
	c := New(time.Minute, time.Minute)
	base := time.Now()
	c.PutAll([]*domain.Transaction{
		newTx("tx_1", "alice", domain.StatusPending, base),
		newTx("tx_2", "bob", domain.StatusPending, base.Add(time.Second)),
		newTx("tx_3", "alice", domain.StatusConfirmed, base.Add(2*time.Second)),
	})

	all := c.Snapshot()
	require.Len(t, all, 3)
	assert.Equal(t, "tx_3", all[0].ID)
	assert.Equal(t, "tx_1", all[2].ID)

	alice := c.SnapshotByUser("alice")
	require.Len(t, alice, 2)
	assert.Equal(t, "tx_3", alice[0].ID)
	assert.Equal(t, "tx_1", alice[1].ID)

	c.Delete("tx_3")
	assert.Equal(t, 2, c.Len())
}

func TestEntriesExpire(t *testing.T) {
	c := New(10*time.Millisecond, time.Millisecond)
	c.Put(newTx("tx_1", "alice", domain.StatusPending, time.Now()))

	assert.Eventually(t, func() bool {
		_, ok := c.Get("tx_1")
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, c.Snapshot())
}

func TestConcurrentPutsKeepTerminalState(t *testing.T) {
	c := New(time.Minute, time.Minute)
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := domain.StatusPending
			if i == 25 {
				status = domain.StatusConfirmed
			}
			c.Put(newTx("tx_1", fmt.Sprintf("user-%d", i%2), status, now))
		}(i)
	}
	wg.Wait()

	got, ok := c.Get("tx_1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
}
