package points

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leafsii/lp-points/internal/chain"
	"github.com/leafsii/lp-points/internal/rates"
	"github.com/leafsii/lp-points/internal/snapshot"
	"github.com/leafsii/lp-points/pkg/kv/memory"
)

type dispatcherFixture struct {
	dispatcher *Dispatcher
	store      snapshot.Store
	rates      *fakeRates
	reader     *fakeReader
	emitted    *recorder
}

func newDispatcherFixture(t *testing.T, store snapshot.Store) *dispatcherFixture {
	t.Helper()
	if store == nil {
		backend := memory.New(0)
		t.Cleanup(func() { backend.Close() })
		store = snapshot.NewKVStore(backend)
	}

	f := &dispatcherFixture{
		store:   store,
		rates:   newFakeRates(),
		reader:  newFakeReader(),
		emitted: &recorder{},
	}
	engine := newTestEngine(t, f.rates, nil)
	f.dispatcher = NewDispatcher(engine, store, f.reader, f.emitted, nil, zap.NewNop().Sugar(), 4)
	t.Cleanup(f.dispatcher.Close)
	return f
}

func (f *dispatcherFixture) snapshot(t *testing.T, account common.Address) *snapshot.Snapshot {
	t.Helper()
	snap, err := f.store.Get(context.Background(), snapshot.Key{Pool: testPool, Account: account})
	require.NoError(t, err)
	return snap
}

func addLiquidity(account common.Address, b chain.BlockRef) chain.Trigger {
	return chain.Trigger{Kind: chain.KindAddLiquidity, Block: b, Provider: account}
}

func interval(b chain.BlockRef) chain.Trigger {
	return chain.Trigger{Kind: chain.KindTimeInterval, Block: b}
}

func transfer(from, to common.Address, b chain.BlockRef) chain.Trigger {
	return chain.Trigger{Kind: chain.KindTransfer, Block: b, Sender: from, Receiver: to, Value: big.NewInt(1)}
}

func TestDispatcherBaselineThenAccrual(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	ctx := context.Background()
	f.reader.set(alice, standardPosition())

	res, err := f.dispatcher.Handle(ctx, addLiquidity(alice, block(100, 0)))
	require.NoError(t, err)
	require.Len(t, res.Accounts, 1)
	require.NoError(t, res.Err())
	assert.Equal(t, OutcomeBaseline, res.Accounts[0].Accrual.Outcome)

	snap := f.snapshot(t, alice)
	assert.Equal(t, int64(0), snap.TimestampMilli)
	assert.Equal(t, uint64(100), snap.BlockNumber)

	res, err = f.dispatcher.Handle(ctx, interval(block(7300, day)))
	require.NoError(t, err)
	require.Len(t, res.Accounts, 1)
	require.NoError(t, res.Err())
	assertDecimal(t, "24600", res.Accounts[0].Accrual.Pearls)
	assertDecimal(t, "12000", res.Accounts[0].Accrual.ELPoints)

	snap = f.snapshot(t, alice)
	assert.Equal(t, day, snap.TimestampMilli)

	records := f.emitted.all()
	require.Len(t, records, 2)
	assert.Nil(t, records[0].Previous)
	require.NotNil(t, records[1].Previous)
	assert.Equal(t, int64(0), records[1].Previous.TimestampMilli)
	assert.Equal(t, day, records[1].Current.TimestampMilli)
	assert.Equal(t, chain.KindTimeInterval, records[1].Trigger)
	assert.NotEqual(t, records[0].ID, records[1].ID)
}

func TestDispatcherSameBlockIsIdempotent(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	ctx := context.Background()
	f.reader.set(alice, standardPosition())

	_, err := f.dispatcher.Handle(ctx, addLiquidity(alice, block(100, 0)))
	require.NoError(t, err)

	first, err := f.dispatcher.Handle(ctx, interval(block(7300, day)))
	require.NoError(t, err)
	second, err := f.dispatcher.Handle(ctx, transfer(alice, bob, block(7300, day)))
	require.NoError(t, err)

	assertDecimal(t, "24600", first.Accounts[0].Accrual.Pearls)
	for _, a := range second.Accounts {
		if a.Account == alice {
			assert.Equal(t, OutcomeDuplicate, a.Accrual.Outcome)
			assert.True(t, a.Accrual.Pearls.IsZero())
		}
	}
}

func TestDispatcherOutOfOrderStillRefreshes(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	ctx := context.Background()
	f.reader.set(alice, standardPosition())

	_, err := f.dispatcher.Handle(ctx, addLiquidity(alice, block(200, 2*day)))
	require.NoError(t, err)

	res, err := f.dispatcher.Handle(ctx, addLiquidity(alice, block(100, day)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeOutOfOrder, res.Accounts[0].Accrual.Outcome)
	assert.Equal(t, day, f.snapshot(t, alice).TimestampMilli)
}

func TestDispatcherRateFailureKeepsSnapshot(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	ctx := context.Background()
	f.reader.set(alice, standardPosition())

	_, err := f.dispatcher.Handle(ctx, addLiquidity(alice, block(100, 0)))
	require.NoError(t, err)

	f.rates.fail(fmt.Errorf("revert: %w", rates.ErrRateUnavailable))
	res, err := f.dispatcher.Handle(ctx, interval(block(7300, day)))
	require.NoError(t, err)
	require.Len(t, res.Failed(), 1)
	assert.ErrorIs(t, res.Err(), rates.ErrRateUnavailable)
	assert.Equal(t, int64(0), f.snapshot(t, alice).TimestampMilli)
	assert.Len(t, f.emitted.all(), 1)

	// the next trigger retries from the preserved baseline
	f.rates.fail(nil)
	res, err = f.dispatcher.Handle(ctx, interval(block(14500, 2*day)))
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assertDecimal(t, "49200", res.Accounts[0].Accrual.Pearls)
}

func TestDispatcherIsolatesAccounts(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	ctx := context.Background()
	for _, acct := range []common.Address{alice, bob, carol} {
		f.reader.set(acct, standardPosition())
		_, err := f.dispatcher.Handle(ctx, addLiquidity(acct, block(100, 0)))
		require.NoError(t, err)
	}

	f.reader.failFor(bob, errBoom)
	res, err := f.dispatcher.Handle(ctx, interval(block(7300, day)))
	require.NoError(t, err)
	require.Len(t, res.Accounts, 3)

	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, bob, failed[0].Account)
	assert.ErrorIs(t, failed[0].Err, errBoom)

	assert.Equal(t, day, f.snapshot(t, alice).TimestampMilli)
	assert.Equal(t, int64(0), f.snapshot(t, bob).TimestampMilli)
	assert.Equal(t, day, f.snapshot(t, carol).TimestampMilli)
}

func TestDispatcherAffectedAccounts(t *testing.T) {
	tests := []struct {
		name        string
		trigger     chain.Trigger
		wantSkipped bool
		want        []common.Address
	}{
		{
			name:    "add liquidity",
			trigger: addLiquidity(alice, block(1, 12_000)),
			want:    []common.Address{alice},
		},
		{
			name:    "remove liquidity one",
			trigger: chain.Trigger{Kind: chain.KindRemoveLiquidityOne, Block: block(1, 12_000), Provider: bob},
			want:    []common.Address{bob},
		},
		{
			name:        "liquidity from zero address",
			trigger:     addLiquidity(common.Address{}, block(1, 12_000)),
			wantSkipped: true,
		},
		{
			name:    "transfer between holders",
			trigger: transfer(alice, bob, block(1, 12_000)),
			want:    []common.Address{alice, bob},
		},
		{
			name:    "transfer to self",
			trigger: transfer(alice, alice, block(1, 12_000)),
			want:    []common.Address{alice},
		},
		{
			name:        "mint",
			trigger:     transfer(common.Address{}, alice, block(1, 12_000)),
			wantSkipped: true,
		},
		{
			name:        "transfer into pool",
			trigger:     transfer(alice, testPool, block(1, 12_000)),
			wantSkipped: true,
		},
		{
			name:        "stake into gauge",
			trigger:     transfer(alice, gauge, block(1, 12_000)),
			wantSkipped: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatcherFixture(t, nil)
			res, err := f.dispatcher.Handle(context.Background(), tt.trigger)
			require.NoError(t, err)

			if tt.wantSkipped {
				assert.NotEmpty(t, res.Skipped)
				assert.Empty(t, res.Accounts)
				assert.Empty(t, f.emitted.all())
				return
			}

			var got []common.Address
			for _, a := range res.Accounts {
				require.NoError(t, a.Err)
				got = append(got, a.Account)
			}
			assert.ElementsMatch(t, tt.want, got)
			for _, acct := range tt.want {
				assert.Equal(t, 1, f.reader.readCount(acct))
			}
		})
	}
}

func TestDispatcherExchangeTouchesOnlyThisPool(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	ctx := context.Background()

	for _, acct := range []common.Address{alice, bob} {
		f.reader.set(acct, standardPosition())
		_, err := f.dispatcher.Handle(ctx, addLiquidity(acct, block(100, 0)))
		require.NoError(t, err)
	}
	foreign := snapshotAt(carol, 0, standardPosition())
	foreign.Pool = otherPool
	require.NoError(t, f.store.Upsert(ctx, foreign))

	res, err := f.dispatcher.Handle(ctx, chain.Trigger{
		Kind:         chain.KindTokenExchange,
		Block:        block(200, day),
		Provider:     carol,
		SoldID:       0,
		BoughtID:     1,
		TokensSold:   ether(10),
		TokensBought: ether(10),
	})
	require.NoError(t, err)

	var got []common.Address
	for _, a := range res.Accounts {
		got = append(got, a.Account)
	}
	assert.ElementsMatch(t, []common.Address{alice, bob}, got)
	assert.Zero(t, f.reader.readCount(carol))

	untouched, err := f.store.Get(ctx, foreign.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), untouched.TimestampMilli)
}

func TestDispatcherListFailureIsTriggerError(t *testing.T) {
	backend := memory.New(0)
	defer backend.Close()
	f := newDispatcherFixture(t, listFailingStore{Store: snapshot.NewKVStore(backend)})

	_, err := f.dispatcher.Handle(context.Background(), interval(block(1, day)))
	assert.ErrorIs(t, err, errBoom)
}

func TestDispatcherStoreFailures(t *testing.T) {
	backend := memory.New(0)
	defer backend.Close()
	f := newDispatcherFixture(t, upsertFailingStore{Store: snapshot.NewKVStore(backend)})
	f.reader.set(alice, standardPosition())

	res, err := f.dispatcher.Handle(context.Background(), addLiquidity(alice, block(1, day)))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err(), errBoom)
	assert.Empty(t, f.emitted.all())
}

func TestDispatcherRejectsInvalidPosition(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.reader.set(alice, chain.Position{
		LptBalance: ether(2),
		LptSupply:  ether(1),
		ReserveA:   ether(1),
		ReserveB:   ether(1),
	})

	res, err := f.dispatcher.Handle(context.Background(), addLiquidity(alice, block(1, day)))
	require.NoError(t, err)
	assert.Error(t, res.Err())

	_, err = f.store.Get(context.Background(), snapshot.Key{Pool: testPool, Account: alice})
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
}

func TestDispatcherEmitErrorDoesNotFailAccount(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.emitted.err = errBoom
	f.reader.set(alice, standardPosition())

	res, err := f.dispatcher.Handle(context.Background(), addLiquidity(alice, block(1, day)))
	require.NoError(t, err)
	assert.NoError(t, res.Err())
	assert.Equal(t, day, f.snapshot(t, alice).TimestampMilli)
}

func TestDispatcherUnsupportedKind(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	_, err := f.dispatcher.Handle(context.Background(), chain.Trigger{Kind: "Approval"})
	assert.Error(t, err)
}

func TestDispatcherCanceledContext(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.dispatcher.Handle(ctx, addLiquidity(alice, block(1, day)))
	require.NoError(t, err)
	require.Len(t, res.Accounts, 1)
	assert.True(t, errors.Is(res.Accounts[0].Err, context.Canceled))
}

type listFailingStore struct {
	snapshot.Store
}

func (listFailingStore) List(context.Context, common.Address) ([]*snapshot.Snapshot, error) {
	return nil, errBoom
}

type upsertFailingStore struct {
	snapshot.Store
}

func (upsertFailingStore) Upsert(context.Context, *snapshot.Snapshot) error {
	return errBoom
}
