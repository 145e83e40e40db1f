package automation

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aura-oracle/internal/access"
	"aura-oracle/internal/oracle"
	"aura-oracle/internal/report"
)

const day = 24 * time.Hour

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeUpdater struct {
	calls atomic.Int32
	err   error
}

func (f *fakeUpdater) ProcessScheduledUpdate(ctx context.Context, caller common.Address) (report.ReserveReport, error) {
	f.calls.Add(1)
	if f.err != nil {
		return report.ReserveReport{}, f.err
	}
	return report.ReserveReport{Timestamp: 1}, nil
}

type countingProvider struct {
	calls atomic.Int32
}

func (p *countingProvider) FetchLatest(ctx context.Context, pool, asset common.Hash) (*big.Int, *big.Int, error) {
	p.calls.Add(1)
	return big.NewInt(1), big.NewInt(1), nil
}

type memoryState struct {
	mu    sync.Mutex
	saved map[string]time.Time
}

func (m *memoryState) LoadLastRun(ctx context.Context, name string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.saved[name]
	return at, ok, nil
}

func (m *memoryState) SaveLastRun(ctx context.Context, name string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string]time.Time)
	}
	m.saved[name] = at
	return nil
}

func newFacade(t *testing.T, u Updater, clk *clock, state StateStore) *Facade {
	t.Helper()
	f, err := New(Options{MinInterval: day, Now: clk.Now, State: state}, u, zerolog.Nop())
	require.NoError(t, err)
	return f
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{MinInterval: day}, nil, zerolog.Nop())
	require.Error(t, err)
	_, err = New(Options{}, &fakeUpdater{}, zerolog.Nop())
	require.Error(t, err)
}

func TestPerformUpkeepTwiceWithinIntervalIsTooSoon(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	u := &fakeUpdater{}
	f := newFacade(t, u, clk, nil)
	ctx := context.Background()

	_, err := f.PerformUpkeep(ctx)
	require.NoError(t, err)
	assert.Equal(t, clk.Now(), f.LastRun())

	clk.Advance(day - time.Second)
	_, err = f.PerformUpkeep(ctx)
	require.ErrorIs(t, err, ErrTooSoon)
	assert.EqualValues(t, 1, u.calls.Load())

	clk.Advance(time.Second)
	_, err = f.PerformUpkeep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, u.calls.Load())
}

func TestTooSoonDoesNotInvokeProvider(t *testing.T) {
	admin := common.HexToAddress("0xad")
	facadeAddr := common.HexToAddress("0xfa")
	acl := access.NewACL(admin)
	require.NoError(t, acl.Grant(admin, access.Automation, facadeAddr))

	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	p := &countingProvider{}
	coord, err := oracle.NewCoordinator(oracle.Config{
		Registry: oracle.NewMemoryRegistry(),
		Provider: p,
		ACL:      acl,
		Now:      clk.Now,
	}, zerolog.Nop())
	require.NoError(t, err)

	f, err := New(Options{MinInterval: day, Caller: facadeAddr, Now: clk.Now}, coord, zerolog.Nop())
	require.NoError(t, err)

	_, err = f.PerformUpkeep(context.Background())
	require.NoError(t, err)
	_, err = f.PerformUpkeep(context.Background())
	require.ErrorIs(t, err, ErrTooSoon)
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestFailedUpdateDoesNotAdvanceLastRun(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	u := &fakeUpdater{err: errors.New("provider down")}
	f := newFacade(t, u, clk, nil)

	_, err := f.PerformUpkeep(context.Background())
	require.Error(t, err)
	assert.True(t, f.LastRun().IsZero())

	u.err = nil
	_, err = f.PerformUpkeep(context.Background())
	require.NoError(t, err, "a failed run must not consume the interval")
}

func TestRacingUpkeepsAdvanceOnce(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	u := &fakeUpdater{}
	f := newFacade(t, u, clk, nil)

	var wg sync.WaitGroup
	var ok, tooSoon atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.PerformUpkeep(context.Background())
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrTooSoon):
				tooSoon.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 15, tooSoon.Load())
	assert.EqualValues(t, 1, u.calls.Load())
}

func TestCheckUpkeep(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	f := newFacade(t, &fakeUpdater{}, clk, nil)
	ctx := context.Background()

	due, err := f.CheckUpkeep(ctx)
	require.NoError(t, err)
	assert.True(t, due)

	_, err = f.PerformUpkeep(ctx)
	require.NoError(t, err)
	due, err = f.CheckUpkeep(ctx)
	require.NoError(t, err)
	assert.False(t, due)
}

func TestPersistedStateSurvivesRestart(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	state := &memoryState{}

	first := newFacade(t, &fakeUpdater{}, clk, state)
	_, err := first.PerformUpkeep(context.Background())
	require.NoError(t, err)

	clk.Advance(time.Hour)
	restarted := newFacade(t, &fakeUpdater{}, clk, state)
	_, err = restarted.PerformUpkeep(context.Background())
	require.ErrorIs(t, err, ErrTooSoon)
}
