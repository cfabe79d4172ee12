package timeout

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/txland/service/cancel"
)

// mockValidator implements BlockhashValidator with a scripted sequence of
// results. Once the script runs out, the last entry repeats.
type mockValidator struct {
	mu      sync.Mutex
	results []bool
	errs    []error
	calls   int
}

func (m *mockValidator) BlockhashValid(ctx context.Context, hash solana.Hash, commitment rpc.CommitmentType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	if i >= len(m.results) {
		i = len(m.results) - 1
	}
	var err error
	if i < len(m.errs) {
		err = m.errs[i]
	}
	return m.results[i], err
}

func (m *mockValidator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testHash() solana.Hash {
	return solana.MustHashFromBase58("GfVcyD4kkTrj4bKc7WA9sZCin9JDbdT4Zkd3EittNR1W")
}

func TestStaticPolicy_FiresAfterTimeout(t *testing.T) {
	policy, err := FromConfig(Static(50*time.Millisecond), nil, testLogger())
	require.NoError(t, err)

	token := cancel.NewToken()
	var fired atomic.Bool
	policy.Arm(context.Background(), token, func() { fired.Store(true) })

	select {
	case <-token.Done():
	case <-time.After(time.Second):
		t.Fatal("static policy never fired")
	}

	assert.True(t, fired.Load(), "onTimeout must run before the token fires")
	assert.True(t, token.Fired())
}

func TestStaticPolicy_CancelledByEarlierTrigger(t *testing.T) {
	policy, err := FromConfig(Static(30*time.Millisecond), nil, testLogger())
	require.NoError(t, err)

	token := cancel.NewToken()
	var fired atomic.Bool
	policy.Arm(context.Background(), token, func() { fired.Store(true) })

	// Something else wins the race.
	token.Trigger()

	time.Sleep(80 * time.Millisecond)
	assert.False(t, fired.Load(), "onTimeout must not run when the token fired first")
}

func TestExpirationPolicy_FiresWhenBlockhashExpires(t *testing.T) {
	validator := &mockValidator{results: []bool{true, true, false}}
	cfg := Expiration(testHash(), rpc.CommitmentConfirmed)
	cfg.ExpirationPollInterval = 10 * time.Millisecond

	policy, err := FromConfig(cfg, validator, testLogger())
	require.NoError(t, err)

	token := cancel.NewToken()
	var fired atomic.Bool
	policy.Arm(context.Background(), token, func() { fired.Store(true) })

	select {
	case <-token.Done():
	case <-time.After(time.Second):
		t.Fatal("expiration policy never fired")
	}

	assert.True(t, fired.Load())
	assert.Equal(t, 3, validator.callCount(), "should fire on the first invalid observation")
}

func TestExpirationPolicy_StopsWhenTokenFires(t *testing.T) {
	validator := &mockValidator{results: []bool{true}}
	cfg := Expiration(testHash(), rpc.CommitmentConfirmed)
	cfg.ExpirationPollInterval = 10 * time.Millisecond

	policy, err := FromConfig(cfg, validator, testLogger())
	require.NoError(t, err)

	token := cancel.NewToken()
	var fired atomic.Bool
	policy.Arm(context.Background(), token, func() { fired.Store(true) })

	time.Sleep(25 * time.Millisecond)
	token.Trigger()
	calls := validator.callCount()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.LessOrEqual(t, validator.callCount(), calls+1, "polling must stop once the token fires")
}

func TestExpirationPolicy_AbsorbsValidatorErrors(t *testing.T) {
	validator := &mockValidator{
		results: []bool{false, false},
		errs:    []error{assert.AnError, nil},
	}
	cfg := Expiration(testHash(), rpc.CommitmentConfirmed)
	cfg.ExpirationPollInterval = 10 * time.Millisecond

	policy, err := FromConfig(cfg, validator, testLogger())
	require.NoError(t, err)

	token := cancel.NewToken()
	var fired atomic.Bool
	policy.Arm(context.Background(), token, func() { fired.Store(true) })

	select {
	case <-token.Done():
	case <-time.After(time.Second):
		t.Fatal("expiration policy never fired")
	}

	// First poll errored (absorbed), second reported invalid.
	assert.True(t, fired.Load())
	assert.Equal(t, 2, validator.callCount())
}

func TestNonePolicy_NeverFires(t *testing.T) {
	policy, err := FromConfig(None(), nil, testLogger())
	require.NoError(t, err)

	token := cancel.NewToken()
	var fired atomic.Bool
	policy.Arm(context.Background(), token, func() { fired.Store(true) })

	time.Sleep(30 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.False(t, token.Fired())
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Static(time.Second).Validate())
	assert.Error(t, Static(0).Validate())
	assert.Error(t, Config{Type: TypeExpiration}.Validate(), "expiration requires a blockhash")
	assert.NoError(t, Expiration(testHash(), "").Validate())
	assert.NoError(t, None().Validate())
	assert.Error(t, Config{Type: "bogus"}.Validate())
}

func TestFromConfig_ExpirationRequiresValidator(t *testing.T) {
	_, err := FromConfig(Expiration(testHash(), ""), nil, testLogger())
	require.Error(t, err)
}

func TestConfigString(t *testing.T) {
	assert.Equal(t, "static 5s", Static(5*time.Second).String())
	assert.Equal(t, "none", None().String())
	assert.Contains(t, Expiration(testHash(), "").String(), testHash().String())
}
