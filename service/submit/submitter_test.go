package submit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/txland/service/confirm"
	solanaclient "github.com/brojonat/txland/service/solana"
	"github.com/brojonat/txland/service/timeout"
)

// mockConn implements Connection with scripted behavior.
type mockConn struct {
	mu           sync.Mutex
	broadcasts   int
	broadcastErr error
	validResults []bool
	validCalls   int
	simResult    *rpc.SimulateTransactionResult
	simErr       error
	simCalls     int
}

func (m *mockConn) BroadcastRaw(ctx context.Context, raw []byte, opts solanaclient.BroadcastOpts) (solana.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts++
	return solana.Signature{}, m.broadcastErr
}

func (m *mockConn) BlockhashValid(ctx context.Context, hash solana.Hash, commitment rpc.CommitmentType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.validCalls
	m.validCalls++
	if len(m.validResults) == 0 {
		return true, nil
	}
	if i >= len(m.validResults) {
		i = len(m.validResults) - 1
	}
	return m.validResults[i], nil
}

func (m *mockConn) Simulate(ctx context.Context, tx *solana.Transaction, commitment rpc.CommitmentType) (*rpc.SimulateTransactionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.simCalls++
	return m.simResult, m.simErr
}

func (m *mockConn) broadcastCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broadcasts
}

func (m *mockConn) simulateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.simCalls
}

// mockStatusSource serves a scripted sequence of poll responses for the
// watcher's pull path; once the script runs out, the last response repeats.
type mockStatusSource struct {
	mu        sync.Mutex
	responses [][]*rpc.SignatureStatusesResult
	calls     int
}

func (m *mockStatusSource) SignatureStatuses(ctx context.Context, sigs ...solana.Signature) ([]*rpc.SignatureStatusesResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	if len(m.responses) == 0 {
		return []*rpc.SignatureStatusesResult{nil}, nil
	}
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSubmitter(conn *mockConn, source confirm.StatusSource) *Submitter {
	watcher := confirm.NewWatcher(source, nil, nil, testLogger())
	return NewSubmitter(conn, watcher, nil, testLogger())
}

// testTransaction builds a minimal signed legacy transaction with the given
// number of instructions.
func testTransaction(t *testing.T, numInstructions int) *solana.Transaction {
	t.Helper()

	payer := solana.MustPublicKeyFromBase58("9aE476sH92Vz7DMPyq5WLPkrKWivxeuTKEFKd2sZZcde")
	instrs := make([]solana.CompiledInstruction, numInstructions)
	for i := range instrs {
		instrs[i] = solana.CompiledInstruction{
			ProgramIDIndex: 1,
			Accounts:       []uint16{0},
			Data:           []byte{byte(i)},
		}
	}

	sig := solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
	return &solana.Transaction{
		Signatures: []solana.Signature{sig},
		Message: solana.Message{
			Header: solana.MessageHeader{
				NumRequiredSignatures: 1,
			},
			AccountKeys:     []solana.PublicKey{payer, solana.SystemProgramID},
			RecentBlockhash: solana.MustHashFromBase58("GfVcyD4kkTrj4bKc7WA9sZCin9JDbdT4Zkd3EittNR1W"),
			Instructions:    instrs,
		},
	}
}

func confirmedStatus() [][]*rpc.SignatureStatusesResult {
	return [][]*rpc.SignatureStatusesResult{
		{{ConfirmationStatus: rpc.ConfirmationStatusConfirmed}},
	}
}

func fastConfig(cfg timeout.Config) timeout.Config {
	cfg.StatusPollInterval = 10 * time.Millisecond
	cfg.ResendInterval = 10 * time.Millisecond
	return cfg
}

func TestSubmitAndConfirm_IdentifierIsFirstSignature(t *testing.T) {
	tx := testTransaction(t, 1)
	conn := &mockConn{}
	submitter := newTestSubmitter(conn, &mockStatusSource{responses: confirmedStatus()})

	sig, err := submitter.SubmitAndConfirm(context.Background(), tx, fastConfig(timeout.Static(5*time.Second)), nil)

	require.NoError(t, err)
	assert.Equal(t, tx.Signatures[0], sig)
	assert.Equal(t, tx.Signatures[0].String(), sig.String())
}

func TestSubmitAndConfirm_NoSignatures(t *testing.T) {
	tx := testTransaction(t, 1)
	tx.Signatures = nil
	conn := &mockConn{}
	submitter := newTestSubmitter(conn, &mockStatusSource{})

	_, err := submitter.SubmitAndConfirm(context.Background(), tx, timeout.Static(time.Second), nil)

	var sigErr *SignatureError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, 0, conn.broadcastCount(), "must fail before any network call")
}

func TestSubmitAndConfirm_EmptyFirstSignature(t *testing.T) {
	tx := testTransaction(t, 1)
	tx.Signatures = []solana.Signature{{}}
	conn := &mockConn{}
	submitter := newTestSubmitter(conn, &mockStatusSource{})

	_, err := submitter.SubmitAndConfirm(context.Background(), tx, timeout.Static(time.Second), nil)

	var sigErr *SignatureError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, 0, conn.broadcastCount())
}

func TestSubmitAndConfirm_NonePolicy(t *testing.T) {
	tx := testTransaction(t, 1)
	conn := &mockConn{}
	// The status source would never resolve; "none" must not consult it.
	submitter := newTestSubmitter(conn, &mockStatusSource{})

	start := time.Now()
	sig, err := submitter.SubmitAndConfirm(context.Background(), tx, timeout.None(), nil)

	require.NoError(t, err)
	assert.Equal(t, tx.Signatures[0], sig)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, conn.broadcastCount())

	// No resubmission after the early return.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, conn.broadcastCount())
}

func TestSubmitAndConfirm_StaticTimeout(t *testing.T) {
	tx := testTransaction(t, 1)
	conn := &mockConn{}
	// Confirmation never arrives.
	submitter := newTestSubmitter(conn, &mockStatusSource{})

	cfg := fastConfig(timeout.Static(100 * time.Millisecond))
	start := time.Now()
	sig, err := submitter.SubmitAndConfirm(context.Background(), tx, cfg, nil)
	elapsed := time.Since(start)

	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, tx.Signatures[0], sig)
	assert.Equal(t, tx.Signatures[0], terr.Signature)
	assert.Contains(t, terr.Policy, "static")
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestSubmitAndConfirm_ExpirationTimeout(t *testing.T) {
	tx := testTransaction(t, 1)
	conn := &mockConn{validResults: []bool{true, true, false}}
	submitter := newTestSubmitter(conn, &mockStatusSource{})

	cfg := fastConfig(timeout.Expiration(tx.Message.RecentBlockhash, rpc.CommitmentConfirmed))
	cfg.ExpirationPollInterval = 10 * time.Millisecond
	_, err := submitter.SubmitAndConfirm(context.Background(), tx, cfg, nil)

	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Contains(t, terr.Policy, tx.Message.RecentBlockhash.String())
}

func TestSubmitAndConfirm_OnChainFailureWithInstructionIndex(t *testing.T) {
	tx := testTransaction(t, 3)
	conn := &mockConn{
		simResult: &rpc.SimulateTransactionResult{Logs: []string{"Program log: boom"}},
	}
	onChainErr := map[string]interface{}{"InstructionError": []interface{}{float64(2), "Custom"}}
	source := &mockStatusSource{
		responses: [][]*rpc.SignatureStatusesResult{
			{{ConfirmationStatus: rpc.ConfirmationStatusProcessed, Err: onChainErr}},
		},
	}
	submitter := newTestSubmitter(conn, source)

	_, err := submitter.SubmitAndConfirm(context.Background(), tx, fastConfig(timeout.Static(5*time.Second)), nil)

	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	require.NotNil(t, txErr.InstructionIndex)
	assert.Equal(t, 2, *txErr.InstructionIndex)
	require.NotNil(t, txErr.Instruction)
	assert.Equal(t, tx.Message.Instructions[2].Data, txErr.Instruction.Data)
	assert.Equal(t, []string{"Program log: boom"}, txErr.SimulationLogs)
	assert.Equal(t, 1, conn.simulateCount())
}

func TestSubmitAndConfirm_SimulationFailureNeverMasksTransactionError(t *testing.T) {
	tx := testTransaction(t, 1)
	conn := &mockConn{simErr: assert.AnError}
	source := &mockStatusSource{
		responses: [][]*rpc.SignatureStatusesResult{
			{{Err: map[string]interface{}{"InstructionError": []interface{}{float64(0), "Custom"}}}},
		},
	}
	submitter := newTestSubmitter(conn, source)

	_, err := submitter.SubmitAndConfirm(context.Background(), tx, fastConfig(timeout.Static(5*time.Second)), nil)

	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Empty(t, txErr.SimulationLogs)
}

func TestSubmitAndConfirm_InitialBroadcastFailure(t *testing.T) {
	tx := testTransaction(t, 1)
	conn := &mockConn{broadcastErr: errors.New("connection refused")}
	submitter := newTestSubmitter(conn, &mockStatusSource{})

	_, err := submitter.SubmitAndConfirm(context.Background(), tx, timeout.Static(time.Second), nil)

	var bErr *BroadcastError
	require.ErrorAs(t, err, &bErr)
}

func TestSubmitAndConfirm_AlreadyProcessedBroadcastIsBenign(t *testing.T) {
	tx := testTransaction(t, 1)
	conn := &mockConn{broadcastErr: errors.New("This transaction has already been processed")}
	submitter := newTestSubmitter(conn, &mockStatusSource{responses: confirmedStatus()})

	sig, err := submitter.SubmitAndConfirm(context.Background(), tx, fastConfig(timeout.Static(5*time.Second)), nil)

	require.NoError(t, err)
	assert.Equal(t, tx.Signatures[0], sig)
}

func TestSubmitAndConfirm_ContinuousResend(t *testing.T) {
	tx := testTransaction(t, 1)
	conn := &mockConn{}
	// Resolve after a few poll rounds so several re-sends happen first.
	source := &mockStatusSource{
		responses: [][]*rpc.SignatureStatusesResult{
			{nil}, {nil}, {nil}, {nil},
			{{ConfirmationStatus: rpc.ConfirmationStatusConfirmed}},
		},
	}
	submitter := newTestSubmitter(conn, source)

	_, err := submitter.SubmitAndConfirm(context.Background(), tx, fastConfig(timeout.Static(5*time.Second)), nil)
	require.NoError(t, err)

	assert.Greater(t, conn.broadcastCount(), 1, "continuous resend should broadcast more than once")

	// The loop stops once the submission settles.
	count := conn.broadcastCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, conn.broadcastCount())
}

func TestSubmitAndConfirm_SendOnce(t *testing.T) {
	tx := testTransaction(t, 1)
	conn := &mockConn{}
	source := &mockStatusSource{
		responses: [][]*rpc.SignatureStatusesResult{
			{nil}, {nil}, {nil},
			{{ConfirmationStatus: rpc.ConfirmationStatusConfirmed}},
		},
	}
	submitter := newTestSubmitter(conn, source)

	cfg := fastConfig(timeout.Static(5 * time.Second))
	cfg.SendOnce = true
	_, err := submitter.SubmitAndConfirm(context.Background(), tx, cfg, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, conn.broadcastCount())
}

func TestSubmitAndConfirm_EventSequence(t *testing.T) {
	tx := testTransaction(t, 1)
	conn := &mockConn{}
	submitter := newTestSubmitter(conn, &mockStatusSource{responses: confirmedStatus()})

	var mu sync.Mutex
	var events []Event
	sink := func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}

	_, err := submitter.SubmitAndConfirm(context.Background(), tx, fastConfig(timeout.Static(5*time.Second)), sink)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, string(ev.Type)+"/"+string(ev.Phase))
		assert.Equal(t, tx.Signatures[0], ev.Signature, "every event carries the identifier")
	}
	assert.Contains(t, kinds, "send/pending")
	assert.Contains(t, kinds, "send/completed")
	assert.Contains(t, kinds, "confirm/pending")
	assert.Contains(t, kinds, "confirm/completed")
}

func TestSubmitAndConfirm_ContextCancellation(t *testing.T) {
	tx := testTransaction(t, 1)
	conn := &mockConn{}
	submitter := newTestSubmitter(conn, &mockStatusSource{})

	ctx, cancelCtx := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancelCtx()
	}()

	_, err := submitter.SubmitAndConfirm(ctx, tx, fastConfig(timeout.Static(5*time.Second)), nil)
	require.ErrorIs(t, err, context.Canceled)
}
