package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	sendSig        solana.Signature
	sendErr        error
	statuses       []*rpc.SignatureStatusesResult
	statusesErr    error
	blockhashValid bool
	blockhashErr   error
	simulateResult *rpc.SimulateTransactionResult
	simulateErr    error
	blockhash      solana.Hash
	lastValid      uint64
	fees           []rpc.PriorizationFeeResult
}

func (m *mockRPCClient) SendRawTransactionWithOpts(
	ctx context.Context,
	serializedTx []byte,
	opts rpc.TransactionOpts,
) (solana.Signature, error) {
	return m.sendSig, m.sendErr
}

func (m *mockRPCClient) GetSignatureStatuses(
	ctx context.Context,
	searchTransactionHistory bool,
	sigs ...solana.Signature,
) (*rpc.GetSignatureStatusesResult, error) {
	if m.statusesErr != nil {
		return nil, m.statusesErr
	}
	return &rpc.GetSignatureStatusesResult{Value: m.statuses}, nil
}

func (m *mockRPCClient) IsBlockhashValid(
	ctx context.Context,
	blockhash solana.Hash,
	commitment rpc.CommitmentType,
) (*rpc.IsValidBlockhashResult, error) {
	if m.blockhashErr != nil {
		return nil, m.blockhashErr
	}
	return &rpc.IsValidBlockhashResult{Value: m.blockhashValid}, nil
}

func (m *mockRPCClient) SimulateTransactionWithOpts(
	ctx context.Context,
	tx *solana.Transaction,
	opts *rpc.SimulateTransactionOpts,
) (*rpc.SimulateTransactionResponse, error) {
	if m.simulateErr != nil {
		return nil, m.simulateErr
	}
	return &rpc.SimulateTransactionResponse{Value: m.simulateResult}, nil
}

func (m *mockRPCClient) GetLatestBlockhash(
	ctx context.Context,
	commitment rpc.CommitmentType,
) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash:            m.blockhash,
			LastValidBlockHeight: m.lastValid,
		},
	}, nil
}

func (m *mockRPCClient) GetRecentPrioritizationFees(
	ctx context.Context,
	accounts solana.PublicKeySlice,
) ([]rpc.PriorizationFeeResult, error) {
	return m.fees, nil
}

func newTestClient(mock *mockRPCClient) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(mock, nil, nil, logger)
}

func TestBroadcastRaw(t *testing.T) {
	ctx := context.Background()

	sig := solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
	mock := &mockRPCClient{sendSig: sig}
	client := newTestClient(mock)

	got, err := client.BroadcastRaw(ctx, []byte{1, 2, 3}, BroadcastOpts{SkipPreflight: true})

	require.NoError(t, err)
	assert.Equal(t, sig, got)
}

func TestBroadcastRaw_Error(t *testing.T) {
	ctx := context.Background()

	mock := &mockRPCClient{sendErr: assert.AnError}
	client := newTestClient(mock)

	_, err := client.BroadcastRaw(ctx, []byte{1, 2, 3}, BroadcastOpts{})

	require.Error(t, err)
}

func TestSignatureStatuses_NilEntryForUnknownSignature(t *testing.T) {
	ctx := context.Background()

	mock := &mockRPCClient{statuses: []*rpc.SignatureStatusesResult{nil}}
	client := newTestClient(mock)

	sig := solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
	statuses, err := client.SignatureStatuses(ctx, sig)

	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Nil(t, statuses[0])
}

func TestBlockhashValid(t *testing.T) {
	ctx := context.Background()

	mock := &mockRPCClient{blockhashValid: true}
	client := newTestClient(mock)

	valid, err := client.BlockhashValid(ctx, solana.Hash{}, rpc.CommitmentConfirmed)

	require.NoError(t, err)
	assert.True(t, valid)
}

func TestSubscribeSignature_NoWebsocket(t *testing.T) {
	ctx := context.Background()

	client := newTestClient(&mockRPCClient{})

	sig := solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
	_, err := client.SubscribeSignature(ctx, sig, rpc.CommitmentConfirmed)

	require.ErrorIs(t, err, ErrNoWebsocket)
}

func TestIsAlreadyProcessed(t *testing.T) {
	assert.False(t, IsAlreadyProcessed(nil))
	assert.False(t, IsAlreadyProcessed(errors.New("connection refused")))
	assert.True(t, IsAlreadyProcessed(errors.New("Transaction simulation failed: This transaction has already been processed")))
	assert.True(t, IsAlreadyProcessed(errors.New("rpc error: AlreadyProcessed")))
}
