package solana

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/brojonat/txland/service/confirm"
	"github.com/brojonat/txland/service/metrics"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	SendRawTransactionWithOpts(
		ctx context.Context,
		serializedTx []byte,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		sigs ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)

	IsBlockhashValid(
		ctx context.Context,
		blockhash solana.Hash,
		commitment rpc.CommitmentType,
	) (*rpc.IsValidBlockhashResult, error)

	SimulateTransactionWithOpts(
		ctx context.Context,
		tx *solana.Transaction,
		opts *rpc.SimulateTransactionOpts,
	) (*rpc.SimulateTransactionResponse, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	GetRecentPrioritizationFees(
		ctx context.Context,
		accounts solana.PublicKeySlice,
	) ([]rpc.PriorizationFeeResult, error)
}

// SignatureSubscription is the websocket subscription handle we consume.
// Signature subscriptions deliver at most one notification.
type SignatureSubscription interface {
	Recv(ctx context.Context) (*NotificationResult, error)
	Unsubscribe()
}

// NotificationResult is the payload of a signature notification: the on-chain
// execution error, or nil on success.
type NotificationResult struct {
	Err interface{}
}

// WSClient is an interface for the websocket operations we need.
type WSClient interface {
	SignatureSubscribe(sig solana.Signature, commitment rpc.CommitmentType) (SignatureSubscription, error)
	Close() error
}

// BroadcastOpts controls how raw transaction bytes are sent.
type BroadcastOpts struct {
	SkipPreflight       bool
	PreflightCommitment rpc.CommitmentType
	MaxRetries          *uint
}

// Client wraps the Solana RPC and websocket clients with the operations the
// submission core needs, instrumented with logging and metrics.
type Client struct {
	rpc     RPCClient
	ws      WSClient
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a new Solana client. ws may be nil when no websocket
// endpoint is available; confirmation then relies on polling alone.
// If m is nil, no metrics are recorded.
func NewClient(rpcClient RPCClient, wsClient WSClient, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:     rpcClient,
		ws:      wsClient,
		logger:  logger,
		metrics: m,
	}
}

// BroadcastRaw sends serialized transaction bytes to the cluster.
// It is best-effort: the caller decides whether an error is fatal.
func (c *Client) BroadcastRaw(ctx context.Context, raw []byte, opts BroadcastOpts) (solana.Signature, error) {
	txOpts := rpc.TransactionOpts{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: opts.PreflightCommitment,
		MaxRetries:          opts.MaxRetries,
	}

	start := time.Now()
	sig, err := c.rpc.SendRawTransactionWithOpts(ctx, raw, txOpts)
	c.record("sendTransaction", err, time.Since(start))

	if err != nil {
		return sig, err
	}

	c.logger.DebugContext(ctx, "broadcast raw transaction",
		"signature", sig.String(),
		"skip_preflight", opts.SkipPreflight,
	)
	return sig, nil
}

// SignatureStatuses returns the current status for each signature, in input
// order. Entries are nil when the cluster has not seen the signature yet.
func (c *Client) SignatureStatuses(ctx context.Context, sigs ...solana.Signature) ([]*rpc.SignatureStatusesResult, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sigs...)
	c.record("getSignatureStatuses", err, time.Since(start))

	if err != nil {
		return nil, err
	}
	return out.Value, nil
}

// SubscribeSignature opens one websocket subscription for status-change
// notifications on sig at the given commitment. The returned subscription
// satisfies the confirmation watcher's contract.
func (c *Client) SubscribeSignature(ctx context.Context, sig solana.Signature, commitment rpc.CommitmentType) (confirm.Subscription, error) {
	if c.ws == nil {
		return nil, ErrNoWebsocket
	}

	sub, err := c.ws.SignatureSubscribe(sig, commitment)
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "signature subscription established",
		"signature", sig.String(),
		"commitment", commitment,
	)
	return &subscriptionAdapter{sub: sub}, nil
}

// BlockhashValid reports whether the blockhash is still usable for new
// transactions at the given commitment.
func (c *Client) BlockhashValid(ctx context.Context, hash solana.Hash, commitment rpc.CommitmentType) (bool, error) {
	start := time.Now()
	out, err := c.rpc.IsBlockhashValid(ctx, hash, commitment)
	c.record("isBlockhashValid", err, time.Since(start))

	if err != nil {
		return false, err
	}
	return out.Value, nil
}

// Simulate runs the transaction against the cluster without landing it.
// Used for best-effort failure diagnostics only.
func (c *Client) Simulate(ctx context.Context, tx *solana.Transaction, commitment rpc.CommitmentType) (*rpc.SimulateTransactionResult, error) {
	start := time.Now()
	out, err := c.rpc.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		ReplaceRecentBlockhash: true,
		Commitment:             commitment,
	})
	c.record("simulateTransaction", err, time.Since(start))

	if err != nil {
		return nil, err
	}
	return out.Value, nil
}

// RecentBlockhash fetches the latest blockhash and its last valid block
// height at the given commitment.
func (c *Client) RecentBlockhash(ctx context.Context, commitment rpc.CommitmentType) (solana.Hash, uint64, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, commitment)
	c.record("getLatestBlockhash", err, time.Since(start))

	if err != nil {
		return solana.Hash{}, 0, err
	}
	return out.Value.Blockhash, out.Value.LastValidBlockHeight, nil
}

// RecentPrioritizationFees returns the cluster's recent per-slot
// prioritization fees for the given writable accounts.
func (c *Client) RecentPrioritizationFees(ctx context.Context, accounts solana.PublicKeySlice) ([]rpc.PriorizationFeeResult, error) {
	start := time.Now()
	out, err := c.rpc.GetRecentPrioritizationFees(ctx, accounts)
	c.record("getRecentPrioritizationFees", err, time.Since(start))

	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) record(method string, err error, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, elapsed.Seconds())
}

// subscriptionAdapter maps the raw websocket notification payload onto the
// confirmation watcher's notification type.
type subscriptionAdapter struct {
	sub SignatureSubscription
}

func (a *subscriptionAdapter) Recv(ctx context.Context) (*confirm.Notification, error) {
	res, err := a.sub.Recv(ctx)
	if err != nil {
		return nil, err
	}
	return &confirm.Notification{Err: res.Err}, nil
}

func (a *subscriptionAdapter) Unsubscribe() {
	a.sub.Unsubscribe()
}

// alreadyProcessedMarkers is the whitelist of broadcast error substrings that
// mean the cluster has already accepted this exact transaction. Such errors
// are benign for re-broadcast: the earlier send succeeded.
var alreadyProcessedMarkers = []string{
	"already been processed",
	"AlreadyProcessed",
}

// IsAlreadyProcessed reports whether a broadcast error means the transaction
// was already accepted by the cluster.
func IsAlreadyProcessed(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range alreadyProcessedMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
