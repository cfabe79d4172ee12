// Package submit contains the transaction submission core: derive the
// identifier from the signed transaction, re-broadcast it in the background,
// await confirmation under a timeout policy, and guarantee exactly one
// cancellation cleans up every subordinate activity.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/brojonat/txland/service/cancel"
	"github.com/brojonat/txland/service/confirm"
	"github.com/brojonat/txland/service/metrics"
	solanaclient "github.com/brojonat/txland/service/solana"
	"github.com/brojonat/txland/service/timeout"
)

// Connection is the slice of the solana client the submitter drives. The
// blockhash validity check doubles as the expiration policy's validator.
type Connection interface {
	BroadcastRaw(ctx context.Context, raw []byte, opts solanaclient.BroadcastOpts) (solana.Signature, error)
	BlockhashValid(ctx context.Context, hash solana.Hash, commitment rpc.CommitmentType) (bool, error)
	Simulate(ctx context.Context, tx *solana.Transaction, commitment rpc.CommitmentType) (*rpc.SimulateTransactionResult, error)
}

// Submitter lands signed transactions on the cluster and reports a single
// terminal outcome per submission.
type Submitter struct {
	conn    Connection
	watcher *confirm.Watcher
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewSubmitter creates a Submitter. If m is nil, no metrics are recorded.
func NewSubmitter(conn Connection, watcher *confirm.Watcher, m *metrics.Metrics, logger *slog.Logger) *Submitter {
	return &Submitter{
		conn:    conn,
		watcher: watcher,
		logger:  logger,
		metrics: m,
	}
}

// SubmitAndConfirm broadcasts the signed transaction and blocks until it
// reaches the configured confirmation level, fails on-chain, or the timeout
// policy fires. The returned signature is the transaction identifier; it is
// valid whenever the signature itself could be derived, even when an error is
// also returned.
//
// The caller receives exactly one of: nil (confirmed, or the "none" policy's
// early return), *SignatureError, *BroadcastError, *TimeoutError,
// *TransactionError, or a context error. sink, when non-nil, observes
// lifecycle events; it must not block.
func (s *Submitter) SubmitAndConfirm(ctx context.Context, tx *solana.Transaction, cfg timeout.Config, sink EventSink) (solana.Signature, error) {
	raw, sig, err := serializeAndDerive(tx)
	if err != nil {
		return solana.Signature{}, err
	}

	policy, err := timeout.FromConfig(cfg, s.conn, s.logger)
	if err != nil {
		return sig, fmt.Errorf("invalid timeout config for transaction %s: %w", sig, err)
	}

	logger := s.logger.With("signature", sig.String())
	logger.InfoContext(ctx, "submitting transaction", "timeout", policy.String())

	if s.metrics != nil {
		s.metrics.RecordSubmissionChange(1)
		defer s.metrics.RecordSubmissionChange(-1)
	}

	// One token per submission attempt. The deferred trigger is the single
	// cleanup point for every exit path: success, timeout, failure, or panic
	// unwinding. Trigger is idempotent, so paths that already fired it are
	// unaffected.
	token := cancel.NewToken()
	defer token.Trigger()

	resend := resendParams{
		raw:       raw,
		signature: sig,
		opts:      broadcastOpts(cfg),
		interval:  resendInterval(cfg),
		sink:      sink,
	}

	// The first broadcast is synchronous so the identifier is on the wire
	// before this call returns, whatever the policy.
	if err := s.broadcastOnce(ctx, resend); err != nil && !solanaclient.IsAlreadyProcessed(err) {
		return sig, &BroadcastError{Signature: sig, Err: err}
	}

	if cfg.Type == timeout.TypeNone {
		logger.DebugContext(ctx, "no confirmation requested, returning after first broadcast")
		return sig, nil
	}

	if !cfg.SendOnce {
		go s.resendLoop(ctx, token, resend)
	}

	var timedOut atomic.Bool
	policy.Arm(ctx, token, func() { timedOut.Store(true) })

	start := time.Now()
	emit(sink, Event{Type: EventConfirm, Phase: PhasePending, Signature: sig})

	status, err := s.watcher.Watch(ctx, token, confirm.WatchParams{
		Signature:           sig,
		Required:            cfg.RequiredLevels,
		SubscribeCommitment: cfg.InitialCommitment,
		PollInterval:        cfg.StatusPollInterval,
		OnProgress: func(st *rpc.SignatureStatusesResult) {
			emit(sink, Event{Type: EventConfirm, Phase: PhaseActive, Signature: sig, Status: st})
		},
	})

	switch {
	case err == nil:
		emit(sink, Event{Type: EventConfirm, Phase: PhaseCompleted, Signature: sig, Status: status})
		s.recordConfirmation("confirmed", start)
		logger.InfoContext(ctx, "transaction confirmed",
			"level", confirmationLevel(status),
			"elapsed", time.Since(start),
		)
		return sig, nil

	case errors.Is(err, confirm.ErrAborted):
		if timedOut.Load() {
			s.recordConfirmation("timeout", start)
			if s.metrics != nil {
				s.metrics.RecordTimeout(string(cfg.Type))
			}
			terr := &TimeoutError{Signature: sig, Policy: policy.String()}
			emit(sink, Event{Type: EventConfirm, Phase: PhaseCompleted, Signature: sig, Err: terr.Error()})
			return sig, terr
		}
		s.recordConfirmation("aborted", start)
		emit(sink, Event{Type: EventConfirm, Phase: PhaseCompleted, Signature: sig, Err: err.Error()})
		return sig, fmt.Errorf("submission of transaction %s: %w", sig, err)

	default:
		var stErr *confirm.StatusError
		if errors.As(err, &stErr) {
			s.recordConfirmation("failed", start)
			txErr := s.buildTransactionError(ctx, tx, sig, cfg, stErr, sink)
			emit(sink, Event{Type: EventConfirm, Phase: PhaseCompleted, Signature: sig, Status: status, Err: txErr.Error()})
			return sig, txErr
		}
		// Context cancellation or another terminal condition from the
		// watcher; pass through.
		s.recordConfirmation("aborted", start)
		emit(sink, Event{Type: EventConfirm, Phase: PhaseCompleted, Signature: sig, Err: err.Error()})
		return sig, err
	}
}

// buildTransactionError converts an on-chain failure into the caller-facing
// error, enriched by a best-effort re-simulation. The simulation's own
// failure is reported as a simulate event and otherwise swallowed; it never
// overrides the original failure.
func (s *Submitter) buildTransactionError(
	ctx context.Context,
	tx *solana.Transaction,
	sig solana.Signature,
	cfg timeout.Config,
	stErr *confirm.StatusError,
	sink EventSink,
) *TransactionError {
	terr := &TransactionError{
		Signature: sig,
		TxErr:     stErr.TxErr,
	}

	if idx := instructionErrorIndex(stErr.TxErr); idx != nil {
		terr.InstructionIndex = idx
		if *idx >= 0 && *idx < len(tx.Message.Instructions) {
			terr.Instruction = &tx.Message.Instructions[*idx]
		}
	}

	emit(sink, Event{Type: EventSimulate, Phase: PhasePending, Signature: sig})
	sim, simErr := s.conn.Simulate(ctx, tx, simulateCommitment(cfg))
	if simErr != nil {
		s.logger.WarnContext(ctx, "re-simulation of failed transaction failed",
			"signature", sig.String(),
			"error", simErr,
		)
		emit(sink, Event{Type: EventSimulate, Phase: PhaseCompleted, Signature: sig, Err: simErr.Error()})
		return terr
	}
	emit(sink, Event{Type: EventSimulate, Phase: PhaseCompleted, Signature: sig, Result: sim})
	if sim != nil {
		terr.SimulationLogs = sim.Logs
	}
	return terr
}

// serializeAndDerive serializes the signed transaction once and derives its
// identifier from the first signature slot. Transactions with no usable
// signature fail here, before any network call.
func serializeAndDerive(tx *solana.Transaction) ([]byte, solana.Signature, error) {
	if tx == nil {
		return nil, solana.Signature{}, &SignatureError{Reason: "transaction is nil"}
	}
	if len(tx.Signatures) == 0 {
		return nil, solana.Signature{}, &SignatureError{Reason: "transaction has no signatures"}
	}
	sig := tx.Signatures[0]
	if sig.IsZero() {
		return nil, solana.Signature{}, &SignatureError{Reason: "first signature slot is empty"}
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, solana.Signature{}, &SignatureError{Reason: fmt.Sprintf("serialization failed: %v", err)}
	}
	return raw, sig, nil
}

func broadcastOpts(cfg timeout.Config) solanaclient.BroadcastOpts {
	return solanaclient.BroadcastOpts{
		// Preflight would re-simulate and reject duplicate sends; the resend
		// loop depends on duplicates being accepted upstream.
		SkipPreflight:       true,
		PreflightCommitment: cfg.InitialCommitment,
	}
}

func resendInterval(cfg timeout.Config) time.Duration {
	if cfg.ResendInterval > 0 {
		return cfg.ResendInterval
	}
	return DefaultResendInterval
}

func simulateCommitment(cfg timeout.Config) rpc.CommitmentType {
	if cfg.InitialCommitment != "" {
		return cfg.InitialCommitment
	}
	return rpc.CommitmentConfirmed
}

func confirmationLevel(status *rpc.SignatureStatusesResult) string {
	if status == nil {
		return ""
	}
	return string(status.ConfirmationStatus)
}

func (s *Submitter) recordConfirmation(result string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordConfirmation(result, time.Since(start).Seconds())
	}
}
