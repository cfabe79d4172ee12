// Package confirm watches a submitted transaction signature until it reaches
// a required confirmation level. Two observation paths race: a websocket
// signature subscription (push) and REST status polling (pull). The first
// path to reach a terminal observation wins; the shared cancellation token
// stops the loser.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/brojonat/txland/service/cancel"
	"github.com/brojonat/txland/service/metrics"
)

// ErrAborted is returned from Watch when the shared token fires before either
// observation path reached a terminal state (e.g. a timeout policy fired or
// the caller cancelled).
var ErrAborted = errors.New("confirmation watch aborted")

// DefaultPollInterval is the pull-path cadence used when none is configured.
const DefaultPollInterval = 2 * time.Second

// StatusError reports that the transaction landed on-chain with an execution
// error. TxErr carries the raw RPC error payload.
type StatusError struct {
	Signature solana.Signature
	TxErr     interface{}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transaction %s failed on-chain: %v", e.Signature, e.TxErr)
}

// Notification is a single push update for a watched signature.
type Notification struct {
	// Err is the on-chain execution error, nil if the transaction succeeded
	// at the subscription's commitment level.
	Err interface{}
}

// Subscription is a live signature subscription. Recv blocks until a
// notification arrives or ctx is done. Signature subscriptions deliver at
// most one notification; the subscription is dead afterwards.
type Subscription interface {
	Recv(ctx context.Context) (*Notification, error)
	Unsubscribe()
}

// Subscriber establishes signature subscriptions. Implemented by the
// websocket side of the solana client.
type Subscriber interface {
	SubscribeSignature(ctx context.Context, sig solana.Signature, commitment rpc.CommitmentType) (Subscription, error)
}

// StatusSource answers point-in-time status queries for signatures.
// Implemented by the HTTP side of the solana client.
type StatusSource interface {
	SignatureStatuses(ctx context.Context, sigs ...solana.Signature) ([]*rpc.SignatureStatusesResult, error)
}

// WatchParams configures a single Watch call.
type WatchParams struct {
	Signature solana.Signature

	// Required is the set of acceptable terminal confirmation levels; the
	// strictest one governs. Empty means confirmed.
	Required []rpc.ConfirmationStatusType

	// SubscribeCommitment is the commitment the push subscription is
	// established at. Empty means confirmed.
	SubscribeCommitment rpc.CommitmentType

	// PollInterval is the pull-path cadence. Zero means DefaultPollInterval.
	PollInterval time.Duration

	// OnProgress, when set, is called with statuses that show partial
	// progress (landed but below the required level). Informational only.
	OnProgress func(*rpc.SignatureStatusesResult)
}

// Watcher races push and pull confirmation observation for one signature.
type Watcher struct {
	statuses StatusSource
	subs     Subscriber
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewWatcher creates a Watcher. subs may be nil, in which case only the pull
// path runs. If m is nil, no metrics are recorded.
func NewWatcher(statuses StatusSource, subs Subscriber, m *metrics.Metrics, logger *slog.Logger) *Watcher {
	return &Watcher{
		statuses: statuses,
		subs:     subs,
		logger:   logger,
		metrics:  m,
	}
}

type outcome struct {
	status *rpc.SignatureStatusesResult
	err    error
}

// Watch blocks until the signature reaches the required confirmation level
// (returning the observed status), lands with an on-chain error (returning a
// *StatusError), the token fires (returning ErrAborted), or ctx is done.
// Whichever terminal event arrives first triggers the token so all
// subordinate loops stop on their next scheduling point.
func (w *Watcher) Watch(ctx context.Context, token *cancel.Token, params WatchParams) (*rpc.SignatureStatusesResult, error) {
	if params.PollInterval <= 0 {
		params.PollInterval = DefaultPollInterval
	}
	if params.SubscribeCommitment == "" {
		params.SubscribeCommitment = rpc.CommitmentConfirmed
	}

	// Buffered so a losing path's late settle never blocks; its value is
	// simply discarded.
	results := make(chan outcome, 2)

	if w.subs != nil {
		go w.runPush(ctx, token, params, results)
	}
	go w.runPoll(ctx, token, params, results)

	select {
	case out := <-results:
		token.Trigger()
		return out.status, out.err
	case <-token.Done():
		return nil, ErrAborted
	case <-ctx.Done():
		token.Trigger()
		return nil, ctx.Err()
	}
}

// runPush is the push observation path: one signature subscription, at most
// one notification. Setup failures are logged and absorbed; the pull path is
// the authority on outcome.
func (w *Watcher) runPush(ctx context.Context, token *cancel.Token, params WatchParams, results chan<- outcome) {
	// Recv must unblock when the token fires, not just when ctx is done.
	subCtx, cancelSub := context.WithCancel(ctx)
	defer cancelSub()
	id := token.OnTrigger(cancelSub)
	defer token.RemoveListener(id)

	sub, err := w.subs.SubscribeSignature(subCtx, params.Signature, params.SubscribeCommitment)
	if err != nil {
		w.logger.WarnContext(ctx, "signature subscription failed, relying on polling",
			"signature", params.Signature.String(),
			"error", err,
		)
		if w.metrics != nil {
			w.metrics.RecordSubscription("error")
		}
		return
	}
	defer sub.Unsubscribe()
	if w.metrics != nil {
		w.metrics.RecordSubscription("established")
	}

	note, err := sub.Recv(subCtx)
	if err != nil || token.Fired() {
		return
	}

	if note.Err != nil {
		results <- outcome{err: &StatusError{Signature: params.Signature, TxErr: note.Err}}
		return
	}

	// A success notification is only trusted when the subscription's own
	// commitment is at least as strict as the required level; a coarser
	// subscription cannot distinguish the finer-grained levels below it, so
	// we fall through to polling.
	if CommitmentRank(params.SubscribeCommitment) >= RequiredRank(params.Required) {
		w.logger.DebugContext(ctx, "confirmed via signature subscription",
			"signature", params.Signature.String(),
			"commitment", params.SubscribeCommitment,
		)
		results <- outcome{status: &rpc.SignatureStatusesResult{
			ConfirmationStatus: commitmentToLevel(params.SubscribeCommitment),
		}}
		return
	}

	w.logger.DebugContext(ctx, "subscription commitment below required level, deferring to polling",
		"signature", params.Signature.String(),
		"commitment", params.SubscribeCommitment,
	)
}

// runPoll is the pull observation path: fixed-interval status queries until a
// terminal observation or the token fires. Individual query errors are
// logged and absorbed.
func (w *Watcher) runPoll(ctx context.Context, token *cancel.Token, params WatchParams, results chan<- outcome) {
	for {
		if token.Fired() {
			return
		}

		start := time.Now()
		statuses, err := w.statuses.SignatureStatuses(ctx, params.Signature)
		if w.metrics != nil {
			w.metrics.RecordStatusPoll(pollStatus(err), time.Since(start).Seconds())
		}

		// A poll that started before cancellation may complete after; its
		// result is stale and must be discarded.
		if token.Fired() {
			return
		}

		switch {
		case err != nil:
			w.logger.WarnContext(ctx, "status poll failed",
				"signature", params.Signature.String(),
				"error", err,
			)
		case len(statuses) > 0 && statuses[0] != nil:
			st := statuses[0]
			if st.Err != nil {
				results <- outcome{status: st, err: &StatusError{Signature: params.Signature, TxErr: st.Err}}
				return
			}
			if Satisfies(st.ConfirmationStatus, params.Required) {
				results <- outcome{status: st}
				return
			}
			// Landed but below the required level: report progress and
			// keep polling.
			if params.OnProgress != nil {
				params.OnProgress(st)
			}
		}

		if err := cancel.Sleep(ctx, params.PollInterval, token); err != nil {
			return
		}
	}
}

func pollStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func commitmentToLevel(commitment rpc.CommitmentType) rpc.ConfirmationStatusType {
	switch commitment {
	case rpc.CommitmentProcessed:
		return rpc.ConfirmationStatusProcessed
	case rpc.CommitmentFinalized:
		return rpc.ConfirmationStatusFinalized
	default:
		return rpc.ConfirmationStatusConfirmed
	}
}
