// Package timeout implements the pluggable give-up strategies for a
// transaction submission. Exactly one policy is active per submission; it is
// the sole source of "outlived its budget" signals, kept distinct from "the
// transaction actually failed".
package timeout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/brojonat/txland/service/cancel"
)

// Type discriminates the timeout configuration variants.
type Type string

const (
	// TypeStatic is an absolute duration measured from activation.
	TypeStatic Type = "static"
	// TypeExpiration polls blockhash validity until the cluster reports the
	// transaction's blockhash is no longer usable.
	TypeExpiration Type = "expiration"
	// TypeNone performs no confirmation wait at all: the submission returns
	// right after the first broadcast.
	TypeNone Type = "none"
)

// DefaultExpirationPollInterval is the blockhash validity polling cadence
// used when none is configured.
const DefaultExpirationPollInterval = time.Second

// Config selects and parameterizes a timeout policy. Exactly one variant is
// active, chosen by Type; the remaining fields are shared submission knobs.
type Config struct {
	Type Type

	// Timeout is the budget for TypeStatic.
	Timeout time.Duration

	// Blockhash and BlockhashCommitment drive TypeExpiration. A zero
	// commitment uses the connection default.
	Blockhash           solana.Hash
	BlockhashCommitment rpc.CommitmentType

	// ExpirationPollInterval is the validity polling cadence for
	// TypeExpiration. Zero means DefaultExpirationPollInterval.
	ExpirationPollInterval time.Duration

	// InitialCommitment is the commitment the confirmation subscription is
	// established at. Empty means confirmed.
	InitialCommitment rpc.CommitmentType

	// RequiredLevels are the acceptable terminal confirmation levels; the
	// strictest governs. Empty means confirmed.
	RequiredLevels []rpc.ConfirmationStatusType

	// StatusPollInterval is the confirmation status polling cadence.
	StatusPollInterval time.Duration

	// ResendInterval is the re-broadcast cadence.
	ResendInterval time.Duration

	// SendOnce disables continuous re-broadcast: the transaction is sent
	// exactly once. The zero value keeps re-sending until the token fires.
	SendOnce bool
}

// Static returns a Config with an absolute duration budget.
func Static(d time.Duration) Config {
	return Config{Type: TypeStatic, Timeout: d}
}

// Expiration returns a Config tied to the validity of the transaction's
// blockhash.
func Expiration(blockhash solana.Hash, commitment rpc.CommitmentType) Config {
	return Config{Type: TypeExpiration, Blockhash: blockhash, BlockhashCommitment: commitment}
}

// None returns a Config that skips confirmation entirely.
func None() Config {
	return Config{Type: TypeNone}
}

// Validate checks the variant-specific requirements.
func (c Config) Validate() error {
	switch c.Type {
	case TypeStatic:
		if c.Timeout <= 0 {
			return fmt.Errorf("static timeout requires a positive duration, got %v", c.Timeout)
		}
	case TypeExpiration:
		if c.Blockhash.IsZero() {
			return fmt.Errorf("expiration timeout requires the transaction blockhash")
		}
	case TypeNone:
	default:
		return fmt.Errorf("unknown timeout type %q", c.Type)
	}
	return nil
}

// String renders the active variant for timeout error messages.
func (c Config) String() string {
	switch c.Type {
	case TypeStatic:
		return fmt.Sprintf("static %v", c.Timeout)
	case TypeExpiration:
		return fmt.Sprintf("expiration of blockhash %s", c.Blockhash)
	case TypeNone:
		return "none"
	}
	return string(c.Type)
}

// BlockhashValidator answers whether a blockhash is still usable on-chain.
// Implemented by the solana client.
type BlockhashValidator interface {
	BlockhashValid(ctx context.Context, hash solana.Hash, commitment rpc.CommitmentType) (bool, error)
}

// Policy owns the decision "has this submission outlived its budget?".
// Arm starts the policy in the background; onTimeout is invoked at most once,
// and only with a timed-out signal, never a generic error. Every policy
// invokes onTimeout and then triggers the shared token, so anything unblocked
// by the token observes the timeout flag. If the token fires first for any
// other reason, the policy stands down without invoking onTimeout.
type Policy interface {
	Arm(ctx context.Context, token *cancel.Token, onTimeout func())
	fmt.Stringer
}

// FromConfig builds the policy selected by cfg. The validator is only
// required for TypeExpiration.
func FromConfig(cfg Config, validator BlockhashValidator, logger *slog.Logger) (Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeStatic:
		return &staticPolicy{timeout: cfg.Timeout}, nil
	case TypeExpiration:
		interval := cfg.ExpirationPollInterval
		if interval <= 0 {
			interval = DefaultExpirationPollInterval
		}
		if validator == nil {
			return nil, fmt.Errorf("expiration timeout requires a blockhash validator")
		}
		return &expirationPolicy{
			blockhash:  cfg.Blockhash,
			commitment: cfg.BlockhashCommitment,
			interval:   interval,
			validator:  validator,
			logger:     logger,
		}, nil
	case TypeNone:
		return nonePolicy{}, nil
	}
	return nil, fmt.Errorf("unknown timeout type %q", cfg.Type)
}

// staticPolicy fires after a fixed duration unless the token fires first.
type staticPolicy struct {
	timeout time.Duration
}

func (p *staticPolicy) Arm(ctx context.Context, token *cancel.Token, onTimeout func()) {
	go func() {
		timer := time.NewTimer(p.timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			if token.Fired() {
				return
			}
			onTimeout()
			token.Trigger()
		case <-token.Done():
		case <-ctx.Done():
		}
	}()
}

func (p *staticPolicy) String() string {
	return fmt.Sprintf("static %v", p.timeout)
}

// expirationPolicy polls blockhash validity until the cluster reports the
// blockhash expired. Individual query errors are logged and absorbed; the
// policy keeps polling.
type expirationPolicy struct {
	blockhash  solana.Hash
	commitment rpc.CommitmentType
	interval   time.Duration
	validator  BlockhashValidator
	logger     *slog.Logger
}

func (p *expirationPolicy) Arm(ctx context.Context, token *cancel.Token, onTimeout func()) {
	go func() {
		for {
			if token.Fired() {
				return
			}

			valid, err := p.validator.BlockhashValid(ctx, p.blockhash, p.commitment)

			// The query may complete after cancellation; its result is stale.
			if token.Fired() {
				return
			}

			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.WarnContext(ctx, "blockhash validity check failed",
					"blockhash", p.blockhash.String(),
					"error", err,
				)
			} else if !valid {
				p.logger.DebugContext(ctx, "blockhash expired",
					"blockhash", p.blockhash.String(),
				)
				onTimeout()
				token.Trigger()
				return
			}

			if err := cancel.Sleep(ctx, p.interval, token); err != nil {
				return
			}
		}
	}()
}

func (p *expirationPolicy) String() string {
	return fmt.Sprintf("expiration of blockhash %s", p.blockhash)
}

// nonePolicy performs no timeout tracking.
type nonePolicy struct{}

func (nonePolicy) Arm(context.Context, *cancel.Token, func()) {}

func (nonePolicy) String() string { return "none" }
