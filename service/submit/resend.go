package submit

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/txland/service/cancel"
	solanaclient "github.com/brojonat/txland/service/solana"
)

// DefaultResendInterval is the re-broadcast cadence used when none is
// configured.
const DefaultResendInterval = time.Second

type resendParams struct {
	raw       []byte
	signature solana.Signature
	opts      solanaclient.BroadcastOpts
	interval  time.Duration
	sink      EventSink
}

// broadcastOnce sends the raw bytes one time, bracketed by send events.
// The error is returned for the caller to classify; re-send iterations absorb
// it, the initial broadcast escalates it.
func (s *Submitter) broadcastOnce(ctx context.Context, p resendParams) error {
	emit(p.sink, Event{Type: EventSend, Phase: PhasePending, Signature: p.signature})

	_, err := s.conn.BroadcastRaw(ctx, p.raw, p.opts)

	emit(p.sink, Event{Type: EventSend, Phase: PhaseCompleted, Signature: p.signature, Err: errString(err)})

	if s.metrics != nil {
		s.metrics.RecordBroadcast(broadcastOutcome(err))
	}
	return err
}

// resendLoop re-broadcasts the transaction on a fixed interval until the
// token fires. The first send has already happened by the time the loop
// starts, so each iteration sleeps before sending.
//
// Broadcast failures do not abort the loop: the loop is advisory and
// redundant by nature, and confirmation is the authority on outcome. An
// "already processed" response means the earlier send landed upstream of
// this signature, so the loop stops without failing the submission.
func (s *Submitter) resendLoop(ctx context.Context, token *cancel.Token, p resendParams) {
	for {
		if err := cancel.Sleep(ctx, p.interval, token); err != nil {
			return
		}
		if token.Fired() || ctx.Err() != nil {
			return
		}

		err := s.broadcastOnce(ctx, p)
		switch {
		case err == nil:
		case solanaclient.IsAlreadyProcessed(err):
			s.logger.DebugContext(ctx, "transaction already processed, stopping re-broadcast",
				"signature", p.signature.String(),
			)
			return
		default:
			s.logger.WarnContext(ctx, "re-broadcast failed",
				"signature", p.signature.String(),
				"error", err,
			)
		}
	}
}

func broadcastOutcome(err error) string {
	switch {
	case err == nil:
		return "sent"
	case solanaclient.IsAlreadyProcessed(err):
		return "duplicate"
	default:
		return "error"
	}
}
