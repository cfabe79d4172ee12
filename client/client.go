// Package client provides a high-level facade over the txland submission
// stack: it owns the RPC and websocket connections, the confirmation watcher,
// the submitter, and an optional NATS event publisher.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/brojonat/txland/service/config"
	"github.com/brojonat/txland/service/confirm"
	"github.com/brojonat/txland/service/fees"
	"github.com/brojonat/txland/service/metrics"
	"github.com/brojonat/txland/service/nats"
	solanasvc "github.com/brojonat/txland/service/solana"
	"github.com/brojonat/txland/service/submit"
	"github.com/brojonat/txland/service/timeout"
)

// Client bundles everything needed to land a transaction and observe its
// confirmation lifecycle.
type Client struct {
	solana    *solanasvc.Client
	ws        solanasvc.WSClient
	watcher   *confirm.Watcher
	submitter *submit.Submitter

	// publisher is set only when the client owns the NATS connection.
	publisher     nats.Publisher
	publisherSink submit.EventSink

	logger  *slog.Logger
	metrics *metrics.Metrics
}

type options struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	natsURL   string
	publisher nats.Publisher
}

// Option customizes the client.
type Option func(*options)

// WithLogger sets the logger used by all components.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the metrics collectors used by all components.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithNATS connects to the given NATS URL and publishes lifecycle events for
// every submission. The client owns the connection and closes it in Close.
func WithNATS(natsURL string) Option {
	return func(o *options) { o.natsURL = natsURL }
}

// WithPublisher uses an existing publisher for lifecycle events. The caller
// retains ownership; Close does not close it.
func WithPublisher(p nats.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// NewFromConfig builds a client from environment-derived service
// configuration. NATS publishing is enabled when the configuration carries a
// NATS URL.
func NewFromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.NATSURL != "" {
		opts = append(opts, WithNATS(cfg.NATSURL))
	}
	return New(ctx, cfg.SolanaRPCURL, cfg.SolanaWSURL, opts...)
}

// New builds a client against the given RPC endpoint. An empty wsURL disables
// websocket subscriptions and confirmation falls back to status polling only.
func New(ctx context.Context, rpcURL, wsURL string, opts ...Option) (*Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	var ws solanasvc.WSClient
	if wsURL != "" {
		var err error
		ws, err = solanasvc.NewWSClient(ctx, wsURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to websocket endpoint: %w", err)
		}
	}

	sol := solanasvc.NewClient(solanasvc.NewRPCClient(rpcURL), ws, o.metrics, o.logger)

	var subs confirm.Subscriber
	if ws != nil {
		subs = sol
	}
	watcher := confirm.NewWatcher(sol, subs, o.metrics, o.logger)
	submitter := submit.NewSubmitter(sol, watcher, o.metrics, o.logger)

	c := &Client{
		solana:    sol,
		ws:        ws,
		watcher:   watcher,
		submitter: submitter,
		logger:    o.logger,
		metrics:   o.metrics,
	}

	if o.publisher != nil {
		c.publisherSink = nats.EventSink(o.publisher, o.logger)
	} else if o.natsURL != "" {
		pub, err := nats.NewPublisher(o.natsURL, o.metrics, o.logger)
		if err != nil {
			if ws != nil {
				ws.Close()
			}
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		c.publisher = pub
		c.publisherSink = nats.EventSink(pub, o.logger)
	}

	return c, nil
}

// SubmitAndConfirm sends the signed transaction and blocks until it reaches
// the configured confirmation level, the timeout policy fires, or ctx is
// cancelled. Events flow to sink and, when configured, to NATS.
func (c *Client) SubmitAndConfirm(ctx context.Context, tx *solana.Transaction, cfg timeout.Config, sink submit.EventSink) (solana.Signature, error) {
	return c.submitter.SubmitAndConfirm(ctx, tx, cfg, c.combineSinks(sink))
}

// Status returns the current cluster-reported status of a signature, or nil
// when the cluster does not know it.
func (c *Client) Status(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	statuses, err := c.solana.SignatureStatuses(ctx, sig)
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return nil, nil
	}
	return statuses[0], nil
}

// Simulate runs the transaction against current cluster state without
// landing it.
func (c *Client) Simulate(ctx context.Context, tx *solana.Transaction, commitment rpc.CommitmentType) (*rpc.SimulateTransactionResult, error) {
	return c.solana.Simulate(ctx, tx, commitment)
}

// RecentBlockhash fetches a fresh blockhash and its last valid block height.
func (c *Client) RecentBlockhash(ctx context.Context, commitment rpc.CommitmentType) (solana.Hash, uint64, error) {
	return c.solana.RecentBlockhash(ctx, commitment)
}

// EstimatePriorityFee suggests a compute-unit price from recent cluster
// prioritization fees for the given writable accounts.
func (c *Client) EstimatePriorityFee(ctx context.Context, accounts solana.PublicKeySlice, percentile int) (uint64, error) {
	return fees.EstimatePriorityFee(ctx, c.solana, accounts, percentile)
}

// Close releases the websocket connection and the NATS connection if the
// client owns one.
func (c *Client) Close() error {
	var firstErr error
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			firstErr = err
		}
	}
	if c.ws != nil {
		if err := c.ws.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Client) combineSinks(sink submit.EventSink) submit.EventSink {
	if c.publisherSink == nil {
		return sink
	}
	if sink == nil {
		return c.publisherSink
	}
	pub := c.publisherSink
	return func(ev submit.Event) {
		sink(ev)
		pub(ev)
	}
}
