package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/txland/client"
	"github.com/brojonat/txland/service/submit"
	"github.com/brojonat/txland/service/timeout"
)

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Submit a signed transaction and wait for confirmation",
		ArgsUsage: "[TX_FILE]",
		Description: `Submit a base64-encoded signed transaction and block until it reaches the
requested confirmation level or the timeout policy fires. The transaction is
re-broadcast on an interval until it lands.

Reads the transaction from TX_FILE, or from stdin when TX_FILE is "-" or omitted.

Examples:
  txland send tx.b64 --timeout 90s --commitment finalized
  solana transfer ... --dump-transaction-message | txland send - --timeout-type expiration
  txland send tx.b64 --must-jq '.confirmationStatus == "finalized"'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "timeout-type",
				Usage: "Timeout policy: static, expiration, or none",
				Value: "static",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "Deadline for the static timeout policy",
				Value:   60 * time.Second,
			},
			&cli.StringFlag{
				Name:    "commitment",
				Aliases: []string{"c"},
				Usage:   "Required confirmation level: processed, confirmed, or finalized",
				Value:   "confirmed",
			},
			&cli.DurationFlag{
				Name:  "resend-interval",
				Usage: "How often to re-broadcast until confirmed",
				Value: time.Second,
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "How often to poll signature status",
				Value: 2 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "send-once",
				Usage: "Broadcast exactly once, no re-broadcast loop",
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Aliases: []string{"jq"},
				Usage:   "jq filter that must evaluate to true against the final status (repeatable, all must match)",
			},
		},
		Action: func(c *cli.Context) error {
			tx, err := loadTransaction(c.Args().Get(0))
			if err != nil {
				return err
			}

			cfg, err := buildTimeoutConfig(c, tx)
			if err != nil {
				return err
			}

			filters, err := compileJQFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			jsonOutput := c.Bool("json")

			cl, err := newClient(c)
			if err != nil {
				return err
			}
			defer cl.Close()

			sink := eventPrinter(jsonOutput)
			sig, err := cl.SubmitAndConfirm(context.Background(), tx, cfg, sink)
			if err != nil {
				return fmt.Errorf("submission failed: %w", err)
			}

			status, err := cl.Status(context.Background(), sig)
			if err != nil {
				return fmt.Errorf("failed to fetch final status: %w", err)
			}

			if err := applyJQFilters(filters, status); err != nil {
				return err
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(map[string]interface{}{
					"signature": sig.String(),
					"status":    status,
				}, "", "  ")
				fmt.Println(string(data))
			} else {
				fmt.Printf("✅ Transaction landed\n")
				fmt.Printf("   Signature: %s\n", sig)
				if status != nil {
					fmt.Printf("   Status:    %s\n", status.ConfirmationStatus)
					fmt.Printf("   Slot:      %d\n", status.Slot)
				}
			}
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Look up the cluster status of a signature",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Aliases: []string{"jq"},
				Usage:   "jq filter that must evaluate to true against the status (repeatable, all must match)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("signature is required")
			}
			sig, err := solana.SignatureFromBase58(c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("invalid signature: %w", err)
			}

			filters, err := compileJQFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			cl, err := newClient(c)
			if err != nil {
				return err
			}
			defer cl.Close()

			status, err := cl.Status(context.Background(), sig)
			if err != nil {
				return fmt.Errorf("failed to fetch status: %w", err)
			}

			if err := applyJQFilters(filters, status); err != nil {
				return err
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(status, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			if status == nil {
				fmt.Println("Signature not found")
				return nil
			}
			fmt.Printf("Signature: %s\n", sig)
			fmt.Printf("Status:    %s\n", status.ConfirmationStatus)
			fmt.Printf("Slot:      %d\n", status.Slot)
			if status.Err != nil {
				fmt.Printf("Error:     %v\n", status.Err)
			}
			return nil
		},
	}
}

func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:      "simulate",
		Usage:     "Simulate a signed transaction against current cluster state",
		ArgsUsage: "[TX_FILE]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "commitment",
				Aliases: []string{"c"},
				Usage:   "Commitment level for the simulation",
				Value:   "confirmed",
			},
		},
		Action: func(c *cli.Context) error {
			tx, err := loadTransaction(c.Args().Get(0))
			if err != nil {
				return err
			}

			commitment, err := parseCommitment(c.String("commitment"))
			if err != nil {
				return err
			}

			cl, err := newClient(c)
			if err != nil {
				return err
			}
			defer cl.Close()

			result, err := cl.Simulate(context.Background(), tx, commitment)
			if err != nil {
				return fmt.Errorf("simulation failed: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			if result.Err != nil {
				fmt.Printf("❌ Simulation error: %v\n", result.Err)
			} else {
				fmt.Printf("✅ Simulation succeeded\n")
			}
			if result.UnitsConsumed != nil {
				fmt.Printf("   Units consumed: %d\n", *result.UnitsConsumed)
			}
			for _, line := range result.Logs {
				fmt.Printf("   %s\n", line)
			}
			return nil
		},
	}
}

func estimateFeeCommand() *cli.Command {
	return &cli.Command{
		Name:      "estimate-fee",
		Usage:     "Estimate a compute-unit price from recent prioritization fees",
		ArgsUsage: "[ACCOUNT...]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "percentile",
				Usage: "Percentile of recent non-zero fees to select",
				Value: 50,
			},
		},
		Action: func(c *cli.Context) error {
			accounts := make(solana.PublicKeySlice, 0, c.NArg())
			for i := 0; i < c.NArg(); i++ {
				pk, err := solana.PublicKeyFromBase58(c.Args().Get(i))
				if err != nil {
					return fmt.Errorf("invalid account %q: %w", c.Args().Get(i), err)
				}
				accounts = append(accounts, pk)
			}

			cl, err := newClient(c)
			if err != nil {
				return err
			}
			defer cl.Close()

			fee, err := cl.EstimatePriorityFee(context.Background(), accounts, c.Int("percentile"))
			if err != nil {
				return fmt.Errorf("failed to estimate fee: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.Marshal(map[string]uint64{"micro_lamports": fee})
				fmt.Println(string(data))
			} else {
				fmt.Printf("Suggested compute-unit price: %d micro-lamports\n", fee)
			}
			return nil
		},
	}
}

// newClient builds a facade client from the global flags. Events and internal
// logs go to stderr so stdout stays machine-readable.
func newClient(c *cli.Context) (*client.Client, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	opts := []client.Option{client.WithLogger(logger)}
	if natsURL := c.String("nats-url"); natsURL != "" {
		opts = append(opts, client.WithNATS(natsURL))
	}

	return client.New(context.Background(), c.String("rpc-url"), c.String("ws-url"), opts...)
}

// loadTransaction reads a base64-encoded signed transaction from the given
// file, or from stdin when path is "-" or empty.
func loadTransaction(path string) (*solana.Transaction, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 transaction: %w", err)
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	return tx, nil
}

// buildTimeoutConfig maps the send flags onto a timeout configuration. The
// expiration policy tracks the transaction's own recent blockhash.
func buildTimeoutConfig(c *cli.Context, tx *solana.Transaction) (timeout.Config, error) {
	commitment, err := parseCommitment(c.String("commitment"))
	if err != nil {
		return timeout.Config{}, err
	}

	var cfg timeout.Config
	switch c.String("timeout-type") {
	case "static":
		cfg = timeout.Static(c.Duration("timeout"))
	case "expiration":
		cfg = timeout.Expiration(tx.Message.RecentBlockhash, commitment)
	case "none":
		cfg = timeout.None()
	default:
		return timeout.Config{}, fmt.Errorf("unknown timeout type %q (want static, expiration, or none)", c.String("timeout-type"))
	}

	cfg.InitialCommitment = commitment
	cfg.RequiredLevels = requiredLevels(commitment)
	cfg.StatusPollInterval = c.Duration("poll-interval")
	cfg.ResendInterval = c.Duration("resend-interval")
	cfg.SendOnce = c.Bool("send-once")
	return cfg, nil
}

func parseCommitment(s string) (rpc.CommitmentType, error) {
	switch strings.ToLower(s) {
	case "processed":
		return rpc.CommitmentProcessed, nil
	case "confirmed":
		return rpc.CommitmentConfirmed, nil
	case "finalized":
		return rpc.CommitmentFinalized, nil
	default:
		return "", fmt.Errorf("unknown commitment %q (want processed, confirmed, or finalized)", s)
	}
}

// requiredLevels accepts the requested level and anything stronger.
func requiredLevels(commitment rpc.CommitmentType) []rpc.ConfirmationStatusType {
	switch commitment {
	case rpc.CommitmentProcessed:
		return []rpc.ConfirmationStatusType{
			rpc.ConfirmationStatusProcessed,
			rpc.ConfirmationStatusConfirmed,
			rpc.ConfirmationStatusFinalized,
		}
	case rpc.CommitmentConfirmed:
		return []rpc.ConfirmationStatusType{
			rpc.ConfirmationStatusConfirmed,
			rpc.ConfirmationStatusFinalized,
		}
	default:
		return []rpc.ConfirmationStatusType{rpc.ConfirmationStatusFinalized}
	}
}

// eventPrinter streams submission lifecycle events to stderr.
func eventPrinter(jsonOutput bool) submit.EventSink {
	return func(ev submit.Event) {
		if jsonOutput {
			data, _ := json.Marshal(ev)
			fmt.Fprintln(os.Stderr, string(data))
			return
		}
		switch {
		case ev.Type == submit.EventSend && ev.Phase == submit.PhaseCompleted && ev.Err == "":
			fmt.Fprintf(os.Stderr, "📤 Broadcast %s\n", ev.Signature)
		case ev.Type == submit.EventSend && ev.Err != "":
			fmt.Fprintf(os.Stderr, "⚠️  Broadcast failed: %s\n", ev.Err)
		case ev.Type == submit.EventConfirm && ev.Phase == submit.PhaseActive && ev.Status != nil:
			fmt.Fprintf(os.Stderr, "⏳ Status: %s (slot %d)\n", ev.Status.ConfirmationStatus, ev.Status.Slot)
		}
	}
}

// compileJQFilters parses and compiles must-jq expressions.
func compileJQFilters(filters []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// applyJQFilters round-trips the status through JSON and requires every
// filter to evaluate truthy against it.
func applyJQFilters(filters []*gojq.Code, status *rpc.SignatureStatusesResult) error {
	if len(filters) == 0 {
		return nil
	}

	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	var statusJSON interface{}
	if err := json.Unmarshal(data, &statusJSON); err != nil {
		return fmt.Errorf("failed to unmarshal status: %w", err)
	}

	for i, code := range filters {
		iter := code.Run(statusJSON)
		v, ok := iter.Next()
		if !ok {
			return fmt.Errorf("jq filter %d produced no result", i)
		}
		if err, isErr := v.(error); isErr {
			return fmt.Errorf("jq filter %d failed: %w", i, err)
		}
		if !isTruthy(v) {
			return fmt.Errorf("jq filter %d did not match", i)
		}
	}
	return nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}
