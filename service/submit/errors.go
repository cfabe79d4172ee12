package submit

import (
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// SignatureError means the transaction cannot be serialized or has no usable
// signature. It is raised before any network call and is not retryable.
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("invalid transaction signature: %s", e.Reason)
}

// TimeoutError means the active timeout policy fired before a terminal
// confirmation was observed. Policy is a human-readable rendering of the
// configuration that was active.
type TimeoutError struct {
	Signature solana.Signature
	Policy    string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("confirmation timed out for transaction %s (timeout: %s)", e.Signature, e.Policy)
}

// TransactionError means the cluster reported an on-chain execution error.
// TxErr carries the raw error payload. When the payload identifies a specific
// failing instruction, InstructionIndex and Instruction reference it.
// SimulationLogs are best-effort diagnostics from re-simulating the failed
// transaction and may be empty.
type TransactionError struct {
	Signature        solana.Signature
	TxErr            interface{}
	InstructionIndex *int
	Instruction      *solana.CompiledInstruction
	SimulationLogs   []string
}

func (e *TransactionError) Error() string {
	if e.InstructionIndex != nil {
		return fmt.Sprintf("transaction %s failed at instruction %d: %v", e.Signature, *e.InstructionIndex, e.TxErr)
	}
	return fmt.Sprintf("transaction %s failed: %v", e.Signature, e.TxErr)
}

// BroadcastError means a send attempt failed for a reason other than
// "already processed". It only surfaces for the initial broadcast; re-send
// failures are logged and absorbed.
type BroadcastError struct {
	Signature solana.Signature
	Err       error
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("broadcast of transaction %s failed: %v", e.Signature, e.Err)
}

func (e *BroadcastError) Unwrap() error {
	return e.Err
}

// instructionErrorIndex extracts the failing instruction index from an
// on-chain error payload shaped like {"InstructionError": [index, detail]}.
// Returns nil when the payload has any other shape.
func instructionErrorIndex(txErr interface{}) *int {
	m, ok := txErr.(map[string]interface{})
	if !ok {
		return nil
	}
	arr, ok := m["InstructionError"].([]interface{})
	if !ok || len(arr) == 0 {
		return nil
	}
	switch v := arr[0].(type) {
	case float64:
		idx := int(v)
		return &idx
	case int:
		idx := v
		return &idx
	case json.Number:
		if n, err := v.Int64(); err == nil {
			idx := int(n)
			return &idx
		}
	}
	return nil
}
