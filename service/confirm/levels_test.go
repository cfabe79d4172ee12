package confirm

import (
	"testing"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
)

func TestRankOrdering(t *testing.T) {
	assert.Less(t, Rank(rpc.ConfirmationStatusProcessed), Rank(rpc.ConfirmationStatusConfirmed))
	assert.Less(t, Rank(rpc.ConfirmationStatusConfirmed), Rank(rpc.ConfirmationStatusFinalized))
	assert.Equal(t, -1, Rank("bogus"))
}

func TestRequiredRank_DefaultsToConfirmed(t *testing.T) {
	assert.Equal(t, Rank(rpc.ConfirmationStatusConfirmed), RequiredRank(nil))
}

func TestRequiredRank_StrictestGoverns(t *testing.T) {
	required := []rpc.ConfirmationStatusType{
		rpc.ConfirmationStatusProcessed,
		rpc.ConfirmationStatusFinalized,
		rpc.ConfirmationStatusConfirmed,
	}
	assert.Equal(t, Rank(rpc.ConfirmationStatusFinalized), RequiredRank(required))
}

func TestSatisfies(t *testing.T) {
	// Observed level must be at least as strict as the strictest requirement.
	assert.True(t, Satisfies(rpc.ConfirmationStatusConfirmed, nil))
	assert.True(t, Satisfies(rpc.ConfirmationStatusFinalized, nil))
	assert.False(t, Satisfies(rpc.ConfirmationStatusProcessed, nil))

	finalized := []rpc.ConfirmationStatusType{rpc.ConfirmationStatusFinalized}
	assert.False(t, Satisfies(rpc.ConfirmationStatusConfirmed, finalized))
	assert.True(t, Satisfies(rpc.ConfirmationStatusFinalized, finalized))

	processed := []rpc.ConfirmationStatusType{rpc.ConfirmationStatusProcessed}
	assert.True(t, Satisfies(rpc.ConfirmationStatusProcessed, processed))
}

func TestCommitmentRank(t *testing.T) {
	assert.Less(t, CommitmentRank(rpc.CommitmentProcessed), CommitmentRank(rpc.CommitmentConfirmed))
	assert.Less(t, CommitmentRank(rpc.CommitmentConfirmed), CommitmentRank(rpc.CommitmentFinalized))
	assert.Equal(t, -1, CommitmentRank("bogus"))
}
