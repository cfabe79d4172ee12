package confirm

import (
	"github.com/gagliardetto/solana-go/rpc"
)

// Confirmation levels are ordered by finality strength:
// processed < confirmed < finalized.
var levelRanks = map[rpc.ConfirmationStatusType]int{
	rpc.ConfirmationStatusProcessed: 0,
	rpc.ConfirmationStatusConfirmed: 1,
	rpc.ConfirmationStatusFinalized: 2,
}

// Rank returns the ordering rank of a confirmation level. Unknown levels rank
// below processed so they never satisfy a requirement.
func Rank(level rpc.ConfirmationStatusType) int {
	if r, ok := levelRanks[level]; ok {
		return r
	}
	return -1
}

// CommitmentRank maps a subscription commitment onto the confirmation level
// ordering. Commitments and confirmation statuses use the same three names in
// the RPC API but are distinct string types.
func CommitmentRank(commitment rpc.CommitmentType) int {
	switch commitment {
	case rpc.CommitmentProcessed:
		return 0
	case rpc.CommitmentConfirmed:
		return 1
	case rpc.CommitmentFinalized:
		return 2
	}
	return -1
}

// RequiredRank returns the rank of the strictest level in required. An empty
// requirement set defaults to confirmed.
func RequiredRank(required []rpc.ConfirmationStatusType) int {
	if len(required) == 0 {
		return levelRanks[rpc.ConfirmationStatusConfirmed]
	}
	max := -1
	for _, lvl := range required {
		if r := Rank(lvl); r > max {
			max = r
		}
	}
	return max
}

// Satisfies reports whether an observed confirmation level meets every
// required level, i.e. its rank is at least the strictest required rank.
func Satisfies(observed rpc.ConfirmationStatusType, required []rpc.ConfirmationStatusType) bool {
	return Rank(observed) >= RequiredRank(required)
}
