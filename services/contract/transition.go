package contract

import "math"

// BonusCoefficient is the share of a contract's value points credited to the
// inviting agent's bonus pool.
const BonusCoefficient = 0.5

// Classification is whether a contract's current status entitles its agent
// to the product family's point award, per pool.
type Classification struct {
	Value  bool
	Career bool
}

// Movement is the point effect of a status change on one pool.
type Movement int

const (
	MoveNone Movement = iota
	MoveAssign
	MoveRevoke
)

// Evaluate is the pure transition rule: points move only when the
// point-generating flag flips. Both-true and both-false are no-ops.
func Evaluate(old, new bool) Movement {
	switch {
	case !old && new:
		return MoveAssign
	case old && !new:
		return MoveRevoke
	default:
		return MoveNone
	}
}

// Outcome combines the per-pool movements for one status change.
type Outcome struct {
	Value  Movement
	Career Movement
}

// EvaluateTransition derives the ledger effects of moving a contract between
// two status classifications. Pure; unit-testable without persistence.
func EvaluateTransition(old, new Classification) Outcome {
	return Outcome{
		Value:  Evaluate(old.Value, new.Value),
		Career: Evaluate(old.Career, new.Career),
	}
}

// BonusPoints computes the inviter bonus from the base value points using
// round-half-up semantics.
func BonusPoints(base int64) int64 {
	return int64(math.Floor(float64(base)*BonusCoefficient + 0.5))
}
