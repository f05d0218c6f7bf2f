package contract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateFlipsOnly(t *testing.T) {
	require.Equal(t, MoveAssign, Evaluate(false, true))
	require.Equal(t, MoveRevoke, Evaluate(true, false))
	require.Equal(t, MoveNone, Evaluate(true, true))
	require.Equal(t, MoveNone, Evaluate(false, false))
}

func TestEvaluateTransitionPerPool(t *testing.T) {
	out := EvaluateTransition(
		Classification{Value: false, Career: true},
		Classification{Value: true, Career: false},
	)
	require.Equal(t, MoveAssign, out.Value)
	require.Equal(t, MoveRevoke, out.Career)

	out = EvaluateTransition(
		Classification{Value: true, Career: true},
		Classification{Value: true, Career: true},
	)
	require.Equal(t, MoveNone, out.Value)
	require.Equal(t, MoveNone, out.Career)
}

func TestBonusPointsRoundsHalfUp(t *testing.T) {
	// Odd bases land on .5 and must round up.
	cases := []struct {
		base int64
		want int64
	}{
		{0, 0},
		{1, 1},
		{2, 1},
		{3, 2},
		{40, 20},
		{41, 21},
		{100, 50},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, BonusPoints(tc.base), "base %d", tc.base)
	}
}
