package referral

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"salespoints-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestGraph(t *testing.T) (*Graph, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Lead{}, &LeadConversion{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewGraph(GraphParams{DB: db, Node: node}), db
}

func TestInviterResolvesChain(t *testing.T) {
	graph, _ := newTestGraph(t)
	ctx := context.Background()

	inviterID := "inviter-1"
	lead := &Lead{Name: "Lead One", InvitedByAgentID: &inviterID}
	require.NoError(t, graph.CreateLead(ctx, lead))

	_, err := graph.Convert(ctx, lead.ID, "customer-1")
	require.NoError(t, err)

	got, err := graph.Inviter(ctx, nil, "customer-1")
	require.NoError(t, err)
	require.Equal(t, inviterID, got)
}

func TestInviterNoConversion(t *testing.T) {
	graph, _ := newTestGraph(t)

	_, err := graph.Inviter(context.Background(), nil, "customer-unknown")
	require.ErrorIs(t, err, ErrNoReferral)
}

func TestInviterLeadWithoutInviter(t *testing.T) {
	graph, _ := newTestGraph(t)
	ctx := context.Background()

	lead := &Lead{Name: "Walk In"}
	require.NoError(t, graph.CreateLead(ctx, lead))

	_, err := graph.Convert(ctx, lead.ID, "customer-1")
	require.NoError(t, err)

	_, err = graph.Inviter(ctx, nil, "customer-1")
	require.ErrorIs(t, err, ErrNoReferral)
}

func TestConvertOnlyOnce(t *testing.T) {
	graph, _ := newTestGraph(t)
	ctx := context.Background()

	inviterID := "inviter-1"
	lead := &Lead{Name: "Lead One", InvitedByAgentID: &inviterID}
	require.NoError(t, graph.CreateLead(ctx, lead))

	_, err := graph.Convert(ctx, lead.ID, "customer-1")
	require.NoError(t, err)

	_, err = graph.Convert(ctx, lead.ID, "customer-2")
	require.Error(t, err)
}

func TestConvertUnknownLead(t *testing.T) {
	graph, _ := newTestGraph(t)

	_, err := graph.Convert(context.Background(), "missing", "customer-1")
	require.Error(t, err)
}
