package order

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"salespoints-platform/services/audit"
	"salespoints-platform/services/cart"
	"salespoints-platform/services/ledger"
	"salespoints-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	orders  *Service
	cart    *cart.Service
	balance *ledger.Store
	db      *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&ledger.Agent{}, &ledger.Movement{},
		&cart.Article{}, &cart.Item{},
		&Order{}, &Item{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	balance := ledger.NewStore(ledger.StoreParams{DB: db, Node: node})
	cartSvc := cart.NewService(cart.ServiceParams{
		DB: db, Node: node, Balance: balance, Sink: audit.ZapSink{},
	})
	orders := NewService(ServiceParams{
		DB: db, Node: node, Balance: balance, Cart: cartSvc, Sink: audit.ZapSink{},
	})

	return &fixture{orders: orders, cart: cartSvc, balance: balance, db: db}
}

func (f *fixture) seedAgent(t *testing.T, id string, earned, bonus int64) {
	t.Helper()
	require.NoError(t, f.db.Create(&ledger.Agent{
		ID:          id,
		Name:        "Agent " + id,
		Email:       id + "@example.com",
		EarnedValue: earned,
		BonusPoints: bonus,
	}).Error)
}

func (f *fixture) seedArticle(t *testing.T, id string, price int64) {
	t.Helper()
	require.NoError(t, f.db.Create(&cart.Article{
		ID:        id,
		Name:      "Article " + id,
		Slug:      "article-" + id,
		UnitPrice: price,
		Active:    true,
	}).Error)
}

func (f *fixture) agent(t *testing.T, id string) *ledger.Agent {
	t.Helper()
	var agent ledger.Agent
	require.NoError(t, f.db.First(&agent, "id = ?", id).Error)
	return &agent
}

func TestCheckoutConsumesCart(t *testing.T) {
	f := newFixture(t)
	f.seedAgent(t, "agent-1", 200, 0)
	f.seedArticle(t, "art-1", 20)

	_, err := f.cart.Reserve(context.Background(), "agent-1", "art-1", 3, "agent-1")
	require.NoError(t, err)

	ord, err := f.orders.Checkout(context.Background(), "agent-1", "please deliver fast", "agent-1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, ord.Status)
	require.Equal(t, int64(60), ord.TotalPoints)
	require.NotEmpty(t, ord.Code)

	_, items, err := f.orders.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, int64(3), items[0].Quantity)
	require.Equal(t, int64(20), items[0].UnitPrice)

	// The hold survives until completion, now bound to the order.
	var holds []*cart.Item
	require.NoError(t, f.db.Where("agent_id = ?", "agent-1").Find(&holds).Error)
	require.Len(t, holds, 1)
	require.Equal(t, cart.StatusPendingPayment, holds[0].Status)

	// No deduction yet.
	agent := f.agent(t, "agent-1")
	require.Equal(t, int64(200), agent.EarnedValue)
	require.Zero(t, agent.PointsSpent)
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t)
	f.seedAgent(t, "agent-1", 200, 0)

	_, err := f.orders.Checkout(context.Background(), "agent-1", "", "agent-1")
	require.Error(t, err)
}

func TestFulfillmentCompletesOrderExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.seedAgent(t, "agent-1", 200, 0)
	f.seedArticle(t, "art-1", 30)
	f.seedArticle(t, "art-2", 40)

	_, err := f.cart.Reserve(context.Background(), "agent-1", "art-1", 1, "agent-1")
	require.NoError(t, err)
	_, err = f.cart.Reserve(context.Background(), "agent-1", "art-2", 1, "agent-1")
	require.NoError(t, err)

	ord, err := f.orders.Checkout(context.Background(), "agent-1", "", "agent-1")
	require.NoError(t, err)
	require.Equal(t, int64(70), ord.TotalPoints)

	_, items, err := f.orders.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	first, err := f.orders.FulfillItem(context.Background(), items[0].ID, "", "operator-1")
	require.NoError(t, err)
	require.Equal(t, ItemFulfilled, first.Status)
	require.NotEmpty(t, first.RedemptionCode)

	// One item open: no completion, no deduction.
	pending, _, err := f.orders.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, pending.Status)
	require.Equal(t, int64(200), f.agent(t, "agent-1").EarnedValue)

	_, err = f.orders.FulfillItem(context.Background(), items[1].ID, "CODE-42", "operator-1")
	require.NoError(t, err)

	completed, _, err := f.orders.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	agent := f.agent(t, "agent-1")
	require.Equal(t, int64(130), agent.EarnedValue)
	require.Equal(t, int64(70), agent.PointsSpent)

	// Holds are settled and dropped.
	var holdCount int64
	require.NoError(t, f.db.Model(&cart.Item{}).Where("agent_id = ?", "agent-1").Count(&holdCount).Error)
	require.Zero(t, holdCount)

	// Re-fulfilling a finalized item must not deduct again.
	_, err = f.orders.FulfillItem(context.Background(), items[1].ID, "", "operator-1")
	require.Error(t, err)
	require.Equal(t, int64(70), f.agent(t, "agent-1").PointsSpent)
}

func TestCompleteSpendsBonusFirst(t *testing.T) {
	f := newFixture(t)
	f.seedAgent(t, "agent-1", 100, 50)
	f.seedArticle(t, "art-1", 60)

	_, err := f.cart.Reserve(context.Background(), "agent-1", "art-1", 1, "agent-1")
	require.NoError(t, err)

	ord, err := f.orders.Checkout(context.Background(), "agent-1", "", "agent-1")
	require.NoError(t, err)

	_, items, err := f.orders.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	_, err = f.orders.FulfillItem(context.Background(), items[0].ID, "", "operator-1")
	require.NoError(t, err)

	agent := f.agent(t, "agent-1")
	require.Zero(t, agent.BonusPoints)
	require.Equal(t, int64(90), agent.EarnedValue)
	require.Equal(t, int64(60), agent.PointsSpent)
}

func TestCancelReleasesHoldsWithoutDeduction(t *testing.T) {
	f := newFixture(t)
	f.seedAgent(t, "agent-1", 100, 0)
	f.seedArticle(t, "art-1", 100)

	_, err := f.cart.Reserve(context.Background(), "agent-1", "art-1", 1, "agent-1")
	require.NoError(t, err)

	ord, err := f.orders.Checkout(context.Background(), "agent-1", "", "agent-1")
	require.NoError(t, err)

	cancelled, err := f.orders.Cancel(context.Background(), ord.ID, "operator-1")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, items, err := f.orders.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	for _, item := range items {
		require.Equal(t, ItemCancelled, item.Status)
	}

	agent := f.agent(t, "agent-1")
	require.Equal(t, int64(100), agent.EarnedValue)
	require.Zero(t, agent.PointsSpent)

	// The points are free again.
	_, err = f.cart.Reserve(context.Background(), "agent-1", "art-1", 1, "agent-1")
	require.NoError(t, err)

	// Cancel is terminal.
	_, err = f.orders.Cancel(context.Background(), ord.ID, "operator-1")
	require.Error(t, err)
}

func TestForceCompleteCancelsUnfinishedAndDeducts(t *testing.T) {
	f := newFixture(t)
	f.seedAgent(t, "agent-1", 200, 0)
	f.seedArticle(t, "art-1", 30)
	f.seedArticle(t, "art-2", 40)

	_, err := f.cart.Reserve(context.Background(), "agent-1", "art-1", 1, "agent-1")
	require.NoError(t, err)
	_, err = f.cart.Reserve(context.Background(), "agent-1", "art-2", 1, "agent-1")
	require.NoError(t, err)

	ord, err := f.orders.Checkout(context.Background(), "agent-1", "", "agent-1")
	require.NoError(t, err)

	_, items, err := f.orders.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	_, err = f.orders.FulfillItem(context.Background(), items[0].ID, "", "operator-1")
	require.NoError(t, err)

	forced, err := f.orders.ForceComplete(context.Background(), ord.ID, "operator-1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, forced.Status)

	_, after, err := f.orders.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	statuses := map[string]int{}
	for _, item := range after {
		statuses[item.Status]++
	}
	require.Equal(t, 1, statuses[ItemFulfilled])
	require.Equal(t, 1, statuses[ItemCancelled])

	agent := f.agent(t, "agent-1")
	require.Equal(t, int64(130), agent.EarnedValue)
	require.Equal(t, int64(70), agent.PointsSpent)
}

func TestRefundItemReturnsPoints(t *testing.T) {
	f := newFixture(t)
	f.seedAgent(t, "agent-1", 200, 0)
	f.seedArticle(t, "art-1", 30)
	f.seedArticle(t, "art-2", 40)

	_, err := f.cart.Reserve(context.Background(), "agent-1", "art-1", 1, "agent-1")
	require.NoError(t, err)
	_, err = f.cart.Reserve(context.Background(), "agent-1", "art-2", 1, "agent-1")
	require.NoError(t, err)

	ord, err := f.orders.Checkout(context.Background(), "agent-1", "", "agent-1")
	require.NoError(t, err)

	_, items, err := f.orders.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	for _, item := range items {
		_, err = f.orders.FulfillItem(context.Background(), item.ID, "", "operator-1")
		require.NoError(t, err)
	}
	require.Equal(t, int64(130), f.agent(t, "agent-1").EarnedValue)

	var refundTarget *Item
	for _, item := range items {
		if item.ArticleID == "art-1" {
			refundTarget = item
		}
	}
	require.NotNil(t, refundTarget)

	refunded, err := f.orders.RefundItem(context.Background(), refundTarget.ID, "operator-1")
	require.NoError(t, err)
	require.Equal(t, ItemRefunded, refunded.Status)

	agent := f.agent(t, "agent-1")
	require.Equal(t, int64(160), agent.EarnedValue)
	require.Equal(t, int64(40), agent.PointsSpent)

	var refundRows int64
	require.NoError(t, f.db.Model(&ledger.Movement{}).
		Where("agent_id = ? AND reason = ?", "agent-1", ledger.ReasonOrderRefund).
		Count(&refundRows).Error)
	require.Equal(t, int64(1), refundRows)

	// Terminal: a second refund of the same item must fail.
	_, err = f.orders.RefundItem(context.Background(), refundTarget.ID, "operator-1")
	require.Error(t, err)
	require.Equal(t, int64(40), f.agent(t, "agent-1").PointsSpent)
}

func TestRefundItemRequiresCompletedOrder(t *testing.T) {
	f := newFixture(t)
	f.seedAgent(t, "agent-1", 100, 0)
	f.seedArticle(t, "art-1", 30)

	_, err := f.cart.Reserve(context.Background(), "agent-1", "art-1", 1, "agent-1")
	require.NoError(t, err)

	ord, err := f.orders.Checkout(context.Background(), "agent-1", "", "agent-1")
	require.NoError(t, err)

	_, items, err := f.orders.Get(context.Background(), ord.ID)
	require.NoError(t, err)

	// Not fulfilled yet: nothing was deducted, so nothing can come back.
	_, err = f.orders.RefundItem(context.Background(), items[0].ID, "operator-1")
	require.Error(t, err)
	require.Zero(t, f.agent(t, "agent-1").PointsSpent)
}

func TestStartProcessingGuardsStatus(t *testing.T) {
	f := newFixture(t)
	f.seedAgent(t, "agent-1", 100, 0)
	f.seedArticle(t, "art-1", 30)

	_, err := f.cart.Reserve(context.Background(), "agent-1", "art-1", 1, "agent-1")
	require.NoError(t, err)

	ord, err := f.orders.Checkout(context.Background(), "agent-1", "", "agent-1")
	require.NoError(t, err)

	_, items, err := f.orders.Get(context.Background(), ord.ID)
	require.NoError(t, err)

	item, err := f.orders.StartProcessing(context.Background(), items[0].ID, "operator-1")
	require.NoError(t, err)
	require.Equal(t, ItemProcessing, item.Status)

	_, err = f.orders.StartProcessing(context.Background(), items[0].ID, "operator-1")
	require.Error(t, err)
}
