package contract

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"salespoints-platform/services/audit"
	"salespoints-platform/services/ledger"
	"salespoints-platform/services/referral"
	"salespoints-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestEngine(t *testing.T) (*Engine, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&ledger.Agent{}, &ledger.Movement{},
		&referral.Lead{}, &referral.LeadConversion{},
		&ProductFamily{}, &Product{}, &StatusOption{}, &Contract{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	engine := NewEngine(EngineParams{
		DB:      db,
		Node:    node,
		Balance: ledger.NewStore(ledger.StoreParams{DB: db, Node: node}),
		Graph:   referral.NewGraph(referral.GraphParams{DB: db, Node: node}),
		Sink:    audit.ZapSink{},
	})
	return engine, db
}

// seedCatalog installs a product worth 40 value and 40 career points, with
// "active" as the only point-generating status.
func seedCatalog(t *testing.T, db *gorm.DB) {
	t.Helper()

	require.NoError(t, db.Create(&ProductFamily{ID: "fam-1", Name: "Starter", ValuePoints: 40, CareerPoints: 40}).Error)
	require.NoError(t, db.Create(&Product{ID: "prod-1", FamilyID: "fam-1", Name: "Starter Plan"}).Error)
	require.NoError(t, db.Create(&StatusOption{ID: "opt-active", StatusID: "active", GeneratesValue: true, GeneratesCareer: true}).Error)
	require.NoError(t, db.Create(&StatusOption{ID: "opt-draft", StatusID: "draft"}).Error)
	require.NoError(t, db.Create(&StatusOption{ID: "opt-terminated", StatusID: "terminated"}).Error)
}

func seedAgent(t *testing.T, db *gorm.DB, id string, earned int64) {
	t.Helper()
	require.NoError(t, db.Create(&ledger.Agent{
		ID:          id,
		Name:        "Agent " + id,
		Email:       id + "@example.com",
		EarnedValue: earned,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}).Error)
}

func getAgent(t *testing.T, db *gorm.DB, id string) *ledger.Agent {
	t.Helper()
	var agent ledger.Agent
	require.NoError(t, db.First(&agent, "id = ?", id).Error)
	return &agent
}

func countMovements(t *testing.T, db *gorm.DB, agentID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&ledger.Movement{}).Where("agent_id = ?", agentID).Count(&n).Error)
	return n
}

func TestChangeStatusAssignsOnActivation(t *testing.T) {
	engine, db := newTestEngine(t)
	seedCatalog(t, db)
	seedAgent(t, db, "agent-1", 100)

	created, err := engine.Create(context.Background(), "agent-1", "prod-1", "draft", "agent-1", "agent-1")
	require.NoError(t, err)
	require.Zero(t, countMovements(t, db, "agent-1"))

	updated, err := engine.ChangeStatus(context.Background(), created.ID, "active", "operator-1")
	require.NoError(t, err)
	require.Equal(t, "active", updated.StatusID)

	agent := getAgent(t, db, "agent-1")
	require.Equal(t, int64(140), agent.EarnedValue)
	require.Equal(t, int64(40), agent.CareerPoints)
	require.Equal(t, int64(2), countMovements(t, db, "agent-1"))
}

func TestChangeStatusSameStatusIsNoOp(t *testing.T) {
	engine, db := newTestEngine(t)
	seedCatalog(t, db)
	seedAgent(t, db, "agent-1", 100)

	created, err := engine.Create(context.Background(), "agent-1", "prod-1", "active", "agent-1", "agent-1")
	require.NoError(t, err)
	require.Equal(t, int64(140), getAgent(t, db, "agent-1").EarnedValue)

	_, err = engine.ChangeStatus(context.Background(), created.ID, "active", "operator-1")
	require.NoError(t, err)

	agent := getAgent(t, db, "agent-1")
	require.Equal(t, int64(140), agent.EarnedValue)
	require.Equal(t, int64(2), countMovements(t, db, "agent-1"))
}

func TestChangeStatusBetweenGeneratingStatusesMovesNothing(t *testing.T) {
	engine, db := newTestEngine(t)
	seedCatalog(t, db)
	require.NoError(t, db.Create(&StatusOption{ID: "opt-renewed", StatusID: "renewed", GeneratesValue: true, GeneratesCareer: true}).Error)
	seedAgent(t, db, "agent-1", 100)

	created, err := engine.Create(context.Background(), "agent-1", "prod-1", "active", "agent-1", "agent-1")
	require.NoError(t, err)

	_, err = engine.ChangeStatus(context.Background(), created.ID, "renewed", "operator-1")
	require.NoError(t, err)

	agent := getAgent(t, db, "agent-1")
	require.Equal(t, int64(140), agent.EarnedValue)
	require.Equal(t, int64(40), agent.CareerPoints)
	require.Equal(t, int64(2), countMovements(t, db, "agent-1"))
}

func TestChangeStatusRevokeRestoresBalance(t *testing.T) {
	engine, db := newTestEngine(t)
	seedCatalog(t, db)
	seedAgent(t, db, "agent-1", 100)

	created, err := engine.Create(context.Background(), "agent-1", "prod-1", "active", "agent-1", "agent-1")
	require.NoError(t, err)

	_, err = engine.ChangeStatus(context.Background(), created.ID, "terminated", "operator-1")
	require.NoError(t, err)

	agent := getAgent(t, db, "agent-1")
	require.Equal(t, int64(100), agent.EarnedValue)
	require.Zero(t, agent.CareerPoints)
}

func seedReferral(t *testing.T, db *gorm.DB, inviterID, customerID string) {
	t.Helper()
	require.NoError(t, db.Create(&referral.Lead{
		ID:               "lead-1",
		Name:             "Lead One",
		InvitedByAgentID: &inviterID,
	}).Error)
	require.NoError(t, db.Create(&referral.LeadConversion{
		ID:              "conv-1",
		LeadID:          "lead-1",
		CustomerAgentID: customerID,
		ConvertedAt:     time.Now(),
	}).Error)
}

func TestBonusCascadeAssignAndRevoke(t *testing.T) {
	engine, db := newTestEngine(t)
	seedCatalog(t, db)
	seedAgent(t, db, "inviter-1", 0)
	seedAgent(t, db, "customer-1", 100)
	seedReferral(t, db, "inviter-1", "customer-1")

	created, err := engine.Create(context.Background(), "customer-1", "prod-1", "draft", "customer-1", "customer-1")
	require.NoError(t, err)

	_, err = engine.ChangeStatus(context.Background(), created.ID, "active", "operator-1")
	require.NoError(t, err)

	require.Equal(t, int64(140), getAgent(t, db, "customer-1").EarnedValue)
	require.Equal(t, int64(20), getAgent(t, db, "inviter-1").BonusPoints)

	_, err = engine.ChangeStatus(context.Background(), created.ID, "terminated", "operator-1")
	require.NoError(t, err)

	require.Equal(t, int64(100), getAgent(t, db, "customer-1").EarnedValue)
	require.Zero(t, getAgent(t, db, "inviter-1").BonusPoints)
}

func TestBonusCascadeSkipsMissingInviter(t *testing.T) {
	engine, db := newTestEngine(t)
	seedCatalog(t, db)
	seedAgent(t, db, "customer-1", 100)
	// The lead points at an agent that was never created.
	seedReferral(t, db, "ghost-inviter", "customer-1")

	created, err := engine.Create(context.Background(), "customer-1", "prod-1", "draft", "customer-1", "customer-1")
	require.NoError(t, err)

	_, err = engine.ChangeStatus(context.Background(), created.ID, "active", "operator-1")
	require.NoError(t, err)

	// The customer's accrual lands; the ghost gets neither balance nor journal.
	require.Equal(t, int64(140), getAgent(t, db, "customer-1").EarnedValue)
	var ghostMovements []*ledger.Movement
	require.NoError(t, db.Where("agent_id = ?", "ghost-inviter").Find(&ghostMovements).Error)
	require.Empty(t, ghostMovements)

	_, err = engine.ChangeStatus(context.Background(), created.ID, "terminated", "operator-1")
	require.NoError(t, err)

	require.Equal(t, int64(100), getAgent(t, db, "customer-1").EarnedValue)
	require.Zero(t, countMovements(t, db, "ghost-inviter"))
}

func TestBonusRevokeClampsAtZero(t *testing.T) {
	engine, db := newTestEngine(t)
	seedCatalog(t, db)
	seedAgent(t, db, "inviter-1", 0)
	seedAgent(t, db, "customer-1", 100)
	seedReferral(t, db, "inviter-1", "customer-1")

	created, err := engine.Create(context.Background(), "customer-1", "prod-1", "active", "customer-1", "customer-1")
	require.NoError(t, err)
	require.Equal(t, int64(20), getAgent(t, db, "inviter-1").BonusPoints)

	// The inviter spends the bonus before the revoke lands.
	require.NoError(t, db.Model(&ledger.Agent{}).Where("id = ?", "inviter-1").Update("bonus_points", 5).Error)

	_, err = engine.ChangeStatus(context.Background(), created.ID, "terminated", "operator-1")
	require.NoError(t, err)

	// Clamped at zero, and the customer's revoke still went through.
	require.Zero(t, getAgent(t, db, "inviter-1").BonusPoints)
	require.Equal(t, int64(100), getAgent(t, db, "customer-1").EarnedValue)
}

func TestUnresolvableFamilyStillChangesStatus(t *testing.T) {
	engine, db := newTestEngine(t)
	seedCatalog(t, db)
	seedAgent(t, db, "agent-1", 100)

	orphan := &Contract{
		ID:        "contract-orphan",
		Code:      "C-ORPHAN",
		AgentID:   "agent-1",
		ProductID: "prod-missing",
		StatusID:  "draft",
	}
	require.NoError(t, db.Create(orphan).Error)

	updated, err := engine.ChangeStatus(context.Background(), orphan.ID, "active", "operator-1")
	require.NoError(t, err)
	require.Equal(t, "active", updated.StatusID)

	require.Equal(t, int64(100), getAgent(t, db, "agent-1").EarnedValue)
	require.Zero(t, countMovements(t, db, "agent-1"))
}

func TestRoleScopedStatusOptionWins(t *testing.T) {
	engine, db := newTestEngine(t)
	seedCatalog(t, db)
	require.NoError(t, db.Create(&StatusOption{ID: "opt-active-junior", StatusID: "active", Role: "junior"}).Error)

	require.NoError(t, db.Create(&ledger.Agent{
		ID:          "junior-1",
		Name:        "Junior One",
		Email:       "junior-1@example.com",
		Role:        "junior",
		EarnedValue: 100,
	}).Error)

	created, err := engine.Create(context.Background(), "junior-1", "prod-1", "draft", "junior-1", "junior-1")
	require.NoError(t, err)

	_, err = engine.ChangeStatus(context.Background(), created.ID, "active", "operator-1")
	require.NoError(t, err)

	// The junior-scoped row says "active" generates nothing for this role.
	require.Equal(t, int64(100), getAgent(t, db, "junior-1").EarnedValue)
	require.Zero(t, countMovements(t, db, "junior-1"))
}

func TestChangeStatusContractNotFound(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.ChangeStatus(context.Background(), "missing", "active", "operator-1")
	require.Error(t, err)
}

func TestCreateInGeneratingStatusCreditsOnce(t *testing.T) {
	engine, db := newTestEngine(t)
	seedCatalog(t, db)
	seedAgent(t, db, "agent-1", 0)

	created, err := engine.Create(context.Background(), "agent-1", "prod-1", "active", "agent-1", "agent-1")
	require.NoError(t, err)
	require.NotEmpty(t, created.Code)

	agent := getAgent(t, db, "agent-1")
	require.Equal(t, int64(40), agent.EarnedValue)
	require.Equal(t, int64(40), agent.CareerPoints)
	require.Equal(t, int64(2), countMovements(t, db, "agent-1"))
}
