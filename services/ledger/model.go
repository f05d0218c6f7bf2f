package ledger

import (
	"time"

	"gorm.io/datatypes"
)

// Pool identifies one of the agent's three point pools.
type Pool string

const (
	PoolEarnedValue Pool = "earned_value"
	PoolCareer      Pool = "career_points"
	PoolBonus       Pool = "bonus_points"
)

func (p Pool) Valid() bool {
	switch p {
	case PoolEarnedValue, PoolCareer, PoolBonus:
		return true
	}
	return false
}

// Agent is a network participant holding point balances. Earned value and
// bonus points are spendable; career points only drive progression.
type Agent struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	Email     string    `gorm:"column:email;uniqueIndex"`
	Role      string    `gorm:"column:role;index"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`

	EarnedValue  int64 `gorm:"column:earned_value;not null;default:0"`
	CareerPoints int64 `gorm:"column:career_points;not null;default:0"`
	BonusPoints  int64 `gorm:"column:bonus_points;not null;default:0"`
	PointsSpent  int64 `gorm:"column:points_spent;not null;default:0"`
}

// TotalSpendable is the sum of the two spendable pools.
func (a *Agent) TotalSpendable() int64 {
	return a.EarnedValue + a.BonusPoints
}

// Movement is one append-only journal row per pool mutation. The journal is
// internal bookkeeping; the audit sink gets its own events after commit.
type Movement struct {
	ID          string         `gorm:"column:id;primaryKey"`
	AgentID     string         `gorm:"column:agent_id;index;not null"`
	Pool        string         `gorm:"column:pool;type:varchar(20);not null"`
	Delta       int64          `gorm:"column:delta;not null"`
	Reason      string         `gorm:"column:reason;type:varchar(40);not null"`
	ReferenceID string         `gorm:"column:reference_id;index"`
	Metadata    datatypes.JSON `gorm:"column:metadata"`
	CreatedAt   time.Time      `gorm:"column:created_at;index"`
}

// Movement reasons.
const (
	ReasonStatusAssign = "status_assign"
	ReasonStatusRevoke = "status_revoke"
	ReasonBonusAssign  = "bonus_assign"
	ReasonBonusRevoke  = "bonus_revoke"
	ReasonOrderSpend   = "order_spend"
	ReasonOrderRefund  = "order_refund"
	ReasonBonusClamp   = "bonus_clamp"
	ReasonAdjustment   = "adjustment"
)
