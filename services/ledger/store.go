package ledger

import (
	"context"
	"time"

	"salespoints-platform/pkg/db/option"
	"salespoints-platform/pkg/db/pagination"
	"salespoints-platform/pkg/errutil"
	"salespoints-platform/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store exposes the atomic credit/debit primitives over the three point
// pools. Every mutation runs inside a caller-supplied transaction and writes
// a journal row alongside the balance update.
type Store struct {
	db   *gorm.DB
	node *snowflake.Node

	agents    repository.Repository[Agent]
	movements repository.Repository[Movement]
}

type StoreParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewStore(p StoreParams) *Store {
	return &Store{
		db:   p.DB,
		node: p.Node,

		agents:    repository.ProvideStore[Agent](p.DB),
		movements: repository.ProvideStore[Movement](p.DB),
	}
}

func (s *Store) Get(ctx context.Context, agentID string) (*Agent, error) {
	return s.agents.FindOne(ctx, &Agent{ID: agentID})
}

// GetLocked reads the agent's balance row under a row-level write lock. All
// balance-affecting operations for the same agent serialize behind this lock.
func (s *Store) GetLocked(ctx context.Context, tx *gorm.DB, agentID string) (*Agent, error) {
	agent, err := s.agents.WithTrx(tx).FindOne(ctx, &Agent{ID: agentID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, errutil.NotFound("agent not found")
	}
	return agent, nil
}

func (s *Store) CreateAgent(ctx context.Context, agent *Agent) error {
	if agent.ID == "" {
		agent.ID = s.node.Generate().String()
	}
	agent.CreatedAt = time.Now()
	agent.UpdatedAt = time.Now()
	return s.agents.Create(ctx, agent)
}

// Credit increments the given pool. The agent row must already be locked by
// the enclosing transaction.
func (s *Store) Credit(ctx context.Context, tx *gorm.DB, pool Pool, agentID string, amount int64, reason, referenceID string) error {
	if !pool.Valid() {
		return errutil.BadRequest("unknown point pool")
	}
	if amount <= 0 {
		return errutil.BadRequest("credit amount must be > 0")
	}

	updates := map[string]any{
		string(pool): gorm.Expr(string(pool)+" + ?", amount),
		"updated_at": time.Now(),
	}
	if err := s.agents.WithTrx(tx).Update(ctx, agentID, updates); err != nil {
		return err
	}

	return s.journal(ctx, tx, agentID, pool, amount, reason, referenceID)
}

// Debit decrements the given pool. Earned-value and career pools are allowed
// to go negative here: a revoke mirrors a prior erroneous assignment.
func (s *Store) Debit(ctx context.Context, tx *gorm.DB, pool Pool, agentID string, amount int64, reason, referenceID string) error {
	if !pool.Valid() {
		return errutil.BadRequest("unknown point pool")
	}
	if amount <= 0 {
		return errutil.BadRequest("debit amount must be > 0")
	}

	updates := map[string]any{
		string(pool): gorm.Expr(string(pool)+" - ?", amount),
		"updated_at": time.Now(),
	}
	if err := s.agents.WithTrx(tx).Update(ctx, agentID, updates); err != nil {
		return err
	}

	return s.journal(ctx, tx, agentID, pool, -amount, reason, referenceID)
}

// DebitBonusClamped debits the bonus pool but never below zero. A shortfall
// is logged as a warning and the clamped amount returned; the caller's
// transaction proceeds. Policy decision: shortfalls are not carried as a
// deficit record.
func (s *Store) DebitBonusClamped(ctx context.Context, tx *gorm.DB, agentID string, amount int64, reason, referenceID string) (int64, error) {
	agent, err := s.GetLocked(ctx, tx, agentID)
	if err != nil {
		return 0, err
	}

	applied := amount
	if agent.BonusPoints < amount {
		applied = agent.BonusPoints
		zap.L().Warn("bonus pool revoke clamped at zero",
			zap.String("agent_id", agentID),
			zap.Int64("requested", amount),
			zap.Int64("applied", applied),
			zap.Int64("shortfall", amount-applied),
			zap.String("reference_id", referenceID),
		)
	}

	if applied == 0 {
		return 0, s.journal(ctx, tx, agentID, PoolBonus, 0, ReasonBonusClamp, referenceID)
	}

	updates := map[string]any{
		"bonus_points": agent.BonusPoints - applied,
		"updated_at":   time.Now(),
	}
	if err := s.agents.WithTrx(tx).Update(ctx, agentID, updates); err != nil {
		return 0, err
	}

	return applied, s.journal(ctx, tx, agentID, PoolBonus, -applied, reason, referenceID)
}

// Spend deducts a redemption cost: bonus points are consumed first, earned
// value covers the remainder. The cumulative points_spent counter advances by
// the full amount.
func (s *Store) Spend(ctx context.Context, tx *gorm.DB, agentID string, amount int64, referenceID string) error {
	if amount <= 0 {
		return errutil.BadRequest("spend amount must be > 0")
	}

	agent, err := s.GetLocked(ctx, tx, agentID)
	if err != nil {
		return err
	}

	bonusUsed := amount
	if agent.BonusPoints < bonusUsed {
		bonusUsed = agent.BonusPoints
	}
	earnedUsed := amount - bonusUsed

	if earnedUsed > agent.EarnedValue {
		// Reservations should make this unreachable; deduction is still
		// applied because order administration must not be blocked.
		zap.L().Warn("order deduction exceeds earned value",
			zap.String("agent_id", agentID),
			zap.Int64("amount", amount),
			zap.Int64("earned_value", agent.EarnedValue),
			zap.String("reference_id", referenceID),
		)
	}

	updates := map[string]any{
		"bonus_points": agent.BonusPoints - bonusUsed,
		"earned_value": agent.EarnedValue - earnedUsed,
		"points_spent": gorm.Expr("points_spent + ?", amount),
		"updated_at":   time.Now(),
	}
	if err := s.agents.WithTrx(tx).Update(ctx, agentID, updates); err != nil {
		return err
	}

	if bonusUsed > 0 {
		if err := s.journal(ctx, tx, agentID, PoolBonus, -bonusUsed, ReasonOrderSpend, referenceID); err != nil {
			return err
		}
	}
	if earnedUsed > 0 {
		if err := s.journal(ctx, tx, agentID, PoolEarnedValue, -earnedUsed, ReasonOrderSpend, referenceID); err != nil {
			return err
		}
	}

	return nil
}

// Refund returns part of an order deduction and rolls the points_spent
// counter back. Refunds always land in earned value, regardless of which
// pools covered the original spend.
func (s *Store) Refund(ctx context.Context, tx *gorm.DB, agentID string, amount int64, referenceID string) error {
	if amount <= 0 {
		return errutil.BadRequest("refund amount must be > 0")
	}

	if _, err := s.GetLocked(ctx, tx, agentID); err != nil {
		return err
	}

	updates := map[string]any{
		"earned_value": gorm.Expr("earned_value + ?", amount),
		"points_spent": gorm.Expr("points_spent - ?", amount),
		"updated_at":   time.Now(),
	}
	if err := s.agents.WithTrx(tx).Update(ctx, agentID, updates); err != nil {
		return err
	}

	return s.journal(ctx, tx, agentID, PoolEarnedValue, amount, ReasonOrderRefund, referenceID)
}

func (s *Store) journal(ctx context.Context, tx *gorm.DB, agentID string, pool Pool, delta int64, reason, referenceID string) error {
	return s.movements.WithTrx(tx).Create(ctx, &Movement{
		ID:          s.node.Generate().String(),
		AgentID:     agentID,
		Pool:        string(pool),
		Delta:       delta,
		Reason:      reason,
		ReferenceID: referenceID,
		CreatedAt:   time.Now(),
	})
}

// Movements lists an agent's journal newest-first with cursor pagination.
func (s *Store) Movements(ctx context.Context, agentID string, page pagination.Pagination) ([]*Movement, *pagination.PageInfo, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 10
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
		// id tiebreak keeps same-instant rows in a stable order.
		func(q *gorm.DB) *gorm.DB { return q.Order("id DESC") },
		option.WithLimit(limit + 1),
	}

	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", errutil.WithErr(err))
		}
		at, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", errutil.WithErr(err))
		}
		opts = append(opts, func(q *gorm.DB) *gorm.DB {
			return q.Where("created_at < ? OR (created_at = ? AND id < ?)", at, at, cursor.ID)
		})
	}

	movements, err := s.movements.Find(ctx, &Movement{AgentID: agentID}, opts...)
	if err != nil {
		return nil, nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(movements, int32(limit), func(m *Movement) string {
		encoded, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
			ID:        m.ID,
		})
		return encoded
	})
	if len(movements) > limit {
		movements = movements[:limit]
	}

	return movements, pageInfo, nil
}
