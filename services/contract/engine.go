package contract

import (
	"context"
	"errors"
	"time"

	"salespoints-platform/pkg/db"
	"salespoints-platform/pkg/db/option"
	"salespoints-platform/pkg/errutil"
	"salespoints-platform/pkg/repository"
	"salespoints-platform/pkg/sequence"
	"salespoints-platform/services/audit"
	"salespoints-platform/services/ledger"
	"salespoints-platform/services/referral"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Engine turns a contract's status change into point accrual or revocation
// and cascades the referral bonus to the inviting agent. It is invoked
// explicitly by the contract write path; there is no implicit model hook.
type Engine struct {
	db      *gorm.DB
	node    *snowflake.Node
	balance *ledger.Store
	graph   *referral.Graph
	sink    audit.Sink
	seq     sequence.Generator

	contracts repository.Repository[Contract]
	options   repository.Repository[StatusOption]
	products  repository.Repository[Product]
	families  repository.Repository[ProductFamily]
}

type EngineParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Balance *ledger.Store
	Graph   *referral.Graph
	Sink    audit.Sink
	Seq     sequence.Generator `optional:"true"`
}

func NewEngine(p EngineParams) *Engine {
	return &Engine{
		db:      p.DB,
		node:    p.Node,
		balance: p.Balance,
		graph:   p.Graph,
		sink:    p.Sink,
		seq:     p.Seq,

		contracts: repository.ProvideStore[Contract](p.DB),
		options:   repository.ProvideStore[StatusOption](p.DB),
		products:  repository.ProvideStore[Product](p.DB),
		families:  repository.ProvideStore[ProductFamily](p.DB),
	}
}

// ChangeStatus writes the contract's new status and applies the resulting
// ledger effects in one unit of work. Writing the status a contract already
// has is a no-op. A points error never blocks the status write: when the
// product family cannot be resolved the status still commits, without point
// movement.
func (e *Engine) ChangeStatus(ctx context.Context, contractID, newStatusID, actorID string) (*Contract, error) {
	var result *Contract
	var events []audit.Event

	err := db.RunInTxWithRetry(ctx, e.db, func(tx *gorm.DB) error {
		events = events[:0]

		contract, err := e.contracts.WithTrx(tx).FindOne(ctx, &Contract{ID: contractID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if contract == nil {
			return errutil.NotFound("contract not found")
		}

		result = contract
		if contract.StatusID == newStatusID {
			// No-op write; must not re-trigger point movement.
			return nil
		}

		agent, err := e.balance.GetLocked(ctx, tx, contract.AgentID)
		if err != nil {
			return err
		}

		oldStatusID := contract.StatusID
		oldClass, err := e.classify(ctx, tx, oldStatusID, agent.Role)
		if err != nil {
			return err
		}
		newClass, err := e.classify(ctx, tx, newStatusID, agent.Role)
		if err != nil {
			return err
		}

		updates := map[string]any{
			"status_id":  newStatusID,
			"updated_at": time.Now(),
		}
		if err := e.contracts.WithTrx(tx).Update(ctx, contract.ID, updates); err != nil {
			return err
		}
		contract.StatusID = newStatusID

		events = append(events, audit.Event{
			Entity:   "contract",
			EntityID: contract.ID,
			Action:   "status_change",
			ActorID:  actorID,
			Before:   audit.Values(map[string]any{"status_id": oldStatusID}),
			After:    audit.Values(map[string]any{"status_id": newStatusID}),
		})

		_, err = e.applyPoints(ctx, tx, contract, agent, EvaluateTransition(oldClass, newClass), actorID, &events)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, event := range events {
		e.sink.Record(ctx, event)
	}

	return result, nil
}

// applyPoints moves points for one evaluated transition. The agent balance
// row is already locked by the caller's transaction.
func (e *Engine) applyPoints(ctx context.Context, tx *gorm.DB, contract *Contract, agent *ledger.Agent, outcome Outcome, actorID string, events *[]audit.Event) (bool, error) {
	if outcome.Value == MoveNone && outcome.Career == MoveNone {
		return false, nil
	}

	family, err := e.resolveFamily(ctx, tx, contract.ProductID)
	if err != nil {
		return false, err
	}
	if family == nil {
		zap.L().Warn("cannot resolve product family, skipping point movement",
			zap.String("contract_id", contract.ID),
			zap.String("product_id", contract.ProductID),
		)
		return false, nil
	}

	switch outcome.Value {
	case MoveAssign:
		if err := e.balance.Credit(ctx, tx, ledger.PoolEarnedValue, agent.ID, family.ValuePoints, ledger.ReasonStatusAssign, contract.ID); err != nil {
			return false, err
		}
	case MoveRevoke:
		if err := e.balance.Debit(ctx, tx, ledger.PoolEarnedValue, agent.ID, family.ValuePoints, ledger.ReasonStatusRevoke, contract.ID); err != nil {
			return false, err
		}
	}

	switch outcome.Career {
	case MoveAssign:
		if err := e.balance.Credit(ctx, tx, ledger.PoolCareer, agent.ID, family.CareerPoints, ledger.ReasonStatusAssign, contract.ID); err != nil {
			return false, err
		}
	case MoveRevoke:
		if err := e.balance.Debit(ctx, tx, ledger.PoolCareer, agent.ID, family.CareerPoints, ledger.ReasonStatusRevoke, contract.ID); err != nil {
			return false, err
		}
	}

	action := "points_assign"
	if outcome.Value == MoveRevoke || (outcome.Value == MoveNone && outcome.Career == MoveRevoke) {
		action = "points_revoke"
	}
	*events = append(*events, audit.Event{
		Entity:   "agent",
		EntityID: agent.ID,
		Action:   action,
		ActorID:  actorID,
		After: audit.Values(map[string]any{
			"contract_id":   contract.ID,
			"value_points":  family.ValuePoints,
			"career_points": family.CareerPoints,
		}),
	})

	if outcome.Value != MoveNone {
		if err := e.cascadeBonus(ctx, tx, contract, outcome.Value, family.ValuePoints, actorID, events); err != nil {
			return false, err
		}
	}

	return true, nil
}

// cascadeBonus credits or debits the inviting agent's bonus pool. A missing
// referral chain or missing inviter is a quiet no-op; the transition itself
// never fails for bonus reasons.
func (e *Engine) cascadeBonus(ctx context.Context, tx *gorm.DB, contract *Contract, move Movement, basePoints int64, actorID string, events *[]audit.Event) error {
	inviterID, err := e.graph.Inviter(ctx, tx, contract.AgentID)
	if err != nil {
		if errors.Is(err, referral.ErrNoReferral) {
			return nil
		}
		return err
	}

	bonus := BonusPoints(basePoints)
	if bonus == 0 {
		return nil
	}

	// The referral chain may point at an agent that no longer exists. The
	// inviter row is resolved under the lock before any journal write so a
	// missing inviter leaves no trace of a credit that never landed.
	if _, err := e.balance.GetLocked(ctx, tx, inviterID); err != nil {
		var base errutil.BaseError
		if errors.As(err, &base) && base.Status() == errutil.StatusNotFound {
			zap.L().Warn("inviting agent missing, skipping bonus cascade",
				zap.String("contract_id", contract.ID),
				zap.String("inviter_id", inviterID),
			)
			return nil
		}
		return err
	}

	action := "bonus_assign"
	switch move {
	case MoveAssign:
		err = e.balance.Credit(ctx, tx, ledger.PoolBonus, inviterID, bonus, ledger.ReasonBonusAssign, contract.ID)
	case MoveRevoke:
		action = "bonus_revoke"
		_, err = e.balance.DebitBonusClamped(ctx, tx, inviterID, bonus, ledger.ReasonBonusRevoke, contract.ID)
	}
	if err != nil {
		return err
	}

	*events = append(*events, audit.Event{
		Entity:   "agent",
		EntityID: inviterID,
		Action:   action,
		ActorID:  actorID,
		After: audit.Values(map[string]any{
			"contract_id":  contract.ID,
			"bonus_points": bonus,
		}),
	})

	return nil
}

// classify looks up the StatusOption for a status. A row scoped to the
// agent's role wins over the unscoped row; no row means not generating.
func (e *Engine) classify(ctx context.Context, tx *gorm.DB, statusID, role string) (Classification, error) {
	optTx := e.options.WithTrx(tx)

	if role != "" {
		scoped, err := optTx.FindOne(ctx, &StatusOption{StatusID: statusID, Role: role})
		if err != nil {
			return Classification{}, err
		}
		if scoped != nil {
			return Classification{Value: scoped.GeneratesValue, Career: scoped.GeneratesCareer}, nil
		}
	}

	unscoped, err := optTx.FindOne(ctx, &StatusOption{StatusID: statusID},
		option.ApplyOperator(option.Condition{Field: "role", Operator: option.EQ, Value: ""}))
	if err != nil {
		return Classification{}, err
	}
	if unscoped == nil {
		return Classification{}, nil
	}

	return Classification{Value: unscoped.GeneratesValue, Career: unscoped.GeneratesCareer}, nil
}

func (e *Engine) resolveFamily(ctx context.Context, tx *gorm.DB, productID string) (*ProductFamily, error) {
	product, err := e.products.WithTrx(tx).FindOne(ctx, &Product{ID: productID})
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, nil
	}

	return e.families.WithTrx(tx).FindOne(ctx, &ProductFamily{ID: product.FamilyID})
}

// Create registers a contract and applies the initial status as a transition
// from a non-generating baseline, so a contract born in a generating status
// is credited exactly once.
func (e *Engine) Create(ctx context.Context, agentID, productID, statusID, recordedByID, actorID string) (*Contract, error) {
	code := ""
	if e.seq != nil {
		generated, err := e.seq.NextContractCode(ctx)
		if err != nil {
			zap.L().Warn("failed to generate contract code", zap.Error(err))
		} else {
			code = generated
		}
	}

	if code == "" {
		code = "C" + e.node.Generate().String()
	}

	var contract *Contract
	var events []audit.Event

	err := db.RunInTxWithRetry(ctx, e.db, func(tx *gorm.DB) error {
		events = events[:0]

		agent, err := e.balance.GetLocked(ctx, tx, agentID)
		if err != nil {
			return err
		}

		product, err := e.products.WithTrx(tx).FindOne(ctx, &Product{ID: productID})
		if err != nil {
			return err
		}
		if product == nil {
			return errutil.NotFound("product not found")
		}

		contract = &Contract{
			ID:           e.node.Generate().String(),
			Code:         code,
			AgentID:      agentID,
			ProductID:    productID,
			StatusID:     statusID,
			RecordedByID: recordedByID,
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}
		if err := e.contracts.WithTrx(tx).Create(ctx, contract); err != nil {
			return err
		}

		events = append(events, audit.Event{
			Entity:   "contract",
			EntityID: contract.ID,
			Action:   "create",
			ActorID:  actorID,
			After: audit.Values(map[string]any{
				"agent_id":   agentID,
				"product_id": productID,
				"status_id":  statusID,
			}),
		})

		initial, err := e.classify(ctx, tx, statusID, agent.Role)
		if err != nil {
			return err
		}

		_, err = e.applyPoints(ctx, tx, contract, agent, EvaluateTransition(Classification{}, initial), actorID, &events)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, event := range events {
		e.sink.Record(ctx, event)
	}

	return contract, nil
}

func (e *Engine) Get(ctx context.Context, contractID string) (*Contract, error) {
	contract, err := e.contracts.FindOne(ctx, &Contract{ID: contractID})
	if err != nil {
		return nil, err
	}
	if contract == nil {
		return nil, errutil.NotFound("contract not found")
	}
	return contract, nil
}
