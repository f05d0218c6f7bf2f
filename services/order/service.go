package order

import (
	"context"
	"time"

	"salespoints-platform/pkg/db"
	"salespoints-platform/pkg/db/option"
	"salespoints-platform/pkg/errutil"
	"salespoints-platform/pkg/repository"
	"salespoints-platform/pkg/sequence"
	"salespoints-platform/pkg/util"
	"salespoints-platform/services/audit"
	"salespoints-platform/services/cart"
	"salespoints-platform/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service is the order fulfillment engine. Checkout turns cart holds into an
// order; completing the order deducts the points, bonus pool first.
type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	balance *ledger.Store
	cart    *cart.Service
	sink    audit.Sink
	seq     sequence.Generator

	orders repository.Repository[Order]
	items  repository.Repository[Item]
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Balance *ledger.Store
	Cart    *cart.Service
	Sink    audit.Sink
	Seq     sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		balance: p.Balance,
		cart:    p.Cart,
		sink:    p.Sink,
		seq:     p.Seq,

		orders: repository.ProvideStore[Order](p.DB),
		items:  repository.ProvideStore[Item](p.DB),
	}
}

// Checkout consumes all of the agent's active cart holds into one pending
// order and moves the holds to pending-payment. Availability is re-validated
// under the balance row lock.
func (s *Service) Checkout(ctx context.Context, agentID, customerMessage, actorID string) (*Order, error) {
	code := ""
	if s.seq != nil {
		generated, err := s.seq.NextOrderCode(ctx)
		if err != nil {
			zap.L().Warn("failed to generate order code", zap.Error(err))
		} else {
			code = generated
		}
	}
	if code == "" {
		code = "ORD-" + s.node.Generate().String()
	}

	var created *Order
	err := db.RunInTxWithRetry(ctx, s.db, func(tx *gorm.DB) error {
		agent, err := s.balance.GetLocked(ctx, tx, agentID)
		if err != nil {
			return err
		}

		holds, err := s.cart.ActiveItems(ctx, tx, agentID)
		if err != nil {
			return err
		}
		if len(holds) == 0 {
			return errutil.BadRequest("cart is empty")
		}

		var total int64
		for _, hold := range holds {
			total += hold.ReservedPoints
		}

		available, err := s.cart.Availability(ctx, tx, agent)
		if err != nil {
			return err
		}
		// The holds are already counted in the reservation sum, so a
		// negative availability means the balance shrank since they were
		// placed.
		if available < 0 {
			return errutil.InsufficientBalance(-available)
		}

		created = &Order{
			ID:              s.node.Generate().String(),
			Code:            code,
			AgentID:         agentID,
			TotalPoints:     total,
			Status:          StatusPending,
			CustomerMessage: customerMessage,
			CreatedAt:       time.Now(),
			UpdatedAt:       time.Now(),
		}
		if err := s.orders.WithTrx(tx).Create(ctx, created); err != nil {
			return err
		}

		orderItems := make([]*Item, 0, len(holds))
		for _, hold := range holds {
			article, err := s.cart.Article(ctx, tx, hold.ArticleID)
			if err != nil {
				return err
			}
			unitPrice := hold.ReservedPoints / hold.Quantity
			if article != nil {
				unitPrice = article.UnitPrice
			}
			orderItems = append(orderItems, &Item{
				ID:          s.node.Generate().String(),
				OrderID:     created.ID,
				ArticleID:   hold.ArticleID,
				Quantity:    hold.Quantity,
				UnitPrice:   unitPrice,
				TotalPoints: hold.ReservedPoints,
				Status:      ItemPending,
				CreatedAt:   time.Now(),
				UpdatedAt:   time.Now(),
			})
		}
		if err := s.items.WithTrx(tx).BatchCreate(ctx, orderItems); err != nil {
			return err
		}

		return s.cart.MarkStatus(ctx, tx, holds, cart.StatusPendingPayment)
	})
	if err != nil {
		return nil, err
	}

	s.sink.Record(ctx, audit.Event{
		Entity:   "order",
		EntityID: created.ID,
		Action:   "checkout",
		ActorID:  actorID,
		After: audit.Values(map[string]any{
			"agent_id":     created.AgentID,
			"total_points": created.TotalPoints,
		}),
	})

	return created, nil
}

// StartProcessing moves a pending item to processing.
func (s *Service) StartProcessing(ctx context.Context, itemID, actorID string) (*Item, error) {
	var item *Item
	err := db.RunInTxWithRetry(ctx, s.db, func(tx *gorm.DB) error {
		existing, err := s.items.WithTrx(tx).FindOne(ctx, &Item{ID: itemID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if existing == nil {
			return errutil.NotFound("order item not found")
		}
		if existing.Status != ItemPending {
			return errutil.Conflict("order item is not pending")
		}

		updates := map[string]any{
			"status":     ItemProcessing,
			"updated_at": time.Now(),
		}
		if err := s.items.WithTrx(tx).Update(ctx, existing.ID, updates); err != nil {
			return err
		}
		existing.Status = ItemProcessing
		item = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.sink.Record(ctx, audit.Event{
		Entity:   "order_item",
		EntityID: item.ID,
		Action:   "start_processing",
		ActorID:  actorID,
	})

	return item, nil
}

// FulfillItem marks one item fulfilled and re-evaluates the order aggregate.
// The order completes, and points are deducted, only when every
// non-cancelled item is fulfilled.
func (s *Service) FulfillItem(ctx context.Context, itemID, redemptionCode, operatorID string) (*Item, error) {
	var item *Item
	var events []audit.Event

	err := db.RunInTxWithRetry(ctx, s.db, func(tx *gorm.DB) error {
		events = events[:0]

		existing, err := s.items.WithTrx(tx).FindOne(ctx, &Item{ID: itemID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if existing == nil {
			return errutil.NotFound("order item not found")
		}
		if itemTerminal(existing.Status) {
			return errutil.Conflict("order item already finalized")
		}

		if redemptionCode == "" {
			redemptionCode = util.GenerateRedemptionCode()
		}

		now := time.Now()
		updates := map[string]any{
			"status":          ItemFulfilled,
			"redemption_code": redemptionCode,
			"fulfilled_by_id": operatorID,
			"fulfilled_at":    now,
			"updated_at":      now,
		}
		if err := s.items.WithTrx(tx).Update(ctx, existing.ID, updates); err != nil {
			return err
		}
		existing.Status = ItemFulfilled
		existing.RedemptionCode = redemptionCode
		existing.FulfilledByID = operatorID
		existing.FulfilledAt = &now
		item = existing

		events = append(events, audit.Event{
			Entity:   "order_item",
			EntityID: existing.ID,
			Action:   "fulfill",
			ActorID:  operatorID,
			After:    audit.Values(map[string]any{"redemption_code": redemptionCode}),
		})

		return s.evaluateCompletion(ctx, tx, existing.OrderID, operatorID, &events)
	})
	if err != nil {
		return nil, err
	}

	for _, event := range events {
		s.sink.Record(ctx, event)
	}

	return item, nil
}

// evaluateCompletion completes the order once every non-cancelled item is
// fulfilled. Completion is detected as a dirty transition: an already
// completed order is never re-deducted.
func (s *Service) evaluateCompletion(ctx context.Context, tx *gorm.DB, orderID, actorID string, events *[]audit.Event) error {
	ord, err := s.orders.WithTrx(tx).FindOne(ctx, &Order{ID: orderID}, option.WithLockingUpdate())
	if err != nil {
		return err
	}
	if ord == nil {
		return errutil.NotFound("order not found")
	}
	if ord.Status != StatusPending {
		return nil
	}

	items, err := s.items.WithTrx(tx).Find(ctx, &Item{OrderID: orderID})
	if err != nil {
		return err
	}

	fulfilled := 0
	for _, item := range items {
		switch item.Status {
		case ItemFulfilled:
			fulfilled++
		case ItemCancelled:
			// excluded from the completion predicate
		default:
			return nil
		}
	}
	if fulfilled == 0 {
		return nil
	}

	return s.complete(ctx, tx, ord, actorID, events)
}

// complete applies the one-time completion effects: bonus-first point
// deduction, the points_spent counter, and settling the cart holds.
func (s *Service) complete(ctx context.Context, tx *gorm.DB, ord *Order, actorID string, events *[]audit.Event) error {
	if err := s.balance.Spend(ctx, tx, ord.AgentID, ord.TotalPoints, ord.ID); err != nil {
		return err
	}

	// Holds were consumed at checkout; settle and drop them.
	var holds []*cart.Item
	if err := tx.WithContext(ctx).
		Where("agent_id = ? AND status = ?", ord.AgentID, cart.StatusPendingPayment).
		Find(&holds).Error; err != nil {
		return err
	}
	if err := s.cart.MarkStatus(ctx, tx, holds, cart.StatusCompleted); err != nil {
		return err
	}
	if err := s.cart.DeleteByStatus(ctx, tx, ord.AgentID, cart.StatusCompleted); err != nil {
		return err
	}

	now := time.Now()
	updates := map[string]any{
		"status":       StatusCompleted,
		"completed_at": now,
		"updated_at":   now,
	}
	if err := s.orders.WithTrx(tx).Update(ctx, ord.ID, updates); err != nil {
		return err
	}
	ord.Status = StatusCompleted
	ord.CompletedAt = &now

	*events = append(*events, audit.Event{
		Entity:   "order",
		EntityID: ord.ID,
		Action:   "complete",
		ActorID:  actorID,
		Before:   audit.Values(map[string]any{"status": StatusPending}),
		After: audit.Values(map[string]any{
			"status":          StatusCompleted,
			"points_deducted": ord.TotalPoints,
		}),
	})

	return nil
}

// RefundItem returns a fulfilled item of a completed order. The item's points
// go back to the agent and the item ends in refunded. Pending orders are
// handled by Cancel, which never deducted anything to begin with.
func (s *Service) RefundItem(ctx context.Context, itemID, actorID string) (*Item, error) {
	var item *Item
	err := db.RunInTxWithRetry(ctx, s.db, func(tx *gorm.DB) error {
		existing, err := s.items.WithTrx(tx).FindOne(ctx, &Item{ID: itemID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if existing == nil {
			return errutil.NotFound("order item not found")
		}
		if existing.Status != ItemFulfilled {
			return errutil.Conflict("only fulfilled items can be refunded")
		}

		ord, err := s.orders.WithTrx(tx).FindOne(ctx, &Order{ID: existing.OrderID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if ord == nil {
			return errutil.NotFound("order not found")
		}
		if ord.Status != StatusCompleted {
			return errutil.Conflict("order is not completed")
		}

		if err := s.balance.Refund(ctx, tx, ord.AgentID, existing.TotalPoints, ord.ID); err != nil {
			return err
		}

		updates := map[string]any{
			"status":     ItemRefunded,
			"updated_at": time.Now(),
		}
		if err := s.items.WithTrx(tx).Update(ctx, existing.ID, updates); err != nil {
			return err
		}
		existing.Status = ItemRefunded
		item = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.sink.Record(ctx, audit.Event{
		Entity:   "order_item",
		EntityID: item.ID,
		Action:   "refund",
		ActorID:  actorID,
		After:    audit.Values(map[string]any{"points_returned": item.TotalPoints}),
	})

	return item, nil
}

// Cancel terminally cancels a pending order and releases the holds that
// never completed. No deduction happens: points only move at completion.
func (s *Service) Cancel(ctx context.Context, orderID, actorID string) (*Order, error) {
	var cancelled *Order
	err := db.RunInTxWithRetry(ctx, s.db, func(tx *gorm.DB) error {
		ord, err := s.orders.WithTrx(tx).FindOne(ctx, &Order{ID: orderID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if ord == nil {
			return errutil.NotFound("order not found")
		}
		if ord.Status != StatusPending {
			return errutil.Conflict("order is not pending")
		}

		items, err := s.items.WithTrx(tx).Find(ctx, &Item{OrderID: orderID})
		if err != nil {
			return err
		}
		for _, item := range items {
			if itemTerminal(item.Status) {
				continue
			}
			updates := map[string]any{
				"status":     ItemCancelled,
				"updated_at": time.Now(),
			}
			if err := s.items.WithTrx(tx).Update(ctx, item.ID, updates); err != nil {
				return err
			}
		}

		if err := s.cart.DeleteByStatus(ctx, tx, ord.AgentID, cart.StatusPendingPayment); err != nil {
			return err
		}

		updates := map[string]any{
			"status":     StatusCancelled,
			"updated_at": time.Now(),
		}
		if err := s.orders.WithTrx(tx).Update(ctx, ord.ID, updates); err != nil {
			return err
		}
		ord.Status = StatusCancelled
		cancelled = ord
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.sink.Record(ctx, audit.Event{
		Entity:   "order",
		EntityID: cancelled.ID,
		Action:   "cancel",
		ActorID:  actorID,
		Before:   audit.Values(map[string]any{"status": StatusPending}),
		After:    audit.Values(map[string]any{"status": StatusCancelled}),
	})

	return cancelled, nil
}

// ForceComplete is the operator override: unfinished items are cancelled and
// the order completes with the full deduction.
func (s *Service) ForceComplete(ctx context.Context, orderID, actorID string) (*Order, error) {
	var forced *Order
	var events []audit.Event

	err := db.RunInTxWithRetry(ctx, s.db, func(tx *gorm.DB) error {
		events = events[:0]

		ord, err := s.orders.WithTrx(tx).FindOne(ctx, &Order{ID: orderID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if ord == nil {
			return errutil.NotFound("order not found")
		}
		if ord.Status != StatusPending {
			return errutil.Conflict("order is not pending")
		}

		items, err := s.items.WithTrx(tx).Find(ctx, &Item{OrderID: orderID})
		if err != nil {
			return err
		}
		for _, item := range items {
			if itemTerminal(item.Status) {
				continue
			}
			updates := map[string]any{
				"status":     ItemCancelled,
				"updated_at": time.Now(),
			}
			if err := s.items.WithTrx(tx).Update(ctx, item.ID, updates); err != nil {
				return err
			}
		}

		forced = ord
		return s.complete(ctx, tx, ord, actorID, &events)
	})
	if err != nil {
		return nil, err
	}

	for _, event := range events {
		s.sink.Record(ctx, event)
	}

	return forced, nil
}

func (s *Service) Get(ctx context.Context, orderID string) (*Order, []*Item, error) {
	ord, err := s.orders.FindOne(ctx, &Order{ID: orderID})
	if err != nil {
		return nil, nil, err
	}
	if ord == nil {
		return nil, nil, errutil.NotFound("order not found")
	}

	items, err := s.items.Find(ctx, &Item{OrderID: orderID})
	if err != nil {
		return nil, nil, err
	}

	return ord, items, nil
}
