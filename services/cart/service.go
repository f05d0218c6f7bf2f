package cart

import (
	"context"
	"time"

	"salespoints-platform/pkg/db"
	"salespoints-platform/pkg/db/option"
	"salespoints-platform/pkg/errutil"
	"salespoints-platform/pkg/repository"
	"salespoints-platform/services/audit"
	"salespoints-platform/services/ledger"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Service is the reservation ledger. Every mutation locks the agent's
// balance row first, then re-reads live availability inside the same
// transaction, so two concurrent reservations can never both pass a stale
// check.
type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	balance *ledger.Store
	sink    audit.Sink

	articles repository.Repository[Article]
	items    repository.Repository[Item]
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Balance *ledger.Store
	Sink    audit.Sink
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		balance: p.Balance,
		sink:    p.Sink,

		articles: repository.ProvideStore[Article](p.DB),
		items:    repository.ProvideStore[Item](p.DB),
	}
}

// ReservedPoints sums the agent's active and pending-payment holds.
func (s *Service) ReservedPoints(ctx context.Context, tx *gorm.DB, agentID string) (int64, error) {
	handle := s.db
	if tx != nil {
		handle = tx
	}

	var reserved int64
	err := handle.WithContext(ctx).
		Model(&Item{}).
		Select("COALESCE(SUM(reserved_points), 0)").
		Where("agent_id = ? AND status IN ?", agentID, []string{StatusActive, StatusPendingPayment}).
		Scan(&reserved).Error
	return reserved, err
}

// Availability is the agent's spendable balance minus reserved holds.
func (s *Service) Availability(ctx context.Context, tx *gorm.DB, agent *ledger.Agent) (int64, error) {
	reserved, err := s.ReservedPoints(ctx, tx, agent.ID)
	if err != nil {
		return 0, err
	}
	return agent.TotalSpendable() - reserved, nil
}

// Reserve places a point hold for qty units of an article. An existing
// active hold for the same (agent, article) is merged instead of duplicated.
func (s *Service) Reserve(ctx context.Context, agentID, articleID string, qty int64, actorID string) (*Item, error) {
	if qty <= 0 {
		return nil, errutil.ValidationFailed("quantity must be > 0")
	}

	article, err := s.articles.FindOne(ctx, &Article{ID: articleID})
	if err != nil {
		return nil, err
	}
	if article == nil || !article.Active {
		return nil, errutil.NotFound("article not found")
	}

	var item *Item
	var before int64
	err = db.RunInTxWithRetry(ctx, s.db, func(tx *gorm.DB) error {
		agent, err := s.balance.GetLocked(ctx, tx, agentID)
		if err != nil {
			return err
		}

		available, err := s.Availability(ctx, tx, agent)
		if err != nil {
			return err
		}

		cost := qty * article.UnitPrice
		if cost > available {
			return errutil.InsufficientBalance(cost - available)
		}

		itemTx := s.items.WithTrx(tx)
		existing, err := itemTx.FindOne(ctx, &Item{
			AgentID:   agentID,
			ArticleID: articleID,
			Status:    StatusActive,
		}, option.WithLockingUpdate())
		if err != nil {
			return err
		}

		if existing != nil {
			before = existing.Quantity
			newQty := existing.Quantity + qty
			updates := map[string]any{
				"quantity":        newQty,
				"reserved_points": newQty * article.UnitPrice,
				"updated_at":      time.Now(),
			}
			if err := itemTx.Update(ctx, existing.ID, updates); err != nil {
				return err
			}
			existing.Quantity = newQty
			existing.ReservedPoints = newQty * article.UnitPrice
			item = existing
			return nil
		}

		item = &Item{
			ID:             s.node.Generate().String(),
			AgentID:        agentID,
			ArticleID:      articleID,
			Quantity:       qty,
			ReservedPoints: qty * article.UnitPrice,
			Status:         StatusActive,
			CreatedAt:      time.Now(),
			UpdatedAt:      time.Now(),
		}
		return itemTx.Create(ctx, item)
	})
	if err != nil {
		return nil, err
	}

	s.sink.Record(ctx, audit.Event{
		Entity:   "cart_item",
		EntityID: item.ID,
		Action:   "reserve",
		ActorID:  actorID,
		Before:   audit.Values(map[string]any{"quantity": before}),
		After:    audit.Values(map[string]any{"quantity": item.Quantity, "reserved_points": item.ReservedPoints}),
	})

	return item, nil
}

// UpdateQuantity recomputes the hold from scratch for the new quantity.
// A non-positive quantity releases the hold.
func (s *Service) UpdateQuantity(ctx context.Context, itemID string, qty int64, actorID string) (*Item, error) {
	if qty <= 0 {
		return nil, s.Release(ctx, itemID, actorID)
	}

	var item *Item
	var before int64
	err := db.RunInTxWithRetry(ctx, s.db, func(tx *gorm.DB) error {
		itemTx := s.items.WithTrx(tx)
		existing, err := itemTx.FindOne(ctx, &Item{ID: itemID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if existing == nil {
			return errutil.NotFound("cart item not found")
		}
		if existing.Status != StatusActive {
			return errutil.Conflict("cart item is no longer active")
		}

		article, err := s.articles.WithTrx(tx).FindOne(ctx, &Article{ID: existing.ArticleID})
		if err != nil {
			return err
		}
		if article == nil {
			return errutil.NotFound("article not found")
		}

		agent, err := s.balance.GetLocked(ctx, tx, existing.AgentID)
		if err != nil {
			return err
		}

		available, err := s.Availability(ctx, tx, agent)
		if err != nil {
			return err
		}

		newCost := qty * article.UnitPrice
		delta := newCost - existing.ReservedPoints
		if delta > available {
			return errutil.InsufficientBalance(delta - available)
		}

		before = existing.Quantity
		updates := map[string]any{
			"quantity":        qty,
			"reserved_points": newCost,
			"updated_at":      time.Now(),
		}
		if err := itemTx.Update(ctx, existing.ID, updates); err != nil {
			return err
		}

		existing.Quantity = qty
		existing.ReservedPoints = newCost
		item = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.sink.Record(ctx, audit.Event{
		Entity:   "cart_item",
		EntityID: item.ID,
		Action:   "update_quantity",
		ActorID:  actorID,
		Before:   audit.Values(map[string]any{"quantity": before}),
		After:    audit.Values(map[string]any{"quantity": item.Quantity, "reserved_points": item.ReservedPoints}),
	})

	return item, nil
}

// Release deletes the hold, freeing its points immediately.
func (s *Service) Release(ctx context.Context, itemID, actorID string) error {
	var released *Item
	err := db.RunInTxWithRetry(ctx, s.db, func(tx *gorm.DB) error {
		itemTx := s.items.WithTrx(tx)
		existing, err := itemTx.FindOne(ctx, &Item{ID: itemID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if existing == nil {
			return errutil.NotFound("cart item not found")
		}

		if _, err := s.balance.GetLocked(ctx, tx, existing.AgentID); err != nil {
			return err
		}

		released = existing
		return itemTx.Delete(ctx, &Item{ID: itemID})
	})
	if err != nil {
		return err
	}

	s.sink.Record(ctx, audit.Event{
		Entity:   "cart_item",
		EntityID: released.ID,
		Action:   "release",
		ActorID:  actorID,
		Before:   audit.Values(map[string]any{"quantity": released.Quantity, "reserved_points": released.ReservedPoints}),
	})

	return nil
}

// ActiveItems returns the agent's active holds, locked for checkout.
func (s *Service) ActiveItems(ctx context.Context, tx *gorm.DB, agentID string) ([]*Item, error) {
	return s.items.WithTrx(tx).Find(ctx, &Item{
		AgentID: agentID,
		Status:  StatusActive,
	}, option.WithLockingUpdate())
}

// MarkStatus transitions the given items to a new reservation status.
func (s *Service) MarkStatus(ctx context.Context, tx *gorm.DB, items []*Item, status string) error {
	itemTx := s.items.WithTrx(tx)
	for _, item := range items {
		updates := map[string]any{
			"status":     status,
			"updated_at": time.Now(),
		}
		if err := itemTx.Update(ctx, item.ID, updates); err != nil {
			return err
		}
		item.Status = status
	}
	return nil
}

// DeleteByStatus removes all of the agent's holds in the given status.
func (s *Service) DeleteByStatus(ctx context.Context, tx *gorm.DB, agentID, status string) error {
	return s.items.WithTrx(tx).Delete(ctx, &Item{AgentID: agentID, Status: status})
}

func (s *Service) Items(ctx context.Context, agentID string) ([]*Item, error) {
	return s.items.Find(ctx, &Item{AgentID: agentID})
}

func (s *Service) Article(ctx context.Context, tx *gorm.DB, articleID string) (*Article, error) {
	articles := s.articles
	if tx != nil {
		articles = s.articles.WithTrx(tx)
	}
	return articles.FindOne(ctx, &Article{ID: articleID})
}

// CreateArticle registers a rewards-store item.
func (s *Service) CreateArticle(ctx context.Context, name string, unitPrice int64, actorID string) (*Article, error) {
	if name == "" {
		return nil, errutil.ValidationFailed("name is required")
	}
	if unitPrice <= 0 {
		return nil, errutil.ValidationFailed("unit price must be > 0")
	}

	article := &Article{
		ID:        s.node.Generate().String(),
		Name:      name,
		Slug:      slug.Make(name),
		UnitPrice: unitPrice,
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.articles.Create(ctx, article); err != nil {
		return nil, err
	}

	s.sink.Record(ctx, audit.Event{
		Entity:   "article",
		EntityID: article.ID,
		Action:   "create",
		ActorID:  actorID,
		After:    audit.Values(map[string]any{"name": article.Name, "unit_price": article.UnitPrice}),
	})

	return article, nil
}
