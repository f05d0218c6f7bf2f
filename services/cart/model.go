package cart

import "time"

// Article is a rewards-store item priced in points.
type Article struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	Slug      string    `gorm:"column:slug;uniqueIndex;not null"`
	UnitPrice int64     `gorm:"column:unit_price;not null"`
	Active    bool      `gorm:"column:active;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// Reservation statuses. Rows are deleted on release; quantity changes
// recompute reserved points from scratch so the hold never drifts.
const (
	StatusActive         = "active"
	StatusPendingPayment = "pending_payment"
	StatusCompleted      = "completed"
)

// Item is a per-agent, per-article point hold that is not yet spent.
type Item struct {
	ID             string    `gorm:"column:id;primaryKey"`
	AgentID        string    `gorm:"column:agent_id;index;not null"`
	ArticleID      string    `gorm:"column:article_id;index;not null"`
	Quantity       int64     `gorm:"column:quantity;not null"`
	ReservedPoints int64     `gorm:"column:reserved_points;not null"`
	Status         string    `gorm:"column:status;type:varchar(20);not null;default:'active'"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}
