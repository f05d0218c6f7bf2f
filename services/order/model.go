package order

import "time"

// Order statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Item fulfillment statuses. fulfilled, cancelled and refunded are terminal.
// refunded is reachable only from fulfilled on a completed order, so the
// completion check never encounters it on a pending one.
const (
	ItemPending    = "pending"
	ItemProcessing = "processing"
	ItemFulfilled  = "fulfilled"
	ItemCancelled  = "cancelled"
	ItemRefunded   = "refunded"
)

// Order is a reward redemption created from the agent's cart at checkout.
// Points are deducted exactly once, when the order reaches completed.
type Order struct {
	ID              string     `gorm:"column:id;primaryKey"`
	Code            string     `gorm:"column:code;uniqueIndex"`
	AgentID         string     `gorm:"column:agent_id;index;not null"`
	TotalPoints     int64      `gorm:"column:total_points;not null"`
	Status          string     `gorm:"column:status;type:varchar(20);not null;default:'pending'"`
	CustomerMessage string     `gorm:"column:customer_message;type:text"`
	CompletedAt     *time.Time `gorm:"column:completed_at"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
}

type Item struct {
	ID             string     `gorm:"column:id;primaryKey"`
	OrderID        string     `gorm:"column:order_id;index;not null"`
	ArticleID      string     `gorm:"column:article_id;index;not null"`
	Quantity       int64      `gorm:"column:quantity;not null"`
	UnitPrice      int64      `gorm:"column:unit_price;not null"`
	TotalPoints    int64      `gorm:"column:total_points;not null"`
	Status         string     `gorm:"column:status;type:varchar(20);not null;default:'pending'"`
	RedemptionCode string     `gorm:"column:redemption_code"`
	FulfilledByID  string     `gorm:"column:fulfilled_by_id"`
	FulfilledAt    *time.Time `gorm:"column:fulfilled_at"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func itemTerminal(status string) bool {
	switch status {
	case ItemFulfilled, ItemCancelled, ItemRefunded:
		return true
	}
	return false
}
