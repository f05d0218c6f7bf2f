package referral

import "time"

// Lead is a prospective customer, optionally introduced by an agent.
type Lead struct {
	ID               string    `gorm:"column:id;primaryKey"`
	Name             string    `gorm:"column:name;not null"`
	Email            string    `gorm:"column:email;index"`
	InvitedByAgentID *string   `gorm:"column:invited_by_agent_id;index"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

// LeadConversion links a lead to the agent account it converted into.
type LeadConversion struct {
	ID              string    `gorm:"column:id;primaryKey"`
	LeadID          string    `gorm:"column:lead_id;uniqueIndex;not null"`
	CustomerAgentID string    `gorm:"column:customer_agent_id;uniqueIndex;not null"`
	ConvertedAt     time.Time `gorm:"column:converted_at"`
}
