package contract

import "time"

// ProductFamily carries the fixed point award per contract in the family.
// The values are looked up at transition time, never stored on the contract.
type ProductFamily struct {
	ID           string    `gorm:"column:id;primaryKey"`
	Name         string    `gorm:"column:name;not null"`
	ValuePoints  int64     `gorm:"column:value_points;not null"`
	CareerPoints int64     `gorm:"column:career_points;not null"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

type Product struct {
	ID        string    `gorm:"column:id;primaryKey"`
	FamilyID  string    `gorm:"column:family_id;index;not null"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// StatusOption classifies a contract status as point-generating or not,
// optionally scoped to an agent role. A role-scoped row overrides the
// unscoped row for the same status.
type StatusOption struct {
	ID              string    `gorm:"column:id;primaryKey"`
	StatusID        string    `gorm:"column:status_id;index;not null"`
	Role            string    `gorm:"column:role;index"`
	GeneratesValue  bool      `gorm:"column:generates_value;not null;default:false"`
	GeneratesCareer bool      `gorm:"column:generates_career;not null;default:false"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

// Contract belongs to one agent and one product. Status changes drive the
// transition engine; recorded_by tracks who entered the contract.
type Contract struct {
	ID           string    `gorm:"column:id;primaryKey"`
	Code         string    `gorm:"column:code;uniqueIndex"`
	AgentID      string    `gorm:"column:agent_id;index;not null"`
	ProductID    string    `gorm:"column:product_id;index;not null"`
	StatusID     string    `gorm:"column:status_id;index;not null"`
	RecordedByID string    `gorm:"column:recorded_by_id;index"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}
