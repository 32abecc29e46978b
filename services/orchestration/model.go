package orchestration

import "time"

// System is an external scheduler that may manage a task's execution instead
// of the internal schedule. A nil WorkspaceID means the system is globally
// usable.
type System struct {
	ID          string    `gorm:"column:id;primaryKey;type:varchar(32)"`
	Name        string    `gorm:"column:name;type:varchar(255);not null"`
	SystemType  string    `gorm:"column:system_type;type:varchar(255)"`
	WorkspaceID *string   `gorm:"column:workspace_id;index"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}
