package job

import (
	"time"

	"gorm.io/datatypes"
)

// Job holds the extract/transform/load configuration a task executes against.
type Job struct {
	ID          string    `gorm:"column:id;primaryKey;type:varchar(32)"`
	Name        string    `gorm:"column:name;type:varchar(255);not null"`
	JobType     string    `gorm:"column:job_type;type:varchar(255)"`
	WorkspaceID string    `gorm:"column:workspace_id;index;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`

	ExtractorType     *string           `gorm:"column:extractor_type;type:varchar(255)"`
	ExtractorSettings datatypes.JSONMap `gorm:"column:extractor_settings"`

	TransformerType     *string           `gorm:"column:transformer_type;type:varchar(255)"`
	TransformerSettings datatypes.JSONMap `gorm:"column:transformer_settings"`

	LoaderType     *string           `gorm:"column:loader_type;type:varchar(255)"`
	LoaderSettings datatypes.JSONMap `gorm:"column:loader_settings"`
}

// TransformerRaw flattens the job's transformer configuration into the raw
// form the error classifier expects: the settings map plus a "type" key.
func (j *Job) TransformerRaw() map[string]any {
	if j == nil || j.TransformerType == nil {
		return nil
	}

	raw := make(map[string]any, len(j.TransformerSettings)+1)
	for k, v := range j.TransformerSettings {
		raw[k] = v
	}
	if _, ok := raw["type"]; !ok {
		raw["type"] = *j.TransformerType
	}
	return raw
}
