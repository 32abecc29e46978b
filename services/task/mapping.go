package task

import (
	"encoding/json"
	"fmt"

	"hydroserver-etl/pkg/errutil"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// replaceMappings swaps a task's entire mapping set for the supplied one.
// An unset or null patch leaves the mappings untouched; any provided list,
// including an empty one, replaces everything. Partial merge of the tree is
// deliberately unsupported.
func replaceMappings(tx *gorm.DB, node *snowflake.Node, taskID string, mappings Field[[]MappingInput]) error {
	if !mappings.Set || mappings.Value == nil {
		return nil
	}

	inputs := *mappings.Value

	seen := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		if _, dup := seen[in.SourceIdentifier]; dup {
			return errutil.BadRequest(
				fmt.Sprintf("Duplicate mapping source identifier '%s'", in.SourceIdentifier), nil,
			)
		}
		seen[in.SourceIdentifier] = struct{}{}
	}

	err := tx.Where(
		"task_mapping_id IN (?)",
		tx.Model(&TaskMapping{}).Select("id").Where("task_id = ?", taskID),
	).Delete(&TaskMappingPath{}).Error
	if err != nil {
		return err
	}
	if err := tx.Where("task_id = ?", taskID).Delete(&TaskMapping{}).Error; err != nil {
		return err
	}

	for i, in := range inputs {
		mapping := TaskMapping{
			ID:               node.Generate().String(),
			TaskID:           taskID,
			SourceIdentifier: in.SourceIdentifier,
			Position:         i,
		}
		if err := tx.Create(&mapping).Error; err != nil {
			return err
		}

		for j, path := range in.Paths {
			transformations := path.Transformations
			if transformations == nil {
				transformations = []any{}
			}
			raw, err := json.Marshal(transformations)
			if err != nil {
				return err
			}

			row := TaskMappingPath{
				ID:               node.Generate().String(),
				TaskMappingID:    mapping.ID,
				TargetIdentifier: path.TargetIdentifier,
				Position:         j,
				Transformations:  datatypes.JSON(raw),
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
	}

	return nil
}
