package task

import (
	"time"

	"hydroserver-etl/pkg/errutil"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

var intervalPeriods = map[string]time.Duration{
	"minutes": time.Minute,
	"hours":   time.Hour,
	"days":    24 * time.Hour,
}

// ScheduleManager reconciles a task's desired schedule against the persisted
// one. All mutations run inside the transaction supplied by the caller, so a
// validation failure leaves no partial schedule state behind.
type ScheduleManager struct {
	node   *snowflake.Node
	parser cron.Parser
	now    func() time.Time
}

func NewScheduleManager(node *snowflake.Node) *ScheduleManager {
	return &ScheduleManager{
		node:   node,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		now:    time.Now,
	}
}

// Reconcile applies the schedule portion of a task patch. The patch follows
// three-state semantics: absent leaves the schedule untouched, explicit null
// removes it, and a value merges onto the existing schedule field by field.
func (m *ScheduleManager) Reconcile(tx *gorm.DB, task *Task, patch Field[SchedulePatch]) error {
	if !patch.Set {
		return nil
	}

	if patch.Value == nil {
		return m.remove(tx, task)
	}

	p := *patch.Value

	// Merge the patch onto the current schedule before validating, so that
	// partial updates are judged by the state they produce.
	var crontab *string
	var every *int
	var period *string
	var startTime *time.Time
	if task.Schedule != nil {
		crontab = task.Schedule.Crontab
		every = task.Schedule.IntervalEvery
		period = task.Schedule.IntervalPeriod
		startTime = task.Schedule.StartTime
	}

	if p.Crontab.Set {
		crontab = p.Crontab.Value
	}
	if p.Interval.Set {
		every = p.Interval.Value
	}
	if p.IntervalPeriod.Set {
		period = p.IntervalPeriod.Value
	}
	if p.StartTime.Set {
		startTime = p.StartTime.Value
	}

	if crontab != nil {
		if _, err := m.parser.Parse(*crontab); err != nil {
			return errutil.BadRequest("Invalid crontab schedule", err)
		}
	}

	if (every == nil) != (period == nil) {
		return errutil.BadRequest("Both interval and interval unit must be provided", nil)
	}
	if every != nil {
		if *every < 1 {
			return errutil.BadRequest("Invalid interval schedule", nil)
		}
		if _, ok := intervalPeriods[*period]; !ok {
			return errutil.BadRequest("Invalid interval schedule", nil)
		}
	}

	if crontab != nil && every != nil {
		return errutil.BadRequest("Only one of crontab or interval can be set", nil)
	}
	if crontab == nil && every == nil {
		return errutil.BadRequest("No schedule defined", nil)
	}

	if p.Paused.Set {
		task.Paused = p.Paused.Value != nil && *p.Paused.Value
	}

	if task.Schedule == nil {
		now := m.now()
		if startTime == nil {
			startTime = &now
		}
		task.Schedule = &Schedule{
			ID:     m.node.Generate().String(),
			TaskID: task.ID,
		}
	}

	sched := task.Schedule
	sched.Crontab = crontab
	sched.IntervalEvery = every
	sched.IntervalPeriod = period
	sched.StartTime = startTime
	sched.Enabled = task.OrchestrationSystemID == nil && !task.Paused

	if err := tx.Save(sched).Error; err != nil {
		return err
	}

	if p.NextRunAt.Set {
		task.NextRunAt = p.NextRunAt.Value
	} else if sched.Enabled {
		next := m.NextRun(sched, m.now())
		task.NextRunAt = &next
	} else {
		task.NextRunAt = nil
	}

	return nil
}

// remove tears the schedule down: the row is deleted, the next scheduled time
// cleared and the task un-paused. Without a schedule there is nothing to tear
// down, so the task's pause state and next run time are left alone.
func (m *ScheduleManager) remove(tx *gorm.DB, task *Task) error {
	if task.Schedule == nil {
		return nil
	}
	if err := tx.Delete(&Schedule{}, "task_id = ?", task.ID).Error; err != nil {
		return err
	}
	task.Schedule = nil
	task.NextRunAt = nil
	task.Paused = false
	return nil
}

// SyncEnabled realigns the persisted trigger with the task's current
// ownership and pause state. Attaching an external orchestration system
// disables the internal trigger and clears the next run time; detaching it
// re-enables the trigger and reschedules.
func (m *ScheduleManager) SyncEnabled(tx *gorm.DB, task *Task) error {
	if task.Schedule == nil {
		task.NextRunAt = nil
		return nil
	}

	sched := task.Schedule
	sched.Enabled = task.OrchestrationSystemID == nil && !task.Paused
	if err := tx.Save(sched).Error; err != nil {
		return err
	}

	if sched.Enabled {
		next := m.NextRun(sched, m.now())
		task.NextRunAt = &next
	} else {
		task.NextRunAt = nil
	}
	return nil
}

// NextRun computes the next fire time for a schedule strictly after from,
// honoring the start time when it is still in the future.
func (m *ScheduleManager) NextRun(sched *Schedule, from time.Time) time.Time {
	if sched.StartTime != nil && sched.StartTime.After(from) {
		from = *sched.StartTime
	}

	if sched.Crontab != nil {
		spec, err := m.parser.Parse(*sched.Crontab)
		if err != nil {
			return from
		}
		return spec.Next(from)
	}

	if sched.IntervalEvery != nil && sched.IntervalPeriod != nil {
		return from.Add(time.Duration(*sched.IntervalEvery) * intervalPeriods[*sched.IntervalPeriod])
	}

	return from
}
