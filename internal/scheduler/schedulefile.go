package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo154/afkrun/internal/location"
)

// scheduleFileEntry mirrors one element of the schedule-additions JSON
// array: {"task_id", "task_args"?, "schedule"?{"min_interval","h_interval",
// "start_time"}?}. Absent schedule means one-shot.
type scheduleFileEntry struct {
	TaskID   string         `json:"task_id"`
	TaskArgs map[string]any `json:"task_args"`
	Schedule *scheduleJSON  `json:"schedule"`
}

type scheduleJSON struct {
	MinInterval *int       `json:"min_interval"`
	HInterval   *int       `json:"h_interval"`
	StartTime   *time.Time `json:"start_time"`
	Cron        string     `json:"cron"`
}

// checkForNewTasks reads and decodes the schedule-additions file, returning
// nothing if it doesn't exist yet, ported from
// afk_scheduler.py:check_for_new_tasks.
func checkForNewTasks(ctx context.Context, updateFile location.Location) ([]scheduleFileEntry, error) {
	exists, err := updateFile.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	data, err := updateFile.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: read schedule additions file: %w", err)
	}
	var entries []scheduleFileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("scheduler: decode schedule additions file: %w", err)
	}
	return entries, nil
}
