// Package board maintains the ordered set of tasks: status transitions,
// dependency and conflict scheduling, decomposition trees, and priority
// scoring. All mutations persist through the state store.
package board

import (
	"time"

	"github.com/undercity/undercity/pkg/models"
)

// TasksDocument is the on-disk schema of tasks.json.
type TasksDocument struct {
	// Tasks holds every task in insertion order.
	Tasks []*models.Task `json:"tasks"`
	// LastUpdated strictly increases on every successful write.
	LastUpdated time.Time `json:"lastUpdated"`
}

// touch advances LastUpdated, guaranteeing strict monotonicity even when
// two writes land within clock resolution.
func (d *TasksDocument) touch(now time.Time) {
	if !now.After(d.LastUpdated) {
		now = d.LastUpdated.Add(time.Microsecond)
	}
	d.LastUpdated = now
}

// find returns the task with the given id, or nil.
func (d *TasksDocument) find(id string) *models.Task {
	for _, t := range d.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}
