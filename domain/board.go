package domain

import (
	"fmt"
	"maps"
	"slices"
)

// DefaultLabelColor is assigned to newly created tasks.
const DefaultLabelColor = "bg-blue-500"

// LabelColors lists the label palette offered by the board view.
var LabelColors = []string{
	"bg-red-500",
	"bg-yellow-500",
	"bg-green-500",
	"bg-blue-500",
	"bg-purple-500",
	"bg-pink-500",
}

// Task represents a single card on a board.
type Task struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	LabelColor string `json:"labelColor"`
	Done       bool   `json:"done"`
}

// Column is an ordered list of task ids.
type Column struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	TaskIDs []string `json:"taskIds"`
}

// BoardRef identifies the board a kanban record belongs to.
type BoardRef struct {
	ID string `json:"id"`
}

// Board is the kanban content of one board: its tasks, columns and the
// left-to-right column order.
type Board struct {
	Board       BoardRef          `json:"board"`
	Tasks       map[string]Task   `json:"tasks"`
	Columns     map[string]Column `json:"columns"`
	ColumnOrder []string          `json:"columnOrder"`
}

// NewBoard returns an empty board registered under id.
func NewBoard(id string) Board {
	return Board{
		Board:       BoardRef{ID: id},
		Tasks:       map[string]Task{},
		Columns:     map[string]Column{},
		ColumnOrder: []string{},
	}
}

// ID returns the board identifier.
func (b Board) ID() string {
	return b.Board.ID
}

// Clone returns a deep copy. Mutations always work on a clone so values
// already handed to subscribers never change underneath them.
func (b Board) Clone() Board {
	out := Board{
		Board:       b.Board,
		Tasks:       make(map[string]Task, len(b.Tasks)),
		Columns:     make(map[string]Column, len(b.Columns)),
		ColumnOrder: append([]string{}, b.ColumnOrder...),
	}
	for id, t := range b.Tasks {
		out.Tasks[id] = t
	}
	for id, c := range b.Columns {
		c.TaskIDs = append([]string{}, c.TaskIDs...)
		out.Columns[id] = c
	}
	return out
}

// ColumnOf returns the id of the column listing taskID.
func (b Board) ColumnOf(taskID string) (string, bool) {
	for _, colID := range b.ColumnOrder {
		for _, id := range b.Columns[colID].TaskIDs {
			if id == taskID {
				return colID, true
			}
		}
	}
	return "", false
}

// Validate checks referential integrity: every ordered column exists, every
// listed task exists, ids are not duplicated and every task is listed by
// exactly one column.
func (b Board) Validate() error {
	if b.Board.ID == "" {
		return fmt.Errorf("board has no id")
	}
	seenCols := make(map[string]struct{}, len(b.ColumnOrder))
	for _, colID := range b.ColumnOrder {
		if _, dup := seenCols[colID]; dup {
			return fmt.Errorf("board %s: column %s listed twice in column order", b.Board.ID, colID)
		}
		seenCols[colID] = struct{}{}
		if _, ok := b.Columns[colID]; !ok {
			return fmt.Errorf("board %s: column order references missing column %s", b.Board.ID, colID)
		}
	}
	if len(seenCols) != len(b.Columns) {
		return fmt.Errorf("board %s: %d columns but %d in column order", b.Board.ID, len(b.Columns), len(seenCols))
	}
	owner := make(map[string]string, len(b.Tasks))
	for _, colID := range b.ColumnOrder {
		col := b.Columns[colID]
		if col.ID != colID {
			return fmt.Errorf("board %s: column keyed %s carries id %s", b.Board.ID, colID, col.ID)
		}
		for _, taskID := range col.TaskIDs {
			if prev, dup := owner[taskID]; dup {
				return fmt.Errorf("board %s: task %s listed by %s and %s", b.Board.ID, taskID, prev, colID)
			}
			owner[taskID] = colID
			if _, ok := b.Tasks[taskID]; !ok {
				return fmt.Errorf("board %s: column %s references missing task %s", b.Board.ID, colID, taskID)
			}
		}
	}
	for id, t := range b.Tasks {
		if t.ID != id {
			return fmt.Errorf("board %s: task keyed %s carries id %s", b.Board.ID, id, t.ID)
		}
		if _, ok := owner[id]; !ok {
			return fmt.Errorf("board %s: task %s is not listed by any column", b.Board.ID, id)
		}
	}
	return nil
}

// Repair returns a copy of b with referential integrity restored. Column
// order entries for missing or repeated columns are removed and unordered
// columns are appended in id order. Column lists lose ids of missing tasks
// and of tasks already listed by an earlier column. Tasks no column lists
// are dropped.
func (b Board) Repair() Board {
	out := b.Clone()
	order := make([]string, 0, len(out.Columns))
	seen := make(map[string]struct{}, len(out.Columns))
	for _, colID := range out.ColumnOrder {
		if _, ok := out.Columns[colID]; !ok {
			continue
		}
		if _, dup := seen[colID]; dup {
			continue
		}
		seen[colID] = struct{}{}
		order = append(order, colID)
	}
	for _, colID := range slices.Sorted(maps.Keys(out.Columns)) {
		if _, ok := seen[colID]; !ok {
			order = append(order, colID)
		}
	}
	out.ColumnOrder = order

	listed := make(map[string]struct{}, len(out.Tasks))
	for _, colID := range order {
		col := out.Columns[colID]
		col.ID = colID
		ids := make([]string, 0, len(col.TaskIDs))
		for _, taskID := range col.TaskIDs {
			if _, ok := out.Tasks[taskID]; !ok {
				continue
			}
			if _, dup := listed[taskID]; dup {
				continue
			}
			listed[taskID] = struct{}{}
			ids = append(ids, taskID)
		}
		col.TaskIDs = ids
		out.Columns[colID] = col
	}
	for id, t := range out.Tasks {
		if _, ok := listed[id]; !ok {
			delete(out.Tasks, id)
			continue
		}
		t.ID = id
		out.Tasks[id] = t
	}
	return out
}

// IsLabelColor reports whether color belongs to the label palette.
func IsLabelColor(color string) bool {
	for _, c := range LabelColors {
		if c == color {
			return true
		}
	}
	return false
}
