package domain

import "github.com/google/uuid"

// Id namespaces.
const (
	ColumnPrefix = "column"
	TaskPrefix   = "task"
	BoardPrefix  = "board"
)

// IDFunc produces a new identifier within the given namespace.
type IDFunc func(prefix string) string

// NewID returns a random 128-bit identifier prefixed with its namespace,
// e.g. "task-9b2c...". Rapid successive calls never share a value.
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
