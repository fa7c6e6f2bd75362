package domain

// Move describes a completed drag: the task at SourceIndex of the source
// column is dropped at DestIndex of the destination column. Indices are the
// positions observed by the client when the drag started.
type Move struct {
	SourceColumnID string `json:"sourceColumnId"`
	DestColumnID   string `json:"destColumnId"`
	SourceIndex    int    `json:"sourceIndex"`
	DestIndex      int    `json:"destIndex"`
	TaskID         string `json:"taskId"`
}

// SameColumn reports whether the move reorders a single column.
func (m Move) SameColumn() bool {
	return m.SourceColumnID == m.DestColumnID
}

// Resolve computes the replacement columns for m against b. It reports false
// when a column or the task is unknown, an index is out of range, or the id at
// SourceIndex is not TaskID.
func (m Move) Resolve(b Board) ([]Column, bool) {
	if _, ok := b.Tasks[m.TaskID]; !ok {
		return nil, false
	}
	src, ok := b.Columns[m.SourceColumnID]
	if !ok {
		return nil, false
	}
	if m.SameColumn() {
		ids, ok := MoveWithin(src.TaskIDs, m.SourceIndex, m.DestIndex, m.TaskID)
		if !ok {
			return nil, false
		}
		src.TaskIDs = ids
		return []Column{src}, true
	}
	dst, ok := b.Columns[m.DestColumnID]
	if !ok {
		return nil, false
	}
	srcIDs, dstIDs, ok := MoveAcross(src.TaskIDs, dst.TaskIDs, m.SourceIndex, m.DestIndex, m.TaskID)
	if !ok {
		return nil, false
	}
	src.TaskIDs = srcIDs
	dst.TaskIDs = dstIDs
	return []Column{src, dst}, true
}

// MoveWithin reorders one list. The element at from is removed first and
// taskID is inserted at to in the shrunk list, so to is interpreted against
// len(ids)-1 elements. The input slice is never modified.
func MoveWithin(ids []string, from, to int, taskID string) ([]string, bool) {
	if from < 0 || from >= len(ids) || ids[from] != taskID {
		return nil, false
	}
	shrunk := removeAt(ids, from)
	if to < 0 || to > len(shrunk) {
		return nil, false
	}
	return insertAt(shrunk, to, taskID), true
}

// MoveAcross removes the element at from in src and inserts taskID at to in
// dst. Neither input slice is modified.
func MoveAcross(src, dst []string, from, to int, taskID string) ([]string, []string, bool) {
	if from < 0 || from >= len(src) || src[from] != taskID {
		return nil, nil, false
	}
	if to < 0 || to > len(dst) {
		return nil, nil, false
	}
	return removeAt(src, from), insertAt(dst, to, taskID), true
}

func removeAt(ids []string, at int) []string {
	out := make([]string, 0, len(ids)-1)
	out = append(out, ids[:at]...)
	return append(out, ids[at+1:]...)
}

func insertAt(ids []string, at int, id string) []string {
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:at]...)
	out = append(out, id)
	return append(out, ids[at:]...)
}
