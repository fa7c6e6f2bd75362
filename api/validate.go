package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"prism-kanban/domain"
	"prism-kanban/kanban"
)

// MaxImageBytes caps the decoded size of a board image.
const MaxImageBytes = 1 << 20

var imageTypes = map[string]struct{}{
	"image/jpeg":    {},
	"image/png":     {},
	"image/svg+xml": {},
}

var (
	errTitleRequired   = errors.New("title is required")
	errContentRequired = errors.New("content is required")
	errBadLabelColor   = errors.New("unknown label color")
	errBadImage        = errors.New("image must be a base64 data URL")
	errImageType       = errors.New("image must be a jpeg, png or svg")
	errImageTooLarge   = fmt.Errorf("image must be %d bytes or less", MaxImageBytes)
)

type boardForm struct {
	Title string `json:"title"`
	Image string `json:"image,omitempty"`
}

func (f *boardForm) normalize() error {
	f.Title = strings.TrimSpace(f.Title)
	if f.Title == "" {
		return errTitleRequired
	}
	if f.Image == "" {
		return nil
	}
	return validateImage(f.Image)
}

// validateImage accepts data:<mime>;base64,<payload> URLs of an allowed type.
func validateImage(raw string) error {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return errBadImage
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return errBadImage
	}
	mime, enc, _ := strings.Cut(meta, ";")
	if enc != "base64" {
		return errBadImage
	}
	if _, ok := imageTypes[strings.ToLower(mime)]; !ok {
		return errImageType
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxImageBytes+2 {
		return errImageTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return errBadImage
	}
	if len(data) > MaxImageBytes {
		return errImageTooLarge
	}
	return nil
}

type columnForm struct {
	Title string `json:"title"`
}

func (f *columnForm) normalize() error {
	f.Title = strings.TrimSpace(f.Title)
	if f.Title == "" {
		return errTitleRequired
	}
	return nil
}

type taskForm struct {
	Content    *string `json:"content,omitempty"`
	LabelColor *string `json:"labelColor,omitempty"`
}

func (f *taskForm) normalize(requireContent bool) error {
	if f.Content != nil {
		trimmed := strings.TrimSpace(*f.Content)
		f.Content = &trimmed
	}
	if (requireContent || f.Content != nil) && (f.Content == nil || *f.Content == "") {
		return errContentRequired
	}
	if f.LabelColor != nil && !domain.IsLabelColor(*f.LabelColor) {
		return errBadLabelColor
	}
	return nil
}

// edits turns the fields present in the form into store edits.
func (f taskForm) edits() []kanban.TaskEdit {
	var out []kanban.TaskEdit
	if f.Content != nil {
		out = append(out, kanban.SetContent(*f.Content))
	}
	if f.LabelColor != nil {
		out = append(out, kanban.SetLabelColor(*f.LabelColor))
	}
	return out
}

// dropLocation mirrors the drag-and-drop library's droppable position.
type dropLocation struct {
	DroppableID string `json:"droppableId"`
	Index       int    `json:"index"`
}

// dropResult is the payload the board view sends when a drag ends.
// Destination is nil when the card was dropped outside any column.
type dropResult struct {
	DraggableID string        `json:"draggableId"`
	Source      dropLocation  `json:"source"`
	Destination *dropLocation `json:"destination"`
}

// move converts the drop into a store move. It reports false when the card
// was dropped outside any column or back onto its own slot.
func (d dropResult) move() (domain.Move, bool) {
	if d.Destination == nil || *d.Destination == d.Source {
		return domain.Move{}, false
	}
	return domain.Move{
		SourceColumnID: d.Source.DroppableID,
		DestColumnID:   d.Destination.DroppableID,
		SourceIndex:    d.Source.Index,
		DestIndex:      d.Destination.Index,
		TaskID:         d.DraggableID,
	}, true
}
