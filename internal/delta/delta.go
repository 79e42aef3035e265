// Package delta defines the text edit types exchanged between the host and
// the collaboration session and the coalescing of multi-part host edits into
// a single canonical delta.
//
// All offsets are byte offsets into UTF-8 text, matching the host views.
package delta

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBatch indicates a change batch that cannot be coalesced:
	// it is empty, contains an inverted or negative range, or does not
	// fit the edited buffer.
	ErrInvalidBatch = errors.New("invalid change batch")

	// ErrOutOfRange indicates an edit range outside the text it targets.
	ErrOutOfRange = errors.New("edit range out of bounds")
)

// SubEdit is one part of a host edit notification. Start and End describe
// the replaced span in the buffer as it was after all earlier sub-edits of
// the same batch were applied; Text is the replacement.
type SubEdit struct {
	Start int
	End   int
	Text  string
}

// Removed returns the length of the replaced span.
func (e SubEdit) Removed() int {
	return e.End - e.Start
}

// Shift returns the net length change of the sub-edit.
func (e SubEdit) Shift() int {
	return len(e.Text) - e.Removed()
}

// String returns a compact representation for logs.
func (e SubEdit) String() string {
	return fmt.Sprintf("[%d,%d)->%q", e.Start, e.End, e.Text)
}

// ChangeBatch is the raw notification a host emits for a single user action.
type ChangeBatch struct {
	// Edits are applied in order, each in the coordinates left by the
	// previous one.
	Edits []SubEdit

	// Revision is the view revision the batch produced.
	Revision uint64
}

// Delta is a canonical edit: replace [Start, End) of the original text with
// Text.
type Delta struct {
	Start int
	End   int
	Text  string
}

// IsEmpty reports whether the delta changes nothing.
func (d Delta) IsEmpty() bool {
	return d.Start == d.End && d.Text == ""
}

// Shift returns the net length change of the delta.
func (d Delta) Shift() int {
	return len(d.Text) - (d.End - d.Start)
}

// String returns a compact representation for logs.
func (d Delta) String() string {
	return fmt.Sprintf("[%d,%d)->%q", d.Start, d.End, d.Text)
}

// Apply returns text with d applied.
func Apply(text string, d Delta) (string, error) {
	if d.Start < 0 || d.End < d.Start || d.End > len(text) {
		return "", fmt.Errorf("%w: %s on text of length %d", ErrOutOfRange, d, len(text))
	}
	return text[:d.Start] + d.Text + text[d.End:], nil
}

// ApplySequential applies edits one after another, each in the coordinates
// produced by the previous one.
func ApplySequential(text string, edits []SubEdit) (string, error) {
	for i, e := range edits {
		var err error
		text, err = Apply(text, Delta(e))
		if err != nil {
			return "", fmt.Errorf("sub-edit %d: %w", i, err)
		}
	}
	return text, nil
}
