package delta

import "fmt"

// Reader gives read access to the fully edited buffer.
type Reader interface {
	Len() int
	Substr(start, end int) string
}

// StringReader adapts a string to Reader.
type StringReader string

// Len returns the length of the string in bytes.
func (s StringReader) Len() int { return len(s) }

// Substr returns s[start:end].
func (s StringReader) Substr(start, end int) string { return string(s)[start:end] }

// Coalesce reduces a change batch to one delta expressed in the coordinates
// of the buffer before the batch. The replacement text is read from edited,
// which must already contain the effect of every sub-edit.
//
// The left bound is the smallest sub-edit start. The right bound is tracked
// in original coordinates: each reported end is projected back by the net
// shift of the sub-edits before it and extends the bound only when it lies
// further right. Edits to the left of the bound are never shifted, and every
// shifted position lies inside the bounding window, so the projection is
// exact for any sequence of sub-edits.
func Coalesce(batch ChangeBatch, edited Reader) (Delta, error) {
	edits := batch.Edits
	if len(edits) == 0 {
		return Delta{}, fmt.Errorf("%w: no sub-edits", ErrInvalidBatch)
	}
	for i, e := range edits {
		if e.Start < 0 || e.End < e.Start {
			return Delta{}, fmt.Errorf("%w: sub-edit %d has range [%d,%d)", ErrInvalidBatch, i, e.Start, e.End)
		}
	}

	if len(edits) == 1 {
		return Delta(edits[0]), nil
	}

	left := edits[0].Start
	right := edits[0].End
	shift := 0
	for _, e := range edits {
		if e.Start < left {
			left = e.Start
		}
		if end := e.End - shift; end > right {
			right = end
		}
		shift += e.Shift()
	}

	hi := right + shift
	if hi < left || hi > edited.Len() {
		return Delta{}, fmt.Errorf("%w: window [%d,%d) outside edited buffer of length %d",
			ErrInvalidBatch, left, hi, edited.Len())
	}

	return Delta{Start: left, End: right, Text: edited.Substr(left, hi)}, nil
}
