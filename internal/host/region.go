package host

import (
	"github.com/gdamore/tcell/v2"
)

// RegionFlags control how a region is drawn.
type RegionFlags uint32

const (
	// DrawEmpty draws zero-width spans as a caret.
	DrawEmpty RegionFlags = 1 << iota
	// NoFill draws the outline only.
	NoFill
	// NoOutline draws the fill only.
	NoOutline
	// SolidUnderline underlines the spanned text.
	SolidUnderline
	// Hidden keeps the region without drawing it.
	Hidden
)

// Has reports whether all bits of flag are set.
func (f RegionFlags) Has(flag RegionFlags) bool {
	return f&flag == flag
}

// Span is a byte range [Begin, End) in a view. Begin may be greater than
// End for reversed selections.
type Span struct {
	Begin int
	End   int
}

// Empty reports whether the span has zero width.
func (s Span) Empty() bool {
	return s.Begin == s.End
}

// Normalized returns the span with Begin <= End.
func (s Span) Normalized() Span {
	if s.End < s.Begin {
		return Span{Begin: s.End, End: s.Begin}
	}
	return s
}

// RegionStyle describes the look of a region.
type RegionStyle struct {
	Scope string
	Color tcell.Color
	Flags RegionFlags
}

// Style returns the terminal style used to draw the region text.
func (rs RegionStyle) Style() tcell.Style {
	style := tcell.StyleDefault
	if rs.Flags.Has(Hidden) {
		return style
	}
	if rs.Flags.Has(NoFill) {
		style = style.Foreground(rs.Color)
	} else {
		style = style.Background(rs.Color)
	}
	if rs.Flags.Has(SolidUnderline) || !rs.Flags.Has(NoOutline) && rs.Flags.Has(NoFill) {
		style = style.Underline(true)
	}
	return style
}

// Region is a keyed set of spans drawn with one style. Adding a region
// under an existing key replaces it.
type Region struct {
	Key         string
	Spans       []Span
	Style       RegionStyle
	Annotations []string
}
