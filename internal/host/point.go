package host

import (
	"fmt"
	"strings"
)

// Point is a 0-indexed row and byte column.
type Point struct {
	Row int
	Col int
}

// String returns a human-readable representation of the point.
func (p Point) String() string {
	return fmt.Sprintf("(%d:%d)", p.Row, p.Col)
}

// textPoint converts a row and column to a byte offset in text. Rows past
// the end map to the end of the text and columns are clamped to the line.
func textPoint(text string, row, col int) int {
	if row < 0 {
		return 0
	}
	lineStart := 0
	for r := 0; r < row; r++ {
		i := strings.IndexByte(text[lineStart:], '\n')
		if i < 0 {
			return len(text)
		}
		lineStart += i + 1
	}
	lineEnd := len(text)
	if i := strings.IndexByte(text[lineStart:], '\n'); i >= 0 {
		lineEnd = lineStart + i
	}
	if col < 0 {
		col = 0
	}
	if col > lineEnd-lineStart {
		return lineEnd
	}
	return lineStart + col
}

// rowCol converts a byte offset in text to a row and column. Offsets are
// clamped to the text.
func rowCol(text string, offset int) Point {
	if offset < 0 {
		offset = 0
	}
	if offset > len(text) {
		offset = len(text)
	}
	prefix := text[:offset]
	row := strings.Count(prefix, "\n")
	col := offset - (strings.LastIndexByte(prefix, '\n') + 1)
	return Point{Row: row, Col: col}
}
