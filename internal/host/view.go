package host

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dshills/keystorm-collab/internal/delta"
)

// ViewID identifies a view within an editor.
type ViewID int

// ChangeToken names a view revision.
type ChangeToken uint64

// DefaultMaxRevisions is the number of edits a view remembers for
// re-resolving change tokens.
const DefaultMaxRevisions = 1024

// ChangeListener receives the edits of one user action.
type ChangeListener func(v *View, batch delta.ChangeBatch)

// ViewListener receives view lifecycle and selection notifications.
type ViewListener func(v *View)

// logEntry records one applied sub-edit in original coordinates of the
// revision before it.
type logEntry struct {
	rev    uint64
	start  int
	end    int
	newLen int
}

// View is an editable text surface in a window.
type View struct {
	id     ViewID
	window *Window

	revision atomic.Uint64

	mu         sync.Mutex
	text       string
	log        []logEntry
	maxLog     int
	name       string
	target     string
	scratch    bool
	selections []Span
	regions    map[string]Region
	closing    bool
	closed     bool

	settings *Settings

	listenerMu         sync.Mutex
	nextListener       int
	changeListeners    map[int]ChangeListener
	selectionListeners map[int]ViewListener
	closeListeners     map[int]ViewListener
}

func newView(id ViewID, w *Window) *View {
	return &View{
		id:                 id,
		window:             w,
		maxLog:             DefaultMaxRevisions,
		regions:            make(map[string]Region),
		settings:           NewSettings(),
		changeListeners:    make(map[int]ChangeListener),
		selectionListeners: make(map[int]ViewListener),
		closeListeners:     make(map[int]ViewListener),
	}
}

// ID returns the view id.
func (v *View) ID() ViewID { return v.id }

// Window returns the window containing the view.
func (v *View) Window() *Window { return v.window }

// Settings returns the view settings.
func (v *View) Settings() *Settings { return v.settings }

// ChangeID returns a token for the current revision. Safe for concurrent
// use.
func (v *View) ChangeID() ChangeToken {
	return ChangeToken(v.revision.Load())
}

// Text returns the full text.
func (v *View) Text() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.text
}

// Len returns the text length in bytes.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.text)
}

// Substr returns the text in [start, end), clamped to the view.
func (v *View) Substr(start, end int) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	start = clamp(start, 0, len(v.text))
	end = clamp(end, start, len(v.text))
	return v.text[start:end]
}

// Name returns the display name.
func (v *View) Name() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.name
}

// SetName sets the display name.
func (v *View) SetName(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.name = name
}

// Target returns the file the view is backed by.
func (v *View) Target() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.target
}

// SetTarget sets the file the view is backed by.
func (v *View) SetTarget(path string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.target = path
}

// IsScratch reports whether the view never prompts to save.
func (v *View) IsScratch() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scratch
}

// SetScratch marks the view as scratch.
func (v *View) SetScratch(scratch bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scratch = scratch
}

// IsClosed reports whether the view has been closed.
func (v *View) IsClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// TextPoint converts a row and column to a byte offset.
func (v *View) TextPoint(row, col int) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return textPoint(v.text, row, col)
}

// RowCol converts a byte offset to a row and column.
func (v *View) RowCol(offset int) Point {
	v.mu.Lock()
	defer v.mu.Unlock()
	return rowCol(v.text, offset)
}

// Edit applies a local multi-part edit. Each sub-edit is expressed in the
// coordinates left by the previous one. Change listeners receive the whole
// edit as one batch.
func (v *View) Edit(edits ...delta.SubEdit) error {
	if len(edits) == 0 {
		return nil
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	text := v.text
	for i, e := range edits {
		if e.Start < 0 || e.End < e.Start || e.End > len(text) {
			v.mu.Unlock()
			return fmt.Errorf("%w: sub-edit %d %s on length %d", ErrInvalidRange, i, e, len(text))
		}
		text = text[:e.Start] + e.Text + text[e.End:]
	}
	for _, e := range edits {
		v.applyLocked(e.Start, e.End, e.Text)
	}
	batch := delta.ChangeBatch{
		Edits:    append([]delta.SubEdit(nil), edits...),
		Revision: v.revision.Load(),
	}
	v.mu.Unlock()

	v.notifyChange(batch)
	return nil
}

// Insert inserts text at offset.
func (v *View) Insert(offset int, text string) error {
	return v.Edit(delta.SubEdit{Start: offset, End: offset, Text: text})
}

// Replace replaces [start, end) as it was at the revision named by token.
// The range is first carried through every edit made since then. Change
// listeners are notified synchronously before Replace returns.
func (v *View) Replace(start, end int, text string, token ChangeToken) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	if start < 0 || end < start {
		v.mu.Unlock()
		return fmt.Errorf("%w: [%d,%d)", ErrInvalidRange, start, end)
	}

	s, e, err := v.transformLocked(start, end, uint64(token))
	if err != nil {
		v.mu.Unlock()
		return err
	}
	if e > len(v.text) {
		v.mu.Unlock()
		return fmt.Errorf("%w: [%d,%d) on length %d", ErrInvalidRange, s, e, len(v.text))
	}

	v.applyLocked(s, e, text)
	batch := delta.ChangeBatch{
		Edits:    []delta.SubEdit{{Start: s, End: e, Text: text}},
		Revision: v.revision.Load(),
	}
	v.mu.Unlock()

	v.notifyChange(batch)
	return nil
}

// TransformRegion carries [start, end) from the revision named by token to
// the current revision.
func (v *View) TransformRegion(start, end int, token ChangeToken) (int, int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.transformLocked(start, end, uint64(token))
}

func (v *View) transformLocked(start, end int, token uint64) (int, int, error) {
	current := v.revision.Load()
	if token > current {
		return 0, 0, fmt.Errorf("%w: token %d ahead of revision %d", ErrStaleToken, token, current)
	}
	if token == current {
		return start, end, nil
	}
	if len(v.log) == 0 || v.log[0].rev > token+1 {
		return 0, 0, fmt.Errorf("%w: token %d older than retained history", ErrStaleToken, token)
	}

	for _, c := range v.log {
		if c.rev <= token {
			continue
		}
		start = transformPoint(start, c, false)
		end = transformPoint(end, c, true)
		if end < start {
			end = start
		}
	}
	return start, end, nil
}

// transformPoint moves pos across one recorded edit. A start point at an
// insertion moves after the inserted text and an end point stays before
// it. Points inside a replaced span snap to its edges.
func transformPoint(pos int, c logEntry, isEnd bool) int {
	switch {
	case pos < c.start:
		return pos
	case pos == c.start && c.start == c.end:
		if isEnd {
			return pos
		}
		return pos + c.newLen
	case pos == c.start:
		return pos
	case pos < c.end:
		if isEnd {
			return c.start + c.newLen
		}
		return c.start
	default:
		return pos + c.newLen - (c.end - c.start)
	}
}

func (v *View) applyLocked(start, end int, text string) {
	v.text = v.text[:start] + text + v.text[end:]
	rev := v.revision.Add(1)

	c := logEntry{rev: rev, start: start, end: end, newLen: len(text)}
	v.log = append(v.log, c)
	if len(v.log) > v.maxLog {
		v.log = append(v.log[:0:0], v.log[len(v.log)-v.maxLog:]...)
	}

	for i, sel := range v.selections {
		if sel.Empty() {
			p := transformPoint(sel.Begin, c, false)
			v.selections[i] = Span{Begin: p, End: p}
			continue
		}
		v.selections[i] = Span{
			Begin: transformPoint(sel.Begin, c, sel.Begin > sel.End),
			End:   transformPoint(sel.End, c, sel.End > sel.Begin),
		}
	}
}

// Subscribe registers a change listener and returns a function that
// removes it.
func (v *View) Subscribe(fn ChangeListener) (unsubscribe func()) {
	v.listenerMu.Lock()
	defer v.listenerMu.Unlock()
	id := v.nextListener
	v.nextListener++
	v.changeListeners[id] = fn
	return func() {
		v.listenerMu.Lock()
		defer v.listenerMu.Unlock()
		delete(v.changeListeners, id)
	}
}

// OnSelectionModified registers a selection listener.
func (v *View) OnSelectionModified(fn ViewListener) (unsubscribe func()) {
	v.listenerMu.Lock()
	defer v.listenerMu.Unlock()
	id := v.nextListener
	v.nextListener++
	v.selectionListeners[id] = fn
	return func() {
		v.listenerMu.Lock()
		defer v.listenerMu.Unlock()
		delete(v.selectionListeners, id)
	}
}

// OnClose registers a listener called before the view closes.
func (v *View) OnClose(fn ViewListener) (unsubscribe func()) {
	v.listenerMu.Lock()
	defer v.listenerMu.Unlock()
	id := v.nextListener
	v.nextListener++
	v.closeListeners[id] = fn
	return func() {
		v.listenerMu.Lock()
		defer v.listenerMu.Unlock()
		delete(v.closeListeners, id)
	}
}

// ListenerCount returns the number of registered change listeners.
func (v *View) ListenerCount() int {
	v.listenerMu.Lock()
	defer v.listenerMu.Unlock()
	return len(v.changeListeners)
}

func (v *View) notifyChange(batch delta.ChangeBatch) {
	for _, fn := range sortedListeners(&v.listenerMu, v.changeListeners) {
		fn(v, batch)
	}
}

func (v *View) notifyView(listeners map[int]ViewListener) {
	for _, fn := range sortedListeners(&v.listenerMu, listeners) {
		fn(v)
	}
}

func sortedListeners[F any](mu *sync.Mutex, m map[int]F) []F {
	mu.Lock()
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]F, len(ids))
	for i, id := range ids {
		fns[i] = m[id]
	}
	mu.Unlock()
	return fns
}

// Selections returns the current selections.
func (v *View) Selections() []Span {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Span(nil), v.selections...)
}

// SetSelections replaces the selections and notifies selection listeners.
func (v *View) SetSelections(spans ...Span) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	for _, s := range spans {
		n := s.Normalized()
		if n.Begin < 0 || n.End > len(v.text) {
			v.mu.Unlock()
			return fmt.Errorf("%w: selection [%d,%d) on length %d", ErrInvalidRange, s.Begin, s.End, len(v.text))
		}
	}
	v.selections = append(v.selections[:0], spans...)
	v.mu.Unlock()

	v.notifyView(v.selectionListeners)
	return nil
}

// AddRegion stores r, replacing any region with the same key.
func (v *View) AddRegion(r Region) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	r.Spans = append([]Span(nil), r.Spans...)
	r.Annotations = append([]string(nil), r.Annotations...)
	v.regions[r.Key] = r
}

// EraseRegion removes the region stored under key.
func (v *View) EraseRegion(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.regions, key)
}

// Region returns the region stored under key.
func (v *View) Region(key string) (Region, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r, ok := v.regions[key]
	return r, ok
}

// RegionKeys returns the region keys in sorted order.
func (v *View) RegionKeys() []string {
	v.mu.Lock()
	keys := make([]string, 0, len(v.regions))
	for k := range v.regions {
		keys = append(keys, k)
	}
	v.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Close runs the close listeners and then closes the view. Closing a
// closed view is a no-op.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed || v.closing {
		v.mu.Unlock()
		return
	}
	v.closing = true
	v.mu.Unlock()

	v.notifyView(v.closeListeners)

	v.mu.Lock()
	v.closed = true
	v.closing = false
	v.regions = make(map[string]Region)
	v.mu.Unlock()

	v.listenerMu.Lock()
	v.changeListeners = make(map[int]ChangeListener)
	v.selectionListeners = make(map[int]ViewListener)
	v.closeListeners = make(map[int]ViewListener)
	v.listenerMu.Unlock()

	if v.window != nil {
		v.window.removeView(v.id)
	}
}

func clamp(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
