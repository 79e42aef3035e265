package host

import (
	"sort"
	"sync"
	"time"

	"github.com/dshills/keystorm-collab/internal/logging"
)

// WindowID identifies a window within an editor.
type WindowID int

// MessageLevel classifies user-visible messages.
type MessageLevel uint8

const (
	// MessageStatus is a transient status bar message.
	MessageStatus MessageLevel = iota
	// MessageError is an error dialog.
	MessageError
)

// String returns the level name.
func (l MessageLevel) String() string {
	if l == MessageError {
		return "error"
	}
	return "status"
}

// Message is a message shown to the user.
type Message struct {
	Level MessageLevel
	Text  string
	Time  time.Time
}

// Editor is the top-level host object.
type Editor struct {
	loop *Loop
	log  *logging.Logger

	mu       sync.Mutex
	windows  map[WindowID]*Window
	nextID   int
	messages []Message
}

// NewEditor creates an editor driven by loop.
func NewEditor(loop *Loop, log *logging.Logger) *Editor {
	if log == nil {
		log = logging.Discard()
	}
	return &Editor{
		loop:    loop,
		log:     log.WithComponent("host"),
		windows: make(map[WindowID]*Window),
	}
}

// Loop returns the editor main loop.
func (e *Editor) Loop() *Loop { return e.loop }

func (e *Editor) allocID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	return e.nextID
}

// NewWindow opens a window.
func (e *Editor) NewWindow() *Window {
	w := &Window{
		id:             WindowID(e.allocID()),
		editor:         e,
		settings:       NewSettings(),
		views:          make(map[ViewID]*View),
		closeListeners: make(map[int]WindowListener),
	}
	e.mu.Lock()
	e.windows[w.id] = w
	e.mu.Unlock()
	return w
}

// Window returns the window with id.
func (e *Editor) Window(id WindowID) (*Window, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.windows[id]
	return w, ok
}

// Windows returns the open windows ordered by id.
func (e *Editor) Windows() []*Window {
	e.mu.Lock()
	ws := make([]*Window, 0, len(e.windows))
	for _, w := range e.windows {
		ws = append(ws, w)
	}
	e.mu.Unlock()
	sort.Slice(ws, func(i, j int) bool { return ws[i].id < ws[j].id })
	return ws
}

// FindView returns the open view with id in any window.
func (e *Editor) FindView(id ViewID) (*View, bool) {
	for _, w := range e.Windows() {
		if v, ok := w.View(id); ok {
			return v, true
		}
	}
	return nil, false
}

// StatusMessage shows a transient status message.
func (e *Editor) StatusMessage(text string) {
	e.addMessage(MessageStatus, text)
	e.log.Info("%s", text)
}

// ErrorMessage shows an error dialog.
func (e *Editor) ErrorMessage(text string) {
	e.addMessage(MessageError, text)
	e.log.Error("%s", text)
}

func (e *Editor) addMessage(level MessageLevel, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, Message{Level: level, Text: text, Time: time.Now()})
}

// Messages returns every message shown so far.
func (e *Editor) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Message(nil), e.messages...)
}

func (e *Editor) removeWindow(id WindowID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.windows, id)
}

// WindowListener receives window lifecycle notifications.
type WindowListener func(w *Window)

// Window groups views.
type Window struct {
	id       WindowID
	editor   *Editor
	settings *Settings

	mu             sync.Mutex
	views          map[ViewID]*View
	closed         bool
	nextListener   int
	closeListeners map[int]WindowListener
}

// ID returns the window id.
func (w *Window) ID() WindowID { return w.id }

// Editor returns the owning editor.
func (w *Window) Editor() *Editor { return w.editor }

// Settings returns the window settings.
func (w *Window) Settings() *Settings { return w.settings }

// NewView opens an empty view in the window.
func (w *Window) NewView() (*View, error) {
	v := newView(ViewID(w.editor.allocID()), w)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrWindowClosed
	}
	w.views[v.id] = v
	return v, nil
}

// View returns the view with id.
func (w *Window) View(id ViewID) (*View, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.views[id]
	return v, ok
}

// Views returns the open views ordered by id.
func (w *Window) Views() []*View {
	w.mu.Lock()
	vs := make([]*View, 0, len(w.views))
	for _, v := range w.views {
		vs = append(vs, v)
	}
	w.mu.Unlock()
	sort.Slice(vs, func(i, j int) bool { return vs[i].id < vs[j].id })
	return vs
}

// IsClosed reports whether the window has been closed.
func (w *Window) IsClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// OnClose registers a listener called before the window closes.
func (w *Window) OnClose(fn WindowListener) (unsubscribe func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextListener
	w.nextListener++
	w.closeListeners[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.closeListeners, id)
	}
}

// Close runs the close listeners, closes every remaining view and removes
// the window from the editor.
func (w *Window) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	ids := make([]int, 0, len(w.closeListeners))
	for id := range w.closeListeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]WindowListener, len(ids))
	for i, id := range ids {
		listeners[i] = w.closeListeners[id]
	}
	w.closeListeners = make(map[int]WindowListener)
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(w)
	}
	for _, v := range w.Views() {
		v.Close()
	}
	w.editor.removeWindow(w.id)
}

func (w *Window) removeView(id ViewID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.views, id)
}
