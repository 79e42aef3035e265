// Package presence draws other participants' cursors into host views.
//
// Every user gets a color picked by hashing the user id into the palette,
// so the same user has the same color in every view and every process
// sharing the palette.
package presence

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/gdamore/tcell/v2"

	"github.com/dshills/keystorm-collab/internal/host"
	"github.com/dshills/keystorm-collab/internal/logging"
	"github.com/dshills/keystorm-collab/internal/remote"
)

// RegionPrefix starts the key of every cursor region.
const RegionPrefix = "collab-cursor-"

// Palette errors.
var (
	ErrEmptyPalette = errors.New("empty palette")
	ErrUnknownColor = errors.New("unknown color")
)

// Color is a palette entry.
type Color struct {
	Name  string
	Scope string
	Value tcell.Color
}

// DefaultColorNames are the names of the default palette.
var DefaultColorNames = []string{
	"red", "orange", "yellow", "green", "darkcyan", "blue", "purple", "pink",
}

// DefaultPalette returns the default eight-color palette.
func DefaultPalette() []Color {
	p, _ := ParsePalette(DefaultColorNames)
	return p
}

// ParsePalette resolves color names or "#rrggbb" values.
func ParsePalette(names []string) ([]Color, error) {
	if len(names) == 0 {
		return nil, ErrEmptyPalette
	}
	p := make([]Color, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		c := tcell.GetColor(name)
		if c == tcell.ColorDefault {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColor, name)
		}
		p = append(p, Color{
			Name:  name,
			Scope: "region." + strings.TrimPrefix(name, "#"),
			Value: c,
		})
	}
	return p, nil
}

// Hash returns the stable hash of a user id.
func Hash(user string) uint64 {
	return xxhash.Sum64String(user)
}

// RegionKey returns the region key of a user's cursor.
func RegionKey(user string) string {
	return fmt.Sprintf("%s%016x", RegionPrefix, Hash(user))
}

// Renderer draws cursor regions with a palette.
type Renderer struct {
	log *logging.Logger

	mu      sync.RWMutex
	palette []Color
}

// NewRenderer creates a renderer. An empty palette selects the default.
func NewRenderer(palette []Color, log *logging.Logger) *Renderer {
	if len(palette) == 0 {
		palette = DefaultPalette()
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Renderer{
		log:     log.WithComponent("presence"),
		palette: append([]Color(nil), palette...),
	}
}

// SetPalette swaps the palette. Existing regions keep their colors until
// redrawn.
func (r *Renderer) SetPalette(palette []Color) error {
	if len(palette) == 0 {
		return ErrEmptyPalette
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.palette = append([]Color(nil), palette...)
	return nil
}

// Palette returns a copy of the palette.
func (r *Renderer) Palette() []Color {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Color(nil), r.palette...)
}

// ColorOf returns the color of user.
func (r *Renderer) ColorOf(user string) Color {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.palette[Hash(user)%uint64(len(r.palette))]
}

// Draw shows ev as a cursor region in v, replacing the user's previous
// cursor in that view.
func (r *Renderer) Draw(v *host.View, ev remote.CursorEvent) host.Region {
	start := v.TextPoint(ev.Start.Row, ev.Start.Col)
	end := v.TextPoint(ev.End.Row, ev.End.Col)
	color := r.ColorOf(ev.User)

	region := host.Region{
		Key:   RegionKey(ev.User),
		Spans: []host.Span{{Begin: start, End: end}},
		Style: host.RegionStyle{
			Scope: color.Scope,
			Color: color.Value,
			Flags: host.DrawEmpty | host.NoFill,
		},
		Annotations: []string{ev.User},
	}
	v.AddRegion(region)
	r.log.Debug("drew cursor of %s at [%d,%d) in view %d", ev.User, start, end, v.ID())
	return region
}

// Erase removes a user's cursor from v.
func (r *Renderer) Erase(v *host.View, user string) {
	v.EraseRegion(RegionKey(user))
}

// Clear removes every cursor region from v.
func (r *Renderer) Clear(v *host.View) {
	for _, key := range v.RegionKeys() {
		if strings.HasPrefix(key, RegionPrefix) {
			v.EraseRegion(key)
		}
	}
}
