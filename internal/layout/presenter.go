// Package layout models the room's video tiles: one optional focus slot
// and an ordered pool of tiles.
package layout

import (
	"slices"
	"sync"

	"github.com/dkeye/classroom/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type Size int

const (
	SizeStandard Size = iota
	SizeThumbnail
	SizeFocused
)

func (s Size) String() string {
	switch s {
	case SizeThumbnail:
		return "thumbnail"
	case SizeFocused:
		return "focused"
	default:
		return "standard"
	}
}

type Tile struct {
	ID   domain.TileID
	Size Size
}

type Snapshot struct {
	Focused domain.TileID
	Pool    []Tile
}

type Presenter struct {
	logger zerolog.Logger

	mu      sync.Mutex
	pool    []domain.TileID
	focused domain.TileID
	// slot is the pool index the focused tile came from.
	slot      int
	moves     int
	listeners []func(Snapshot)
}

func NewPresenter() *Presenter {
	return &Presenter{logger: log.With().Str("module", "layout").Logger()}
}

// OnChange registers fn for every layout change.
func (p *Presenter) OnChange(fn func(Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Add puts a new tile at the end of the pool. Adding a known tile is a no-op.
func (p *Presenter) Add(tile domain.TileID) {
	p.mu.Lock()
	if tile == p.focused || slices.Contains(p.pool, tile) {
		p.mu.Unlock()
		return
	}
	p.pool = append(p.pool, tile)
	p.changedLocked()
}

// Remove drops the tile. Removing the focused tile clears the focus and
// returns every remaining tile to standard size.
func (p *Presenter) Remove(tile domain.TileID) {
	p.mu.Lock()
	if tile == p.focused {
		p.focused = ""
		p.slot = 0
		p.logger.Debug().Str("tile", string(tile)).Msg("focused tile removed")
		p.changedLocked()
		return
	}
	idx := slices.Index(p.pool, tile)
	if idx < 0 {
		p.mu.Unlock()
		return
	}
	p.pool = slices.Delete(p.pool, idx, idx+1)
	if p.focused != "" && idx < p.slot {
		p.slot--
	}
	p.changedLocked()
}

// Focus moves tile into the focus slot. A previously focused tile goes
// back to its pool slot first. Focusing the focused tile does nothing.
func (p *Presenter) Focus(tile domain.TileID) error {
	p.mu.Lock()
	if tile == p.focused {
		p.mu.Unlock()
		return nil
	}
	if !slices.Contains(p.pool, tile) {
		p.mu.Unlock()
		return domain.ErrUnknownTile
	}
	if p.focused != "" {
		p.returnFocusedLocked()
	}
	idx := slices.Index(p.pool, tile)
	p.pool = slices.Delete(p.pool, idx, idx+1)
	p.focused, p.slot = tile, idx
	p.moves++
	p.logger.Debug().Str("tile", string(tile)).Msg("focus")
	p.changedLocked()
	return nil
}

// Unfocus returns the focused tile to the pool slot it came from.
func (p *Presenter) Unfocus() {
	p.mu.Lock()
	if p.focused == "" {
		p.mu.Unlock()
		return
	}
	p.returnFocusedLocked()
	p.logger.Debug().Msg("unfocus")
	p.changedLocked()
}

// Toggle is the click handler: clicking the focused tile releases it,
// clicking any other tile focuses it.
func (p *Presenter) Toggle(tile domain.TileID) error {
	if f, ok := p.Focused(); ok && f == tile {
		p.Unfocus()
		return nil
	}
	return p.Focus(tile)
}

func (p *Presenter) returnFocusedLocked() {
	idx := min(p.slot, len(p.pool))
	p.pool = slices.Insert(p.pool, idx, p.focused)
	p.focused, p.slot = "", 0
	p.moves++
}

func (p *Presenter) Focused() (domain.TileID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.focused, p.focused != ""
}

// Moves counts container moves between the pool and the focus slot.
func (p *Presenter) Moves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.moves
}

func (p *Presenter) Has(tile domain.TileID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return tile == p.focused || slices.Contains(p.pool, tile)
}

func (p *Presenter) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Presenter) snapshotLocked() Snapshot {
	size := SizeStandard
	if p.focused != "" {
		size = SizeThumbnail
	}
	return Snapshot{
		Focused: p.focused,
		Pool: lo.Map(p.pool, func(id domain.TileID, _ int) Tile {
			return Tile{ID: id, Size: size}
		}),
	}
}

// changedLocked releases the lock and notifies listeners.
func (p *Presenter) changedLocked() {
	snap := p.snapshotLocked()
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}
