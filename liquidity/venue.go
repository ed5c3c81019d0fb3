package liquidity

import (
	"sync"

	"dlobflow/models"
)

// VenueBook is a decoded external-venue market book at a slot, pushed
// in by the venue's account subscription callback.
type VenueBook struct {
	Bids []models.L2Level
	Asks []models.L2Level
	Slot uint64
}

// venueSource wraps a subscribed third-party matching venue. Phoenix
// and Serum share the implementation and differ only in the source
// name tagged onto each level.
type venueSource struct {
	name  string
	mu    sync.RWMutex
	books map[string]VenueBook
}

func newVenueSource(name string) *venueSource {
	return &venueSource{name: name, books: make(map[string]VenueBook)}
}

func (v *venueSource) Name() string { return v.name }

// SetBook replaces the venue's book for a market. Levels are re-tagged
// with this venue's source name.
func (v *venueSource) SetBook(id models.MarketId, book VenueBook) {
	for i := range book.Bids {
		book.Bids[i].Sources = map[string]int64{v.name: book.Bids[i].Size}
	}
	for i := range book.Asks {
		book.Asks[i].Sources = map[string]int64{v.name: book.Asks[i].Size}
	}
	v.mu.Lock()
	v.books[id.Key()] = book
	v.mu.Unlock()
}

func (v *venueSource) Bids(id models.MarketId) []models.L2Level {
	v.mu.RLock()
	defer v.mu.RUnlock()
	book, ok := v.books[id.Key()]
	if !ok {
		return []models.L2Level{}
	}
	return append([]models.L2Level(nil), book.Bids...)
}

func (v *venueSource) Asks(id models.MarketId) []models.L2Level {
	v.mu.RLock()
	defer v.mu.RUnlock()
	book, ok := v.books[id.Key()]
	if !ok {
		return []models.L2Level{}
	}
	return append([]models.L2Level(nil), book.Asks...)
}

// PhoenixSource adapts a subscribed Phoenix market account.
type PhoenixSource struct{ *venueSource }

func NewPhoenixSource() *PhoenixSource {
	return &PhoenixSource{venueSource: newVenueSource(models.SourcePhoenix)}
}

// SerumSource adapts a subscribed Serum (Openbook) market account.
type SerumSource struct{ *venueSource }

func NewSerumSource() *SerumSource {
	return &SerumSource{venueSource: newVenueSource(models.SourceSerum)}
}
