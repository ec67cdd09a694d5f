package rx

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Search provider defaults, matching the composition screens.
const (
	DefaultDebounce    = 500 * time.Millisecond
	DefaultSearchLimit = 10
)

// LookupFunc queries the remote directory for candidates matching q,
// returning at most limit results.
type LookupFunc[T any] func(ctx context.Context, query string, limit int) ([]T, error)

// SearchProvider translates free-text input into a bounded candidate
// list without issuing a request per keystroke. Each SetQuery cancels
// any pending lookup and schedules a new one after the debounce
// interval. Issued lookups are tagged with a monotonic sequence
// number; a response is applied only if it belongs to the most
// recently issued request, so a slow early response can never
// overwrite a newer result set.
type SearchProvider[T any] struct {
	lookup   LookupFunc[T]
	debounce time.Duration
	limit    int
	logger   zerolog.Logger

	mu         sync.Mutex
	timer      *time.Timer
	query      string
	seq        uint64
	candidates []T
	onUpdate   func([]T)
}

func NewSearchProvider[T any](lookup LookupFunc[T], debounce time.Duration, limit int, logger zerolog.Logger) *SearchProvider[T] {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return &SearchProvider[T]{
		lookup:   lookup,
		debounce: debounce,
		limit:    limit,
		logger:   logger,
	}
}

// OnUpdate registers a callback invoked with the new candidate list
// each time results are applied or cleared. The callback runs outside
// the provider's lock.
func (p *SearchProvider[T]) OnUpdate(fn func([]T)) {
	p.mu.Lock()
	p.onUpdate = fn
	p.mu.Unlock()
}

// SetQuery records the latest raw query. An empty query clears the
// candidate list immediately and issues no remote call; any other
// value reschedules the debounced lookup. The context is retained for
// the lookup issued on behalf of this query.
func (p *SearchProvider[T]) SetQuery(ctx context.Context, query string) {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.query = query

	if query == "" {
		// Invalidate any in-flight lookup so a late response cannot
		// repopulate the cleared list.
		p.seq++
		p.candidates = nil
		fn := p.onUpdate
		p.mu.Unlock()
		if fn != nil {
			fn(nil)
		}
		return
	}

	p.timer = time.AfterFunc(p.debounce, func() {
		p.fire(ctx, query)
	})
	p.mu.Unlock()
}

// fire issues the remote lookup for query, unless it has been
// superseded between the timer firing and the lock being taken.
func (p *SearchProvider[T]) fire(ctx context.Context, query string) {
	p.mu.Lock()
	if p.query != query {
		p.mu.Unlock()
		return
	}
	p.seq++
	token := p.seq
	p.mu.Unlock()

	results, err := p.lookup(ctx, query, p.limit)

	p.mu.Lock()
	if token != p.seq {
		p.mu.Unlock()
		p.logger.Debug().Str("query", query).Uint64("seq", token).Msg("discarding stale search response")
		return
	}
	if err != nil {
		// Keep the previous candidate set; a failed lookup is only
		// logged, never surfaced to the operator.
		p.mu.Unlock()
		p.logger.Warn().Err(err).Str("query", query).Msg("search lookup failed")
		return
	}
	p.candidates = results
	fn := p.onUpdate
	p.mu.Unlock()
	if fn != nil {
		fn(results)
	}
}

// Candidates returns a snapshot of the current candidate list.
func (p *SearchProvider[T]) Candidates() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]T, len(p.candidates))
	copy(out, p.candidates)
	return out
}

// Close cancels any pending lookup trigger. In-flight responses are
// suppressed by the sequence check.
func (p *SearchProvider[T]) Close() {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.seq++
	p.mu.Unlock()
}
