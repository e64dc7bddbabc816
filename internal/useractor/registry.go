package useractor

import (
	"sync"

	"github.com/weblinq/weblinq-go/internal/clock"
	"github.com/weblinq/weblinq-go/internal/ids"
)

// Registry hands out one actor per user id. Actors are created on first use
// and live until Close.
type Registry struct {
	dataDir  string
	store    Storage
	hashSalt string
	clk      clock.Clock

	mu     sync.Mutex
	actors map[string]*Actor
}

// NewRegistry creates the registry. store may be nil, which disables
// permanent URLs but keeps the rest of the gateway working.
func NewRegistry(dataDir string, store Storage, hashSalt string, clk clock.Clock) *Registry {
	return &Registry{
		dataDir:  dataDir,
		store:    store,
		hashSalt: hashSalt,
		clk:      clk,
		actors:   make(map[string]*Actor),
	}
}

// For returns the user's actor, creating it on first sight.
func (r *Registry) For(userID string) *Actor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.actors[userID]; ok {
		return a
	}
	a := newActor(userID, ids.UserHash(userID, r.hashSalt), r.dataDir, r.store, r.clk)
	r.actors[userID] = a
	return a
}

// Close drains every actor and closes its database. Safe to call once during
// shutdown; in-flight requests finish first.
func (r *Registry) Close() {
	r.mu.Lock()
	actors := r.actors
	r.actors = make(map[string]*Actor)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range actors {
		wg.Add(1)
		go func(a *Actor) {
			defer wg.Done()
			a.close()
		}(a)
	}
	wg.Wait()
}
