// Package pool implements the browser-session lease protocol over the
// remote binding: reuse an idle session when one can be connected, launch a
// new one under quota, fail fast when the budget is spent.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog/log"

	"github.com/weblinq/weblinq-go/internal/binding"
	"github.com/weblinq/weblinq-go/internal/clock"
	"github.com/weblinq/weblinq-go/internal/harden"
	"github.com/weblinq/weblinq-go/internal/metrics"
	"github.com/weblinq/weblinq-go/internal/types"
)

// Binding is the slice of the remote browser service the pool needs.
// *binding.Client satisfies it.
type Binding interface {
	ListSessions(ctx context.Context) ([]binding.SessionInfo, error)
	Quota(ctx context.Context) (binding.Quota, error)
	Launch(ctx context.Context) (*binding.Session, error)
	Connect(ctx context.Context, info binding.SessionInfo) (*binding.Session, error)
	NewPage(ctx context.Context, s *binding.Session) (*rod.Page, error)
	ClosePage(page *rod.Page) error
	CloseSession(s *binding.Session) error
}

// prepareFunc hardens a fresh page before it is handed out. Swappable in
// tests so leases can run against a fake binding without a live page.
type prepareFunc func(page *rod.Page, opts harden.Options) (harden.Viewport, harden.Cleanup, error)

// Pool hands out leased pages on remote browser sessions. It keeps no local
// free-list: the remote session listing is the pool, and races with
// co-tenant clients are resolved by connect failures falling back to launch.
type Pool struct {
	binding Binding
	rnd     clock.Rand
	clk     clock.Clock
	prepare prepareFunc
}

// New creates a Pool. The hardener is reapplied on every lease because a
// reused session's page may carry residual state.
func New(b Binding, hardener *harden.Hardener, rnd clock.Rand, clk clock.Clock) *Pool {
	return &Pool{
		binding: b,
		rnd:     rnd,
		clk:     clk,
		prepare: hardener.Apply,
	}
}

// LeaseOptions carry the per-operation hardening choices.
type LeaseOptions struct {
	// BlockResources withholds images, media, fonts and stylesheets.
	// Must stay false for screenshot and pdf operations.
	BlockResources bool
	// Viewport overrides the randomized whitelist choice when non-nil.
	Viewport *harden.Viewport
}

// Lease is a scoped hold on one session+page pair. Release must run on
// every exit path; it is idempotent and never panics.
type Lease struct {
	Page     *rod.Page
	Session  *binding.Session
	Viewport harden.Viewport
	Reused   bool

	pool    *Pool
	cleanup harden.Cleanup
	once    sync.Once
}

// Release closes the page, then the session. Both closes are always
// attempted; errors are logged, not returned, because the operation's
// outcome was decided before release.
func (l *Lease) Release() {
	l.once.Do(func() {
		if l.cleanup != nil {
			l.cleanup()
		}
		if err := l.pool.binding.ClosePage(l.Page); err != nil {
			log.Warn().Err(err).Str("session_id", l.Session.ID).Msg("Page close failed during release")
		}
		if err := l.pool.binding.CloseSession(l.Session); err != nil {
			log.Warn().Err(err).Str("session_id", l.Session.ID).Msg("Session close failed during release")
		}
		metrics.SessionsActive.Dec()
		log.Debug().Str("session_id", l.Session.ID).Msg("Lease released")
	})
}

// Lease acquires a session, opens a page on it and hardens the page.
//
// The protocol is list → connect-or-skip → launch-or-fail:
//  1. List the remote sessions and try idle ones in random order. The list
//     may include sessions owned by other clients of the same binding, so
//     connect failures are expected and only logged.
//  2. With no idle session connected, read the quota. A spent budget fails
//     fast with SessionsExhaustedError; otherwise launch a fresh session.
//  3. Open a page and apply the hardening contract.
func (p *Pool) Lease(ctx context.Context, opts LeaseOptions) (*Lease, error) {
	sess, reused, err := p.acquireSession(ctx)
	if err != nil {
		return nil, err
	}

	page, err := p.binding.NewPage(ctx, sess)
	if err != nil {
		if cerr := p.binding.CloseSession(sess); cerr != nil {
			log.Warn().Err(cerr).Str("session_id", sess.ID).Msg("Session close failed after page error")
		}
		return nil, err
	}

	vp, cleanup, err := p.prepare(page, harden.Options{
		BlockResources: opts.BlockResources,
		Viewport:       opts.Viewport,
	})
	if err != nil {
		if cerr := p.binding.ClosePage(page); cerr != nil {
			log.Warn().Err(cerr).Str("session_id", sess.ID).Msg("Page close failed after harden error")
		}
		if cerr := p.binding.CloseSession(sess); cerr != nil {
			log.Warn().Err(cerr).Str("session_id", sess.ID).Msg("Session close failed after harden error")
		}
		return nil, err
	}

	if reused {
		metrics.RecordLease("reused")
	} else {
		metrics.RecordLease("launched")
	}
	metrics.SessionsActive.Inc()

	return &Lease{
		Page:     page,
		Session:  sess,
		Viewport: vp,
		Reused:   reused,
		pool:     p,
		cleanup:  cleanup,
	}, nil
}

// acquireSession runs steps 1 and 2 of the lease protocol. The bool result
// reports whether the session was reused rather than launched.
func (p *Pool) acquireSession(ctx context.Context) (*binding.Session, bool, error) {
	sessions, err := p.binding.ListSessions(ctx)
	if err != nil {
		// Listing is an optimization; a listing failure should not block
		// the launch path.
		log.Warn().Err(err).Msg("Session listing failed, falling through to launch")
	}

	idle := make([]binding.SessionInfo, 0, len(sessions))
	for _, info := range sessions {
		if !info.HasConnection() {
			idle = append(idle, info)
		}
	}
	p.rnd.Shuffle(len(idle), func(i, j int) {
		idle[i], idle[j] = idle[j], idle[i]
	})

	for _, info := range idle {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		sess, err := p.binding.Connect(ctx, info)
		if err != nil {
			// Expected when a co-tenant grabbed the session first, or the
			// keep-alive expired between listing and connecting.
			log.Debug().Err(err).Str("session_id", info.ID).Msg("Idle session connect failed, trying next")
			continue
		}
		return sess, true, nil
	}

	quota, err := p.binding.Quota(ctx)
	if err != nil {
		return nil, false, err
	}
	if quota.Active >= quota.MaxConcurrent {
		metrics.SessionExhaustions.Inc()
		return nil, false, types.NewSessionsExhaustedError("max_concurrent", p.retryAfter(quota.WaitUntil))
	}
	if quota.AcquisitionsAllowed <= 0 {
		metrics.SessionExhaustions.Inc()
		return nil, false, types.NewSessionsExhaustedError("acquisitions", p.retryAfter(quota.WaitUntil))
	}

	sess, err := p.binding.Launch(ctx)
	if err != nil {
		return nil, false, err
	}
	return sess, false, nil
}

func (p *Pool) retryAfter(waitUntil time.Time) time.Duration {
	if waitUntil.IsZero() {
		return 0
	}
	return waitUntil.Sub(p.clk.Now())
}
