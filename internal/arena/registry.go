// Package arena owns the set of games hosted by one server process.
package arena

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tacarena.ai/internal/game/controller"
	"tacarena.ai/internal/game/tuning"
	"tacarena.ai/internal/persistence/report"
)

var (
	ErrUnknownGame  = errors.New("unknown game")
	ErrTooManyGames = errors.New("too many active games")
	ErrGameRunning  = errors.New("game still in progress")
	ErrNoOpenGame   = errors.New("no game open for registration")
)

// Options wires a registry to the server's sinks. All fields are optional.
type Options struct {
	Logger zerolog.Logger
	// Events returns the event logger for a new game. A logger that also
	// implements io.Closer is closed after the game's loop exits.
	Events func(gameID string) (controller.EventLogger, error)
	// Reports receives every finished game's report.
	Reports chan<- report.Report
	Now     func() time.Time
}

type entry struct {
	c       *controller.Controller
	cancel  context.CancelFunc
	exited  chan struct{}
	created time.Time
}

// Registry maps game ids to running controllers. Each controller runs in its
// own goroutine until it is destroyed or the registry is closed.
type Registry struct {
	cfg  Config
	opts Options
	log  zerolog.Logger

	mu     sync.RWMutex
	games  map[string]*entry
	closed bool
}

func NewRegistry(cfg Config, opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		cfg:   cfg,
		opts:  opts,
		log:   opts.Logger.With().Str("component", "arena").Logger(),
		games: map[string]*entry{},
	}
}

// Create starts a new game with a random id.
func (r *Registry) Create(g tuning.Game) (*controller.Controller, error) {
	return r.CreateWithID(uuid.NewString(), g)
}

func (r *Registry) CreateWithID(id string, g tuning.Game) (*controller.Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, controller.ErrStopped
	}
	if _, ok := r.games[id]; ok {
		return nil, fmt.Errorf("game %s already exists", id)
	}
	if r.cfg.MaxGames > 0 && r.activeLocked() >= r.cfg.MaxGames {
		return nil, fmt.Errorf("%w: limit %d", ErrTooManyGames, r.cfg.MaxGames)
	}

	c, err := controller.New(controller.Config{
		ID:     id,
		Game:   g,
		Logger: r.opts.Logger,
		Now:    r.opts.Now,
	})
	if err != nil {
		return nil, err
	}
	var closer io.Closer
	if r.opts.Events != nil {
		el, err := r.opts.Events(id)
		if err != nil {
			return nil, fmt.Errorf("game %s event log: %w", id, err)
		}
		c.SetEventLogger(el)
		closer, _ = el.(io.Closer)
	}
	if r.opts.Reports != nil {
		c.SetReportSink(r.opts.Reports)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{c: c, cancel: cancel, exited: make(chan struct{}), created: r.opts.Now()}
	r.games[id] = e
	go func() {
		defer close(e.exited)
		if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error().Err(err).Str("game_id", id).Msg("controller exited")
		}
		if closer != nil {
			if err := closer.Close(); err != nil {
				r.log.Warn().Err(err).Str("game_id", id).Msg("close event log")
			}
		}
	}()
	r.log.Info().Str("game_id", id).Int("nb_agents", g.NbAgents).Int("nb_goods", g.NbGoods).Msg("game created")
	return c, nil
}

func (r *Registry) activeLocked() int {
	n := 0
	for _, e := range r.games {
		if !e.c.Phase().Final() {
			n++
		}
	}
	return n
}

func (r *Registry) Lookup(id string) (*controller.Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.games[id]
	if !ok {
		return nil, false
	}
	return e.c, true
}

// Pick resolves the game an agent asked for. An empty id selects the newest
// game still accepting registrations.
func (r *Registry) Pick(id string) (*controller.Controller, error) {
	if id != "" {
		c, ok := r.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownGame, id)
		}
		return c, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *entry
	for _, e := range r.games {
		if e.c.Phase() != controller.PhaseAwaitingRegistration {
			continue
		}
		if best == nil || e.created.After(best.created) || (e.created.Equal(best.created) && e.c.ID() > best.c.ID()) {
			best = e
		}
	}
	if best == nil {
		return nil, ErrNoOpenGame
	}
	return best.c, nil
}

// IDs returns every registered game id in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.games))
	for id := range r.games {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Controllers returns a snapshot of the registered games ordered by id.
func (r *Registry) Controllers() []*controller.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*controller.Controller, 0, len(r.games))
	for _, e := range r.games {
		out = append(out, e.c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Destroy removes a finished game. With force a game in progress is stopped
// first (its report is still published).
func (r *Registry) Destroy(ctx context.Context, id string, force bool) error {
	r.mu.Lock()
	e, ok := r.games[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownGame, id)
	}
	if !force && !e.c.Phase().Final() {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrGameRunning, id, e.c.Phase())
	}
	delete(r.games, id)
	r.mu.Unlock()

	if err := stopEntry(ctx, e); err != nil {
		return err
	}
	r.log.Info().Str("game_id", id).Msg("game destroyed")
	return nil
}

// Close stops every game in parallel and waits for their loops to exit.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	entries := make([]*entry, 0, len(r.games))
	for _, e := range r.games {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		e := e
		g.Go(func() error { return stopEntry(gctx, e) })
	}
	return g.Wait()
}

func stopEntry(ctx context.Context, e *entry) error {
	e.c.Stop()
	select {
	case <-e.exited:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		return fmt.Errorf("game %s: %w", e.c.ID(), ctx.Err())
	}
}
