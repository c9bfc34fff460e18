// Package controller runs one game instance: registration, trading and
// termination, with every mutation serialized through a single goroutine.
package controller

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tacarena.ai/internal/game/ledger"
	"tacarena.ai/internal/game/registration"
	"tacarena.ai/internal/game/settlement"
	"tacarena.ai/internal/game/tuning"
	"tacarena.ai/internal/persistence/report"
)

type Phase string

const (
	PhaseAwaitingRegistration Phase = "AWAITING_REGISTRATION"
	PhaseRunning              Phase = "RUNNING"
	PhaseTerminated           Phase = "TERMINATED"
	PhaseCancelled            Phase = "CANCELLED"
)

func (p Phase) Final() bool { return p == PhaseTerminated || p == PhaseCancelled }

// End reasons recorded in the report.
const (
	ReasonInactivity         = "inactivity"
	ReasonCompetitionTimeout = "competition_timeout"
	ReasonQuorumNotMet       = "quorum_not_met"
	ReasonInvalidConfig      = "invalid_configuration"
	ReasonAdminStop          = "admin_stop"
	ReasonShutdown           = "shutdown"
)

var (
	ErrCompetitionNotRunning = errors.New("competition not running")
	ErrAlreadyAttached       = errors.New("agent already connected")
	ErrBadToken              = errors.New("resume token missing or invalid")
	ErrStopped               = errors.New("controller stopped")
)

type Config struct {
	ID     string
	Game   tuning.Game
	Logger zerolog.Logger
	// Now defaults to time.Now.
	Now       func() time.Time
	InboxSize int
}

// Envelope is one inbound agent request. Msg is one of protocol.RegisterMsg,
// protocol.UnregisterMsg, protocol.TransactionMsg or protocol.GetStateUpdateMsg.
type Envelope struct {
	AgentID string
	Msg     any
}

type EventLogger interface {
	WriteEvent(e Event) error
}

// Event is one line of the game's audit trail.
type Event struct {
	GameID        string         `json:"game_id"`
	Seq           uint64         `json:"seq"`
	UnixMs        int64          `json:"ts_ms"`
	Kind          string         `json:"kind"`
	AgentID       string         `json:"agent_id,omitempty"`
	ReqID         string         `json:"req_id,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Phase         Phase          `json:"phase"`
	Code          string         `json:"code,omitempty"`
	Detail        string         `json:"detail,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

type clientState struct {
	Out chan []byte
}

// Controller is a single-threaded authoritative game. All game state is
// accessed only from the Run goroutine.
type Controller struct {
	id  string
	cfg tuning.Game
	log zerolog.Logger
	now func() time.Time

	tickInterval time.Duration

	phase     Phase
	reg       *registration.Manager
	names     map[string]string
	ledger    *ledger.Ledger
	engine    *settlement.Engine
	initial   map[string]ledger.AgentState
	scores    map[string]float64
	endReason string

	createdAt    time.Time
	startedAt    time.Time
	endedAt      time.Time
	lastActivity time.Time

	clients map[string]*clientState
	tokens  map[string]string

	inbox  chan Envelope
	attach chan attachReq
	detach chan detachReq
	admin  chan adminReq
	stop   chan struct{}
	done   chan struct{}
	exited chan struct{}

	eventLogger EventLogger
	reportSink  chan<- report.Report
	eventSeq    uint64

	phaseV   atomic.Value
	metrics  atomic.Value
	requests atomic.Uint64
	rejected atomic.Uint64
	dropped  atomic.Uint64
}

// New validates cfg and returns a controller awaiting registrations.
func New(cfg Config) (*Controller, error) {
	if cfg.ID == "" {
		return nil, errors.New("controller: empty game id")
	}
	if err := cfg.Game.Validate(); err != nil {
		return nil, fmt.Errorf("controller %s: %w", cfg.ID, err)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	c := &Controller{
		id:           cfg.ID,
		cfg:          cfg.Game,
		log:          cfg.Logger.With().Str("component", "controller").Str("game_id", cfg.ID).Logger(),
		now:          cfg.Now,
		tickInterval: TickInterval(cfg.Game),
		phase:        PhaseAwaitingRegistration,
		reg: registration.NewManager(registration.Config{
			Target:      cfg.Game.NbAgents,
			MinRequired: cfg.Game.MinAgents,
			Whitelist:   cfg.Game.Whitelist,
		}),
		clients: map[string]*clientState{},
		tokens:  map[string]string{},
		inbox:   make(chan Envelope, cfg.InboxSize),
		attach:  make(chan attachReq, 64),
		detach:  make(chan detachReq, 64),
		admin:   make(chan adminReq, 16),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	c.createdAt = c.now()
	c.phaseV.Store(c.phase)
	c.publishMetrics()
	return c, nil
}

// TickInterval bounds timeout latency to a tenth of the shortest timeout,
// clamped to [10ms, 1s].
func TickInterval(g tuning.Game) time.Duration {
	shortest := g.InactivityTimeout
	for _, d := range []time.Duration{g.CompetitionTimeout, g.RegistrationTimeout, g.PendingTransactionTimeout} {
		if d > 0 && (shortest <= 0 || d < shortest) {
			shortest = d
		}
	}
	iv := shortest / 10
	if iv < 10*time.Millisecond {
		iv = 10 * time.Millisecond
	}
	if iv > time.Second {
		iv = time.Second
	}
	return iv
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) Config() tuning.Game { return c.cfg }

// Phase is safe to call from any goroutine.
func (c *Controller) Phase() Phase {
	if v, ok := c.phaseV.Load().(Phase); ok {
		return v
	}
	return ""
}

// Done is closed once the game reaches TERMINATED or CANCELLED.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Optional sinks; set them before Run.
func (c *Controller) SetEventLogger(l EventLogger)          { c.eventLogger = l }
func (c *Controller) SetReportSink(ch chan<- report.Report) { c.reportSink = ch }

func (c *Controller) setPhase(p Phase) {
	prev := c.phase
	c.phase = p
	c.phaseV.Store(p)
	c.log.Info().Str("from", string(prev)).Str("to", string(p)).Msg("phase change")
	c.logEvent(Event{Kind: "PHASE", Detail: string(prev) + "->" + string(p)})
	if p.Final() {
		close(c.done)
	}
}

func (c *Controller) logEvent(e Event) {
	if c.eventLogger == nil {
		return
	}
	c.eventSeq++
	e.GameID = c.id
	e.Seq = c.eventSeq
	e.UnixMs = c.now().UnixMilli()
	e.Phase = c.phase
	if err := c.eventLogger.WriteEvent(e); err != nil {
		c.log.Warn().Err(err).Msg("event log write failed")
	}
}
