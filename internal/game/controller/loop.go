package controller

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type attachReq struct {
	AgentID string
	Token   string
	Out     chan []byte
	Resp    chan attachResp
}

type attachResp struct {
	Session Session
	Err     error
}

// Session is what a successful Attach hands back to the transport.
type Session struct {
	Phase Phase
	// ResumeToken must be presented by every later connection for the
	// same agent id.
	ResumeToken string
}

type detachReq struct {
	AgentID string
	Out     chan []byte
}

// Run drains inbound requests and drives timeouts until ctx is cancelled or
// Stop is called. A game still in progress at that point is ended with
// reason shutdown.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.exited)
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	c.log.Info().Dur("tick", c.tickInterval).Int("nb_agents", c.cfg.NbAgents).Msg("controller started")
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-c.stop:
			c.shutdown()
			return nil
		case req := <-c.attach:
			c.handleAttach(req)
		case req := <-c.detach:
			c.handleDetach(req)
		case req := <-c.admin:
			c.handleAdmin(req)
		case env := <-c.inbox:
			c.handle(env)
			c.publishMetrics()
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Controller) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

func (c *Controller) shutdown() {
	switch c.phase {
	case PhaseAwaitingRegistration:
		c.cancel(ReasonShutdown)
	case PhaseRunning:
		c.terminate(ReasonShutdown)
	}
	c.publishMetrics()
}

// Submit queues an inbound request. It blocks only while the inbox is full.
func (c *Controller) Submit(ctx context.Context, env Envelope) error {
	select {
	case c.inbox <- env:
		return nil
	case <-c.exited:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach registers out as the delivery channel for agentID. The first
// attach for an id issues its resume token; later attaches must present it.
// A second concurrent connection for the same agent is refused.
func (c *Controller) Attach(ctx context.Context, agentID, token string, out chan []byte) (Session, error) {
	resp := make(chan attachResp, 1)
	select {
	case c.attach <- attachReq{AgentID: agentID, Token: token, Out: out, Resp: resp}:
	case <-c.exited:
		return Session{}, ErrStopped
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.Session, r.Err
	case <-c.exited:
		return Session{}, ErrStopped
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
}

// Detach removes out if it is still the agent's delivery channel. The agent
// stays registered.
func (c *Controller) Detach(agentID string, out chan []byte) {
	select {
	case c.detach <- detachReq{AgentID: agentID, Out: out}:
	case <-c.exited:
	}
}

func (c *Controller) handleAttach(req attachReq) {
	r := attachResp{Session: Session{Phase: c.phase}}
	tok, issued := c.tokens[req.AgentID]
	cur, attached := c.clients[req.AgentID]
	switch {
	case issued && subtle.ConstantTimeCompare([]byte(strings.TrimSpace(req.Token)), []byte(tok)) != 1:
		r.Err = ErrBadToken
		c.log.Warn().Str("agent_id", req.AgentID).Msg("attach refused: resume token mismatch")
	case attached && cur.Out != req.Out:
		r.Err = ErrAlreadyAttached
	default:
		if !issued {
			tok = newResumeToken()
			c.tokens[req.AgentID] = tok
		}
		c.clients[req.AgentID] = &clientState{Out: req.Out}
		r.Session.ResumeToken = tok
	}
	select {
	case req.Resp <- r:
	default:
	}
}

func newResumeToken() string {
	return "resume_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (c *Controller) handleDetach(req detachReq) {
	if cur, ok := c.clients[req.AgentID]; ok && cur.Out == req.Out {
		delete(c.clients, req.AgentID)
	}
}

// send delivers v to the agent if it is connected. Delivery never blocks the loop.
func (c *Controller) send(agentID string, v any) {
	cl, ok := c.clients[agentID]
	if !ok || cl.Out == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal outbound")
		return
	}
	if !sendLatest(cl.Out, b) {
		c.dropped.Add(1)
		c.log.Warn().Str("agent_id", agentID).Msg("outbound queue full, dropped oldest message")
	}
}

// sendLatest reports false when it had to drop a queued message.
func sendLatest(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
	return false
}
