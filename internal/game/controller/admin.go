package controller

import (
	"context"
	"fmt"
	"time"
)

type adminKind int

const (
	adminStatus adminKind = iota + 1
	adminStart
	adminStop
)

type adminReq struct {
	Kind adminKind
	Resp chan adminResp
}

type adminResp struct {
	Status Status
	Err    error
}

// Status is a point-in-time view of the game taken inside the loop.
type Status struct {
	GameID     string             `json:"game_id"`
	Phase      Phase              `json:"phase"`
	EndReason  string             `json:"end_reason,omitempty"`
	Registered []string           `json:"registered"`
	Names      map[string]string  `json:"names,omitempty"`
	Pending    int                `json:"pending_transactions"`
	Settled    int                `json:"settled_transactions"`
	CreatedAt  time.Time          `json:"created_at"`
	StartedAt  time.Time          `json:"started_at,omitempty"`
	EndedAt    time.Time          `json:"ended_at,omitempty"`
	Scores     map[string]float64 `json:"scores,omitempty"`
}

// RequestStatus is safe to call from other goroutines (e.g. HTTP handlers).
func (c *Controller) RequestStatus(ctx context.Context) (Status, error) {
	r, err := c.adminCall(ctx, adminStatus)
	return r.Status, err
}

// RequestStart closes registration now. It fails until nb_agents have registered.
func (c *Controller) RequestStart(ctx context.Context) (Status, error) {
	r, err := c.adminCall(ctx, adminStart)
	if err != nil {
		return r.Status, err
	}
	return r.Status, r.Err
}

// RequestStop ends a running game (or cancels one still registering).
func (c *Controller) RequestStop(ctx context.Context) (Status, error) {
	r, err := c.adminCall(ctx, adminStop)
	if err != nil {
		return r.Status, err
	}
	return r.Status, r.Err
}

func (c *Controller) adminCall(ctx context.Context, kind adminKind) (adminResp, error) {
	resp := make(chan adminResp, 1)
	select {
	case c.admin <- adminReq{Kind: kind, Resp: resp}:
	case <-c.exited:
		return adminResp{}, ErrStopped
	case <-ctx.Done():
		return adminResp{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, nil
	case <-c.exited:
		return adminResp{}, ErrStopped
	case <-ctx.Done():
		return adminResp{}, ctx.Err()
	}
}

func (c *Controller) handleAdmin(req adminReq) {
	var err error
	switch req.Kind {
	case adminStart:
		if c.phase != PhaseAwaitingRegistration {
			err = fmt.Errorf("cannot start: phase is %s", c.phase)
		} else {
			err = c.closeRegistration(false)
		}
	case adminStop:
		switch c.phase {
		case PhaseAwaitingRegistration:
			c.cancel(ReasonAdminStop)
		case PhaseRunning:
			c.terminate(ReasonAdminStop)
		default:
			err = fmt.Errorf("cannot stop: phase is %s", c.phase)
		}
	}
	c.publishMetrics()
	select {
	case req.Resp <- adminResp{Status: c.status(), Err: err}:
	default:
		// Caller timed out; don't block the loop.
	}
}

func (c *Controller) status() Status {
	s := Status{
		GameID:    c.id,
		Phase:     c.phase,
		EndReason: c.endReason,
		CreatedAt: c.createdAt,
		StartedAt: c.startedAt,
		EndedAt:   c.endedAt,
		Scores:    c.scoresCopy(),
	}
	if c.ledger != nil {
		s.Registered = c.ledger.Agents()
	} else {
		s.Registered = c.reg.Roster()
	}
	if c.names != nil {
		s.Names = make(map[string]string, len(c.names))
		for id, n := range c.names {
			s.Names[id] = n
		}
	}
	if c.engine != nil {
		s.Pending = c.engine.PendingCount()
		s.Settled = c.engine.SettledCount()
	}
	return s
}
