package controller

import (
	"sort"
	"strings"

	"tacarena.ai/internal/game/genesis"
	"tacarena.ai/internal/game/registration"
	"tacarena.ai/internal/game/settlement"
	"tacarena.ai/internal/persistence/report"
	"tacarena.ai/internal/protocol"
)

// tick evaluates every timeout. It runs independently of inbound traffic.
func (c *Controller) tick() {
	now := c.now()
	switch c.phase {
	case PhaseAwaitingRegistration:
		if now.Sub(c.createdAt) >= c.cfg.RegistrationTimeout {
			c.log.Info().Int("registered", c.reg.Count()).Msg("registration timeout")
			c.closeRegistration(true)
		}
	case PhaseRunning:
		for _, r := range c.engine.Expire(now) {
			c.log.Debug().Str("transaction_id", r.TransactionID).Str("sender", r.Sender).Msg("pending transaction expired")
			c.logEvent(Event{Kind: "EXPIRED", AgentID: r.Sender, TransactionID: r.TransactionID})
		}
		switch {
		case now.Sub(c.lastActivity) > c.cfg.InactivityTimeout:
			c.terminate(ReasonInactivity)
		case now.Sub(c.startedAt) > c.cfg.CompetitionTimeout:
			c.terminate(ReasonCompetitionTimeout)
		}
	}
	c.publishMetrics()
}

// closeRegistration ends the registration window. expired distinguishes the
// timeout from an early close on quorum.
func (c *Controller) closeRegistration(expired bool) error {
	var out registration.Outcome
	if expired {
		out = c.reg.Expire()
	} else {
		o, err := c.reg.CloseNow()
		if err != nil {
			return err
		}
		out = o
	}
	c.names = out.Names
	if out.Cancelled {
		c.cancel(ReasonQuorumNotMet)
		return nil
	}
	c.start(out.Roster)
	return nil
}

func (c *Controller) start(roster []string) {
	l, err := genesis.Initialize(roster, c.cfg.NbGoods, c.cfg.Policy(), c.cfg.Seed)
	if err != nil {
		c.log.Error().Err(err).Msg("game initialization failed")
		c.cancel(ReasonInvalidConfig)
		return
	}
	now := c.now()
	c.ledger = l
	c.engine = settlement.NewEngine(l, c.cfg.PendingTransactionTimeout)
	c.initial = l.States()
	c.startedAt = now
	c.lastActivity = now
	c.setPhase(PhaseRunning)

	goods := l.Goods()
	goodNames := make(map[string]string, len(goods))
	for _, g := range goods {
		goodNames[g] = strings.ReplaceAll(g, "_", " ")
	}
	agentNames := make(map[string]string, len(roster))
	for _, id := range roster {
		agentNames[id] = c.names[id]
	}
	ends := now.Add(c.cfg.CompetitionTimeout).UnixMilli()
	for _, id := range roster {
		st := c.initial[id]
		endow := make([]int64, len(goods))
		utils := make([]float64, len(goods))
		for i, g := range goods {
			endow[i] = st.Holdings[g]
			utils[i] = st.Utilities[g]
		}
		c.send(id, protocol.GameDataMsg{
			Type:            protocol.TypeGameData,
			ProtocolVersion: protocol.Version,
			GameID:          c.id,
			Money:           st.Balance,
			Endowment:       endow,
			UtilityParams:   utils,
			NbAgents:        len(roster),
			NbGoods:         len(goods),
			TxFee:           l.TxFee(),
			GoodIDs:         goods,
			AgentIDToName:   agentNames,
			GoodIDToName:    goodNames,
			CompetitionEnds: ends,
		})
	}
	c.log.Info().Int("agents", len(roster)).Int("goods", len(goods)).Int64("seed", c.cfg.Seed).Msg("competition started")
}

func (c *Controller) cancel(reason string) {
	c.endReason = reason
	c.endedAt = c.now()
	roster := c.reg.Roster()
	for _, id := range roster {
		c.send(id, protocol.CancelledMsg{
			Type:            protocol.TypeCancelled,
			ProtocolVersion: protocol.Version,
			GameID:          c.id,
			Reason:          reason,
		})
	}
	c.log.Warn().Str("reason", reason).Int("registered", len(roster)).Msg("competition cancelled")
	c.setPhase(PhaseCancelled)
	c.publishReport()
}

func (c *Controller) terminate(reason string) {
	c.endReason = reason
	c.endedAt = c.now()
	c.scores = c.ledger.Scores(c.cfg.ZeroHoldingPenalty)
	c.setPhase(PhaseTerminated)
	for _, id := range c.ledger.Agents() {
		st, _ := c.ledger.State(id)
		c.send(id, protocol.GameOverMsg{
			Type:            protocol.TypeGameOver,
			ProtocolVersion: protocol.Version,
			GameID:          c.id,
			Reason:          reason,
			Balance:         st.Balance,
			Holdings:        st.Holdings,
			Score:           c.scores[id],
		})
	}
	c.log.Info().Str("reason", reason).Int("transactions", len(c.ledger.Settled())).Msg("competition terminated")
	c.publishReport()
}

// buildReport is only meaningful once the phase is final.
func (c *Controller) buildReport() report.Report {
	r := report.Report{
		Header: report.Header{
			Version:   report.Version,
			GameID:    c.id,
			Phase:     string(c.phase),
			EndedAtMs: c.endedAt.UnixMilli(),
		},
		EndReason:   c.endReason,
		Config:      c.cfg,
		CreatedAtMs: c.createdAt.UnixMilli(),
	}
	if c.ledger == nil {
		for _, id := range c.reg.Roster() {
			r.Agents = append(r.Agents, report.AgentResult{AgentID: id, Name: c.names[id]})
		}
		return r
	}
	r.StartedAtMs = c.startedAt.UnixMilli()
	r.Goods = c.ledger.Goods()
	r.Transactions = c.ledger.Settled()
	r.InitialMoney = c.ledger.InitialMoney()
	r.FeesBurned = c.ledger.FeesBurned()
	r.LastPrices = c.ledger.LastPrices()
	final := c.ledger.States()
	for _, id := range c.ledger.Agents() {
		r.Agents = append(r.Agents, report.AgentResult{
			AgentID: id,
			Name:    c.names[id],
			Initial: c.initial[id],
			Final:   final[id],
			Score:   c.scores[id],
		})
	}
	sort.Slice(r.Agents, func(i, j int) bool { return r.Agents[i].Score > r.Agents[j].Score })
	return r
}

func (c *Controller) publishReport() {
	if c.reportSink == nil {
		return
	}
	select {
	case c.reportSink <- c.buildReport():
	default:
		c.log.Error().Msg("report sink backpressure, report dropped")
	}
}

// scoresCopy is nil before termination.
func (c *Controller) scoresCopy() map[string]float64 {
	if c.scores == nil {
		return nil
	}
	out := make(map[string]float64, len(c.scores))
	for id, s := range c.scores {
		out[id] = s
	}
	return out
}
