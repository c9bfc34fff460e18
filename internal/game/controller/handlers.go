package controller

import (
	"fmt"

	"tacarena.ai/internal/game/settlement"
	"tacarena.ai/internal/protocol"
)

// handle is the single dispatch point for agent requests.
func (c *Controller) handle(env Envelope) {
	c.requests.Add(1)
	if c.phase == PhaseRunning {
		c.lastActivity = c.now()
	}
	switch m := env.Msg.(type) {
	case protocol.RegisterMsg:
		c.handleRegister(env.AgentID, m)
	case protocol.UnregisterMsg:
		c.handleUnregister(env.AgentID, m)
	case protocol.TransactionMsg:
		c.handleTransaction(env.AgentID, m)
	case protocol.GetStateUpdateMsg:
		c.handleGetStateUpdate(env.AgentID, m)
	default:
		c.reject(env.AgentID, "", protocol.ErrRequestNotValid, fmt.Sprintf("unsupported request %T", env.Msg), nil)
	}
}

func (c *Controller) reject(agentID, reqID, code, msg string, details map[string]any) {
	c.rejected.Add(1)
	e := protocol.NewTacError(reqID, code, msg)
	e.Details = details
	c.send(agentID, e)
}

func (c *Controller) rejectErr(agentID, reqID string, err error, details map[string]any) {
	code := ErrorCode(err)
	c.log.Debug().Str("agent_id", agentID).Str("code", code).Err(err).Msg("request rejected")
	c.reject(agentID, reqID, code, err.Error(), details)
}

func (c *Controller) handleRegister(agentID string, m protocol.RegisterMsg) {
	if c.phase != PhaseAwaitingRegistration {
		c.reject(agentID, m.ReqID, protocol.ErrRegistrationClosed, "registration is closed", nil)
		return
	}
	if err := c.reg.Register(agentID, m.AgentName); err != nil {
		c.rejectErr(agentID, m.ReqID, err, nil)
		c.logEvent(Event{Kind: protocol.TypeRegister, AgentID: agentID, ReqID: m.ReqID, Code: ErrorCode(err)})
		return
	}
	name := m.AgentName
	if name == "" {
		name = agentID
	}
	c.log.Info().Str("agent_id", agentID).Str("name", name).Int("registered", c.reg.Count()).Msg("agent registered")
	c.logEvent(Event{Kind: protocol.TypeRegister, AgentID: agentID, ReqID: m.ReqID, Detail: name})
	c.send(agentID, protocol.RegisteredMsg{
		Type:            protocol.TypeRegistered,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		GameID:          c.id,
		AgentID:         agentID,
		AgentName:       name,
	})
	if c.cfg.StartOnQuorum && c.reg.QuorumReached() {
		c.closeRegistration(false)
	}
}

func (c *Controller) handleUnregister(agentID string, m protocol.UnregisterMsg) {
	if c.phase != PhaseAwaitingRegistration {
		c.reject(agentID, m.ReqID, protocol.ErrRegistrationClosed, "registration is closed", nil)
		return
	}
	if err := c.reg.Unregister(agentID); err != nil {
		c.rejectErr(agentID, m.ReqID, err, nil)
		return
	}
	c.logEvent(Event{Kind: protocol.TypeUnregister, AgentID: agentID, ReqID: m.ReqID})
	c.send(agentID, protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		AckFor:          protocol.TypeUnregister,
	})
}

func (c *Controller) handleTransaction(agentID string, m protocol.TransactionMsg) {
	details := map[string]any{"transaction_id": m.TransactionID}
	if c.phase != PhaseRunning {
		c.rejectErr(agentID, m.ReqID, ErrCompetitionNotRunning, details)
		return
	}
	if !c.ledger.Has(agentID) {
		c.reject(agentID, m.ReqID, protocol.ErrAgentNotRegistered, "agent is not part of this game", details)
		return
	}
	req := settlement.Request{
		TransactionID: m.TransactionID,
		Sender:        agentID,
		Counterparty:  m.Counterparty,
		IsSenderBuyer: m.IsSenderBuyer,
		Amount:        m.Amount,
		Quantities:    m.Quantities,
	}
	out := c.engine.Submit(req, c.now())
	switch out.Status {
	case settlement.StatusPending:
		c.logEvent(Event{Kind: protocol.TypeTransaction, AgentID: agentID, ReqID: m.ReqID, TransactionID: m.TransactionID, Detail: out.Status.String()})
		c.send(agentID, protocol.AckMsg{
			Type:            protocol.TypeAck,
			ProtocolVersion: protocol.Version,
			ReqID:           m.ReqID,
			AckFor:          protocol.TypeTransaction,
			TransactionID:   m.TransactionID,
			Status:          out.Status.String(),
		})

	case settlement.StatusSettled:
		if err := c.ledger.CheckInvariants(); err != nil {
			c.log.Error().Err(err).Str("transaction_id", m.TransactionID).Msg("ledger invariant broken")
			panic(err)
		}
		tx := out.Tx
		c.log.Info().
			Str("transaction_id", tx.ID).
			Str("buyer", tx.Buyer).
			Str("seller", tx.Seller).
			Int64("amount", tx.Amount).
			Uint64("seq", tx.Seq).
			Msg("transaction settled")
		c.logEvent(Event{
			Kind:          "SETTLED",
			AgentID:       agentID,
			ReqID:         m.ReqID,
			TransactionID: tx.ID,
			Data: map[string]any{
				"seq":        tx.Seq,
				"buyer":      tx.Buyer,
				"seller":     tx.Seller,
				"amount":     tx.Amount,
				"fee":        tx.Fee,
				"quantities": tx.Quantities,
			},
		})
		conf := protocol.TransactionConfirmationMsg{
			Type:            protocol.TypeTransactionConfirmation,
			ProtocolVersion: protocol.Version,
			TransactionID:   tx.ID,
			Buyer:           tx.Buyer,
			Seller:          tx.Seller,
			Amount:          tx.Amount,
			Fee:             tx.Fee,
			Quantities:      tx.Quantities,
			Timestamp:       tx.UnixMs,
			Seq:             tx.Seq,
		}
		c.send(tx.Buyer, conf)
		c.send(tx.Seller, conf)

	case settlement.StatusRejected:
		c.logEvent(Event{Kind: "REJECTED", AgentID: agentID, ReqID: m.ReqID, TransactionID: m.TransactionID, Code: ErrorCode(out.Err), Detail: out.Err.Error()})
		c.rejectErr(agentID, m.ReqID, out.Err, details)
		if out.Counterpart != nil {
			c.rejectErr(out.Counterpart.Sender, "", out.Err, details)
		}
	}
}

func (c *Controller) handleGetStateUpdate(agentID string, m protocol.GetStateUpdateMsg) {
	if c.phase != PhaseRunning && c.phase != PhaseTerminated {
		c.rejectErr(agentID, m.ReqID, ErrCompetitionNotRunning, nil)
		return
	}
	st, ok := c.ledger.State(agentID)
	if !ok {
		c.reject(agentID, m.ReqID, protocol.ErrAgentNotRegistered, "agent is not part of this game", nil)
		return
	}
	c.send(agentID, protocol.StateUpdateMsg{
		Type:            protocol.TypeStateUpdate,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		Phase:           string(c.phase),
		Balance:         st.Balance,
		Holdings:        st.Holdings,
		UtilityParams:   st.Utilities,
	})
}
