package controller

// Metrics is a thread-safe read-only view of a game's runtime signals.
// It is updated from the loop goroutine and read by HTTP handlers and tests.
type Metrics struct {
	Phase      Phase `json:"phase"`
	Registered int   `json:"registered"`
	Clients    int   `json:"clients"`

	PendingTransactions int   `json:"pending_transactions"`
	SettledTransactions int   `json:"settled_transactions"`
	MoneySupply         int64 `json:"money_supply"`
	FeesBurned          int64 `json:"fees_burned"`

	InboxDepth    int    `json:"inbox_depth"`
	RequestsTotal uint64 `json:"requests_total"`
	RejectedTotal uint64 `json:"rejected_total"`
	DroppedTotal  uint64 `json:"dropped_total"`

	SecondsSinceActivity float64            `json:"seconds_since_activity"`
	SecondsRemaining     float64            `json:"seconds_remaining"`
	LastPrices           map[string]float64 `json:"last_prices,omitempty"`
}

func (c *Controller) Metrics() Metrics {
	if c == nil {
		return Metrics{}
	}
	m, _ := c.metrics.Load().(Metrics)
	return m
}

func (c *Controller) publishMetrics() {
	m := Metrics{
		Phase:         c.phase,
		Clients:       len(c.clients),
		InboxDepth:    len(c.inbox),
		RequestsTotal: c.requests.Load(),
		RejectedTotal: c.rejected.Load(),
		DroppedTotal:  c.dropped.Load(),
	}
	if c.ledger == nil {
		m.Registered = c.reg.Count()
	} else {
		m.Registered = c.ledger.NbAgents()
		m.SettledTransactions = int(c.ledger.Seq())
		m.MoneySupply = c.ledger.TotalMoney()
		m.FeesBurned = c.ledger.FeesBurned()
		m.LastPrices = c.ledger.LastPrices()
	}
	if c.engine != nil {
		m.PendingTransactions = c.engine.PendingCount()
	}
	if c.phase == PhaseRunning {
		now := c.now()
		m.SecondsSinceActivity = now.Sub(c.lastActivity).Seconds()
		m.SecondsRemaining = (c.cfg.CompetitionTimeout - now.Sub(c.startedAt)).Seconds()
	}
	c.metrics.Store(m)
}
