package arena

import (
	"github.com/prometheus/client_golang/prometheus"

	"tacarena.ai/internal/game/controller"
)

var phases = []controller.Phase{
	controller.PhaseAwaitingRegistration,
	controller.PhaseRunning,
	controller.PhaseTerminated,
	controller.PhaseCancelled,
}

// Collector exports every registered game's published Metrics snapshot.
type Collector struct {
	r *Registry

	games       *prometheus.Desc
	phase       *prometheus.Desc
	registered  *prometheus.Desc
	clients     *prometheus.Desc
	pending     *prometheus.Desc
	settled     *prometheus.Desc
	moneySupply *prometheus.Desc
	feesBurned  *prometheus.Desc
	inboxDepth  *prometheus.Desc
	requests    *prometheus.Desc
	rejected    *prometheus.Desc
	dropped     *prometheus.Desc
	idleSeconds *prometheus.Desc
	leftSeconds *prometheus.Desc
	lastPrice   *prometheus.Desc
}

func NewCollector(r *Registry) *Collector {
	game := []string{"game_id"}
	return &Collector{
		r:           r,
		games:       prometheus.NewDesc("tac_games", "Games by phase.", []string{"phase"}, nil),
		phase:       prometheus.NewDesc("tac_game_phase", "1 for the game's current phase.", []string{"game_id", "phase"}, nil),
		registered:  prometheus.NewDesc("tac_registered_agents", "Registered agents.", game, nil),
		clients:     prometheus.NewDesc("tac_connected_clients", "Agents with an open connection.", game, nil),
		pending:     prometheus.NewDesc("tac_pending_transactions", "Transactions waiting for the counterparty.", game, nil),
		settled:     prometheus.NewDesc("tac_settled_transactions_total", "Settled transactions.", game, nil),
		moneySupply: prometheus.NewDesc("tac_money_supply", "Sum of agent balances.", game, nil),
		feesBurned:  prometheus.NewDesc("tac_fees_burned_total", "Transaction fees removed from circulation.", game, nil),
		inboxDepth:  prometheus.NewDesc("tac_inbox_depth", "Queued inbound requests.", game, nil),
		requests:    prometheus.NewDesc("tac_requests_total", "Inbound agent requests.", game, nil),
		rejected:    prometheus.NewDesc("tac_rejected_requests_total", "Requests answered with TAC_ERROR.", game, nil),
		dropped:     prometheus.NewDesc("tac_dropped_messages_total", "Outbound messages dropped on full queues.", game, nil),
		idleSeconds: prometheus.NewDesc("tac_seconds_since_activity", "Seconds since the last agent message.", game, nil),
		leftSeconds: prometheus.NewDesc("tac_seconds_remaining", "Seconds until the competition timeout.", game, nil),
		lastPrice:   prometheus.NewDesc("tac_last_price", "Unit price of the last trade per good.", []string{"game_id", "good"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.games, c.phase, c.registered, c.clients, c.pending, c.settled, c.moneySupply,
		c.feesBurned, c.inboxDepth, c.requests, c.rejected, c.dropped, c.idleSeconds,
		c.leftSeconds, c.lastPrice,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	byPhase := map[controller.Phase]int{}
	for _, g := range c.r.Controllers() {
		m := g.Metrics()
		id := g.ID()
		byPhase[m.Phase]++
		for _, p := range phases {
			v := 0.0
			if p == m.Phase {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.phase, prometheus.GaugeValue, v, id, string(p))
		}
		ch <- prometheus.MustNewConstMetric(c.registered, prometheus.GaugeValue, float64(m.Registered), id)
		ch <- prometheus.MustNewConstMetric(c.clients, prometheus.GaugeValue, float64(m.Clients), id)
		ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(m.PendingTransactions), id)
		ch <- prometheus.MustNewConstMetric(c.settled, prometheus.CounterValue, float64(m.SettledTransactions), id)
		ch <- prometheus.MustNewConstMetric(c.moneySupply, prometheus.GaugeValue, float64(m.MoneySupply), id)
		ch <- prometheus.MustNewConstMetric(c.feesBurned, prometheus.CounterValue, float64(m.FeesBurned), id)
		ch <- prometheus.MustNewConstMetric(c.inboxDepth, prometheus.GaugeValue, float64(m.InboxDepth), id)
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(m.RequestsTotal), id)
		ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(m.RejectedTotal), id)
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(m.DroppedTotal), id)
		ch <- prometheus.MustNewConstMetric(c.idleSeconds, prometheus.GaugeValue, m.SecondsSinceActivity, id)
		ch <- prometheus.MustNewConstMetric(c.leftSeconds, prometheus.GaugeValue, m.SecondsRemaining, id)
		for good, p := range m.LastPrices {
			ch <- prometheus.MustNewConstMetric(c.lastPrice, prometheus.GaugeValue, p, id, good)
		}
	}
	for _, p := range phases {
		ch <- prometheus.MustNewConstMetric(c.games, prometheus.GaugeValue, float64(byPhase[p]), string(p))
	}
}
