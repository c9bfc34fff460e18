// Package registration tracks the roster of a game while its registration
// window is open.
package registration

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrAlreadyRegistered  = errors.New("agent already registered")
	ErrNotRegistered      = errors.New("agent not registered")
	ErrRegistrationClosed = errors.New("registration closed")
	ErrNameTaken          = errors.New("agent name already registered")
	ErrNotWhitelisted     = errors.New("agent name not in whitelist")
	ErrQuorumNotReached   = errors.New("quorum not reached")
)

type Config struct {
	// Target is the number of agents the game is dealt for (nb_agents).
	Target int
	// MinRequired is the smallest roster that may start; 0 means Target.
	MinRequired int
	// Whitelist, when non-empty, restricts accepted agent names.
	Whitelist []string
}

// Outcome is the result of closing the window.
type Outcome struct {
	Cancelled bool
	// Roster is sorted by agent id.
	Roster []string
	Names  map[string]string
}

// Manager is not safe for concurrent use.
type Manager struct {
	cfg       Config
	whitelist map[string]struct{}

	names  map[string]string // agent id -> name
	byName map[string]string // name -> agent id
	closed bool
}

func NewManager(cfg Config) *Manager {
	if cfg.MinRequired <= 0 {
		cfg.MinRequired = cfg.Target
	}
	m := &Manager{
		cfg:    cfg,
		names:  map[string]string{},
		byName: map[string]string{},
	}
	if len(cfg.Whitelist) > 0 {
		m.whitelist = make(map[string]struct{}, len(cfg.Whitelist))
		for _, n := range cfg.Whitelist {
			m.whitelist[n] = struct{}{}
		}
	}
	return m
}

func (m *Manager) Register(agentID, name string) error {
	if m.closed {
		return ErrRegistrationClosed
	}
	if _, ok := m.names[agentID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, agentID)
	}
	if name == "" {
		name = agentID
	}
	if m.whitelist != nil {
		if _, ok := m.whitelist[name]; !ok {
			return fmt.Errorf("%w: %s", ErrNotWhitelisted, name)
		}
	}
	if _, ok := m.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrNameTaken, name)
	}
	m.names[agentID] = name
	m.byName[name] = agentID
	return nil
}

func (m *Manager) Unregister(agentID string) error {
	if m.closed {
		return ErrRegistrationClosed
	}
	name, ok := m.names[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, agentID)
	}
	delete(m.names, agentID)
	delete(m.byName, name)
	return nil
}

func (m *Manager) IsRegistered(agentID string) bool {
	_, ok := m.names[agentID]
	return ok
}

func (m *Manager) Count() int          { return len(m.names) }
func (m *Manager) Closed() bool        { return m.closed }
func (m *Manager) QuorumReached() bool { return len(m.names) >= m.cfg.Target }

// Roster returns registered agent ids in sorted order.
func (m *Manager) Roster() []string {
	out := make([]string, 0, len(m.names))
	for id := range m.names {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CloseNow closes the window early. It refuses until the target is reached.
func (m *Manager) CloseNow() (Outcome, error) {
	if m.closed {
		return Outcome{}, ErrRegistrationClosed
	}
	if !m.QuorumReached() {
		return Outcome{}, fmt.Errorf("%w: %d/%d", ErrQuorumNotReached, len(m.names), m.cfg.Target)
	}
	return m.close(), nil
}

// Expire closes the window because the registration timeout elapsed.
func (m *Manager) Expire() Outcome {
	if m.closed {
		return Outcome{Cancelled: true}
	}
	return m.close()
}

func (m *Manager) close() Outcome {
	m.closed = true
	out := Outcome{
		Roster: m.Roster(),
		Names:  make(map[string]string, len(m.names)),
	}
	for id, n := range m.names {
		out.Names[id] = n
	}
	out.Cancelled = len(out.Roster) < m.cfg.MinRequired
	return out
}
