package game

// Arena is the engine-owned agent collection. Agents are kept in insertion
// order, which is the steering order; external code refers to agents by id.
type Arena struct {
	agents []*Agent
	index  map[string]int // id -> position in agents
}

// NewArena creates an empty arena with room for capacity agents.
func NewArena(capacity int) *Arena {
	return &Arena{
		agents: make([]*Agent, 0, capacity),
		index:  make(map[string]int, capacity),
	}
}

// Add appends a. It returns false if an agent with the same id exists.
func (ar *Arena) Add(a *Agent) bool {
	if _, ok := ar.index[a.ID]; ok {
		return false
	}
	ar.index[a.ID] = len(ar.agents)
	ar.agents = append(ar.agents, a)
	return true
}

// Get returns the agent with id, or nil.
func (ar *Arena) Get(id string) *Agent {
	if i, ok := ar.index[id]; ok {
		return ar.agents[i]
	}
	return nil
}

// Len returns the number of agents.
func (ar *Arena) Len() int {
	return len(ar.agents)
}

// All returns the agents in insertion order. The slice is owned by the arena
// and only valid until the next Compact.
func (ar *Arena) All() []*Agent {
	return ar.agents
}

// Compact drops every agent for which keep returns false, preserving the
// order of the rest, and returns the dropped agents.
func (ar *Arena) Compact(keep func(*Agent) bool) []*Agent {
	var dropped []*Agent
	n := 0
	for _, a := range ar.agents {
		if keep(a) {
			ar.agents[n] = a
			ar.index[a.ID] = n
			n++
			continue
		}
		delete(ar.index, a.ID)
		dropped = append(dropped, a)
	}
	for i := n; i < len(ar.agents); i++ {
		ar.agents[i] = nil
	}
	ar.agents = ar.agents[:n]
	return dropped
}
