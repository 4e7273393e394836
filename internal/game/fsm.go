package game

// Signal is an input to the agent state machine.
type Signal uint8

const (
	SignalChestSeen       Signal = iota // a chest the agent has not reacted to appeared
	SignalSurpriseElapsed               // surprise hold finished
	SignalReachedChest                  // within trigger radius of the chest
	SignalChestGone                     // chest claimed or despawned
	SignalImpact                        // collision with another agent
	SignalRemoved                       // debounced roster removal
	signalCount
)

var signalNames = [...]string{"chest_seen", "surprise_elapsed", "reached_chest", "chest_gone", "impact", "removed"}

func (s Signal) String() string {
	if s < signalCount {
		return signalNames[s]
	}
	return "unknown"
}

const agentStateCount = int(Victorious) + 1

// noTransition marks a (state, signal) pair that leaves the state unchanged.
const noTransition AgentState = 0xFF

// transitions is the complete table. Every cell is either a target state or
// noTransition; Victorious is terminal.
var transitions = [agentStateCount][signalCount]AgentState{
	Wandering: {
		SignalChestSeen:       Surprised,
		SignalSurpriseElapsed: noTransition,
		SignalReachedChest:    noTransition,
		SignalChestGone:       noTransition,
		SignalImpact:          noTransition,
		SignalRemoved:         Victorious,
	},
	Surprised: {
		SignalChestSeen:       noTransition,
		SignalSurpriseElapsed: Approaching,
		SignalReachedChest:    noTransition,
		SignalChestGone:       Wandering,
		SignalImpact:          noTransition,
		SignalRemoved:         Victorious,
	},
	Approaching: {
		SignalChestSeen:       noTransition,
		SignalSurpriseElapsed: noTransition,
		SignalReachedChest:    Digging,
		SignalChestGone:       Wandering,
		SignalImpact:          noTransition,
		SignalRemoved:         Victorious,
	},
	Digging: {
		SignalChestSeen:       noTransition,
		SignalSurpriseElapsed: noTransition,
		SignalReachedChest:    noTransition,
		SignalChestGone:       Wandering,
		SignalImpact:          Approaching,
		SignalRemoved:         Victorious,
	},
	Victorious: {
		SignalChestSeen:       noTransition,
		SignalSurpriseElapsed: noTransition,
		SignalReachedChest:    noTransition,
		SignalChestGone:       noTransition,
		SignalImpact:          noTransition,
		SignalRemoved:         noTransition,
	},
}

// Transition returns the state reached from s on sig. ok is false when the
// pair is not a transition, in which case next == s.
func Transition(s AgentState, sig Signal) (next AgentState, ok bool) {
	if int(s) >= agentStateCount || sig >= signalCount {
		return s, false
	}
	next = transitions[s][sig]
	if next == noTransition {
		return s, false
	}
	return next, true
}

// apply feeds sig to the agent's state machine.
func (a *Agent) apply(sig Signal) bool {
	next, ok := Transition(a.State, sig)
	if ok {
		a.State = next
	}
	return ok
}
