package txn

// stateEvent is the FSM transition table key: current state + incoming
// event. Generic over each kind's own State/Event enum types so every
// transaction kind can define its own small pure table instead of
// inheriting from a shared base machine.
type stateEvent[S, E comparable] struct {
	state S
	event E
}

// transition describes the target state for a single FSM transition.
type transition[S any] struct {
	newState S
}

// table is a complete FSM transition table for one transaction kind.
type table[S, E comparable] map[stateEvent[S, E]]transition[S]

// apply looks up (state, event) in t and returns the resulting state. ok
// is false if the pair has no entry, in which case the event is ignored
// and state is returned unchanged.
func apply[S, E comparable](t table[S, E], state S, event E) (S, bool) {
	tr, found := t[stateEvent[S, E]{state, event}]
	if !found {
		return state, false
	}

	return tr.newState, true
}
