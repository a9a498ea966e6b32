package gaps

import "specforge/internal/store"

var statusRank = map[store.GapStatus]int{
	store.GapNew:         0,
	store.GapAccepted:    1,
	store.GapInProgress:  2,
	store.GapImplemented: 3,
	store.GapRejected:    3,
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(status store.GapStatus) bool {
	return status == store.GapImplemented || status == store.GapRejected
}

// CanTransition reports whether from -> to moves strictly forward. Skipping
// intermediate states is allowed.
func CanTransition(from, to store.GapStatus) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	if IsTerminal(from) {
		return false
	}
	return toRank > fromRank
}

// ParseStatus validates a status string.
func ParseStatus(value string) (store.GapStatus, bool) {
	status := store.GapStatus(value)
	_, ok := statusRank[status]
	return status, ok
}
