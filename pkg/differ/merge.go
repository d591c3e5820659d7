package differ

import "github.com/relves/groupsync/pkg/types"

// MergeAdjacent folds invite bounces in a single left-to-right pass. Each
// event is compared only with the last event already emitted; merging never
// looks further back.
//
// A pending-add followed by a pending-remove of the same user by the same
// actor, or the reverse, becomes a Bounce. Two neighbouring bounces for the
// same user and actor are summed, including a bounce just formed with the
// bounce before it.
func MergeAdjacent(events []types.Event) []types.Event {
	if len(events) == 0 {
		return events
	}
	out := make([]types.Event, 0, len(events))
	for _, ev := range events {
		if n := len(out); n > 0 {
			if merged, ok := merge(out[n-1], ev); ok {
				out[n-1] = merged
				if n > 1 {
					if folded, ok := merge(out[n-2], merged); ok {
						out[n-2] = folded
						out = out[:n-1]
					}
				}
				continue
			}
		}
		out = append(out, ev)
	}
	return out
}

func merge(prev, next types.Event) (types.Event, bool) {
	if prev.Actor() != next.Actor() {
		return nil, false
	}
	by := types.By{From: prev.Actor()}
	switch p := prev.(type) {
	case types.PendingAddOne:
		if n, ok := next.(types.PendingRemoveOne); ok && n.ID == p.ID {
			return types.Bounce{By: by, ID: p.ID, Count: 1}, true
		}
	case types.PendingRemoveOne:
		if n, ok := next.(types.PendingAddOne); ok && n.ID == p.ID {
			return types.Bounce{By: by, ID: p.ID, Count: 1}, true
		}
	case types.Bounce:
		if n, ok := next.(types.Bounce); ok && n.ID == p.ID {
			return types.Bounce{By: by, ID: p.ID, Count: p.Count + n.Count}, true
		}
	}
	return nil, false
}
