package room

import "github.com/mcdev12/tabletop/go/internal/interaction/events"

// journal is a fixed-size rolling buffer of a room's published events, kept
// so subscribers that detect a sequence gap can replay instead of forcing a
// full resync.
type journal struct {
	entries []events.GameEvent
	max     int
}

func newJournal(max int) *journal {
	return &journal{max: max}
}

func (j *journal) append(ev events.GameEvent) {
	j.entries = append(j.entries, ev)
	if len(j.entries) > j.max {
		j.entries = j.entries[len(j.entries)-j.max:]
	}
}

// since returns events with seq > after. complete is false when the buffer
// has already dropped part of the requested range.
func (j *journal) since(after uint64) ([]events.GameEvent, bool) {
	if len(j.entries) == 0 {
		return nil, true
	}
	if j.entries[0].Seq > after+1 {
		return nil, false
	}
	out := make([]events.GameEvent, 0)
	for _, ev := range j.entries {
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	return out, true
}
