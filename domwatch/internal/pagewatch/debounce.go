package pagewatch

import (
	"time"

	"github.com/hazyhaar/vitrine/domwatch/mutation"
	"github.com/hazyhaar/vitrine/loop"
)

// debouncer buffers events on the page loop and flushes them once no new
// event arrived for window, or as soon as max events are buffered.
type debouncer struct {
	loop    *loop.Loop
	window  time.Duration
	max     int
	events  []mutation.Event
	stop    func() bool
	gen     uint64
	flushFn func([]mutation.Event)
}

func newDebouncer(l *loop.Loop, window time.Duration, max int, flushFn func([]mutation.Event)) *debouncer {
	if window <= 0 {
		window = 250 * time.Millisecond
	}
	if max <= 0 {
		max = 1000
	}
	return &debouncer{loop: l, window: window, max: max, flushFn: flushFn}
}

func (d *debouncer) add(ev mutation.Event) {
	d.events = append(d.events, ev)
	if len(d.events) >= d.max {
		d.flush()
		return
	}
	d.disarm()
	gen := d.gen
	d.stop = d.loop.AfterFunc(d.window, func() {
		if gen == d.gen {
			d.flush()
		}
	})
}

// flush emits the buffered events, compressed.
func (d *debouncer) flush() {
	d.disarm()
	if len(d.events) == 0 {
		return
	}
	evs := compress(d.events)
	d.events = nil
	d.flushFn(evs)
}

func (d *debouncer) pending() int { return len(d.events) }

// disarm cancels the window timer. A timer that already fired sees a newer
// generation and does nothing.
func (d *debouncer) disarm() {
	d.gen++
	if d.stop != nil {
		d.stop()
		d.stop = nil
	}
}

// compress folds runs of changed events for the same rule and node into the
// last one, keeping the first OldValue and counting the folded events.
// Other kinds are structural and kept as they are.
func compress(evs []mutation.Event) []mutation.Event {
	if len(evs) <= 1 {
		return evs
	}
	out := make([]mutation.Event, 0, len(evs))
	for i := 0; i < len(evs); i++ {
		ev := evs[i]
		if ev.Kind != mutation.KindChanged {
			out = append(out, ev)
			continue
		}
		first := ev
		j := i + 1
		for j < len(evs) && evs[j].Kind == mutation.KindChanged &&
			evs[j].Rule == first.Rule && evs[j].XPath == first.XPath {
			ev = evs[j]
			j++
		}
		if n := j - i; n > 1 {
			ev.OldValue = first.OldValue
			if ev.Attr == "" {
				ev.Attr = first.Attr
			}
			ev.Count = n
		}
		out = append(out, ev)
		i = j - 1
	}
	return out
}
