package nav

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Loop serializes every input onto one goroutine: subscriber events,
// timer steps and the periodic tick all run in sequence, so the
// navigator context never needs a lock.
type Loop struct {
	nav    *Navigator
	events chan Event
	funcs  chan func()
	rate   time.Duration

	mu   sync.RWMutex
	snap Snapshot
}

func NewLoop(nav *Navigator, rate int) *Loop {
	if rate <= 0 {
		rate = 10
	}
	l := &Loop{
		nav:    nav,
		events: make(chan Event, 64),
		funcs:  make(chan func(), 16),
		rate:   time.Second / time.Duration(rate),
	}
	nav.sched = l
	l.snap = nav.Snapshot()
	return l
}

// Post delivers an event to the loop. It is safe from any goroutine;
// when the queue is full the event is dropped, whatever its kind
// (exec commands and touch events included).
func (l *Loop) Post(ev Event) {
	select {
	case l.events <- ev:
	default:
		log.Warn("event queue full, dropping event")
	}
}

// After implements Scheduler by posting fn back onto the loop.
func (l *Loop) After(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		l.funcs <- fn
	})
}

// Status returns the latest published snapshot.
func (l *Loop) Status() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

func (l *Loop) publish() {
	snap := l.nav.Snapshot()
	l.mu.Lock()
	l.snap = snap
	l.mu.Unlock()
}

// Run processes events until the context is cancelled. On shutdown the
// loop simply stops: no command is sent, the autopilot keeps its last
// state.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("navigator loop exiting")
			return
		case ev := <-l.events:
			l.nav.Handle(ev)
			l.publish()
		case fn := <-l.funcs:
			fn()
			l.publish()
		case <-ticker.C:
			l.nav.Tick()
			l.publish()
		}
	}
}
