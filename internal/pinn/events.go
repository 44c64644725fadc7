package pinn

import (
	"sync"
	"time"
)

// State is the lifecycle state of a training session.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateConverged State = "converged" // loss fell below the threshold
	StateCompleted State = "completed" // epoch budget exhausted
	StateStopped   State = "stopped"   // cancelled by the caller
	StateFailed    State = "failed"    // loss became non-finite
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateConverged, StateCompleted, StateStopped, StateFailed:
		return true
	}
	return false
}

// Successful reports whether a run ending in s leaves a trained model.
func (s State) Successful() bool {
	return s == StateConverged || s == StateCompleted
}

// Event is a progress report emitted between training iterations. The last
// event of a run has Final set and a terminal State.
type Event struct {
	RunID     int           `json:"run_id"`
	Iteration int           `json:"iteration"`
	Epochs    int           `json:"epochs"`
	Losses    Losses        `json:"losses"`
	State     State         `json:"state"`
	Final     bool          `json:"final"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`

	// Config and Trace are only set on the final event.
	Config *TrainConfig `json:"config,omitempty"`
	Trace  *Trace       `json:"trace,omitempty"`
}

// Progress is the fraction of the epoch budget done.
func (e Event) Progress() float64 {
	if e.Epochs == 0 {
		return 0
	}
	return float64(e.Iteration) / float64(e.Epochs)
}

// Observer receives training events on the training goroutine. OnEvent must
// return quickly; long work belongs on the observer's own goroutine.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Trace is the append-only loss history of a run, one entry per iteration.
type Trace struct {
	Total    []float64 `json:"total"`
	PDE      []float64 `json:"pde"`
	Terminal []float64 `json:"terminal"`
	Boundary []float64 `json:"boundary"`
}

func (t *Trace) append(l Losses) {
	t.Total = append(t.Total, l.Total)
	t.PDE = append(t.PDE, l.PDE)
	t.Terminal = append(t.Terminal, l.Terminal)
	t.Boundary = append(t.Boundary, l.Boundary)
}

// Len is the number of recorded iterations.
func (t Trace) Len() int {
	return len(t.Total)
}

func (t Trace) clone() Trace {
	return Trace{
		Total:    append([]float64(nil), t.Total...),
		PDE:      append([]float64(nil), t.PDE...),
		Terminal: append([]float64(nil), t.Terminal...),
		Boundary: append([]float64(nil), t.Boundary...),
	}
}

const finalSendTimeout = time.Second

// broadcaster fans events out to observers and channel subscribers.
type broadcaster struct {
	mu        sync.Mutex
	observers []Observer
	subs      map[int]chan Event
	nextID    int
}

func (b *broadcaster) observe(o Observer) {
	b.mu.Lock()
	b.observers = append(b.observers, o)
	b.mu.Unlock()
}

func (b *broadcaster) subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]chan Event)
	}
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *broadcaster) emit(e Event) {
	b.mu.Lock()
	observers := append([]Observer(nil), b.observers...)
	if !e.Final {
		for _, ch := range b.subs {
			select {
			case ch <- e:
			default:
				// slow subscriber, drop rather than stall training
			}
		}
		b.mu.Unlock()
	} else {
		subs := make(map[int]chan Event, len(b.subs))
		for id, ch := range b.subs {
			subs[id] = ch
		}
		b.mu.Unlock()

		// the terminal state is worth a short wait
		for id, ch := range subs {
			b.sendFinal(id, ch, e)
		}
	}

	for _, o := range observers {
		o.OnEvent(e)
	}
}

// sendFinal delivers e unless the subscriber goes away or stays full past
// finalSendTimeout.
func (b *broadcaster) sendFinal(id int, ch chan Event, e Event) {
	timeout := time.NewTimer(finalSendTimeout)
	defer timeout.Stop()
	for {
		b.mu.Lock()
		if b.subs[id] != ch {
			b.mu.Unlock()
			return
		}
		select {
		case ch <- e:
			b.mu.Unlock()
			return
		default:
		}
		b.mu.Unlock()

		select {
		case <-timeout.C:
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}
