package gateway

import (
	"sync"

	"github.com/smallbiznis/fintrack/internal/authclient/domain"
	"go.uber.org/zap"
)

// subscriber receives events in emission order on its own goroutine, so a slow
// handler never delays other subscribers or the emitting call.
type subscriber struct {
	handler func(domain.Event)
	log     *zap.Logger

	mu    sync.Mutex
	queue []domain.Event

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newSubscriber(handler func(domain.Event), log *zap.Logger) *subscriber {
	s := &subscriber{
		handler: handler,
		log:     log,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *subscriber) push(ev domain.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.deliver(ev)
		}
	}
}

func (s *subscriber) deliver(ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("auth event handler panicked", zap.String("event", string(ev.Kind)), zap.Any("panic", r))
		}
	}()
	s.handler(ev)
}

type dispatcher struct {
	log  *zap.Logger
	mu   sync.Mutex
	next uint64
	subs map[uint64]*subscriber
}

func newDispatcher(log *zap.Logger) *dispatcher {
	return &dispatcher{log: log, subs: make(map[uint64]*subscriber)}
}

func (d *dispatcher) subscribe(handler func(domain.Event)) func() {
	sub := newSubscriber(handler, d.log)

	d.mu.Lock()
	d.next++
	id := d.next
	d.subs[id] = sub
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
		sub.stop()
	}
}

func (d *dispatcher) emit(ev domain.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sub := range d.subs {
		sub.push(ev)
	}
}

// close stops every subscriber and waits for in-flight handlers to return.
func (d *dispatcher) close() {
	d.mu.Lock()
	subs := d.subs
	d.subs = make(map[uint64]*subscriber)
	d.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	for _, sub := range subs {
		<-sub.stopped
	}
}
