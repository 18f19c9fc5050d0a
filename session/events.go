package session

import (
	"fmt"

	"github.com/guseggert/maestro/protocol"
)

// Event is a decoded event as delivered to handlers.
type Event struct {
	Name string
	// SessionID is set when the event came from an attached debugging session.
	SessionID string
	// Params is the value produced by the registered decoder.
	Params any
}

type Handler interface {
	HandleEvent(ev Event)
}

type HandlerFunc func(ev Event)

func (f HandlerFunc) HandleEvent(ev Event) { f(ev) }

type registration struct {
	// decoder is nil when handlers were registered before the event type.
	decoder  protocol.Decoder
	handlers []Handler
}

// RegisterEventType associates an event name with the decoder for its params.
// Registering a name twice is logged and ignored.
func (s *Session) RegisterEventType(name string, decoder protocol.Decoder) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if !s.registerEventType(name, decoder) {
		s.log.Errorw("event type already registered, ignoring", "Event", name)
	}
}

// registerEventType must be called with mut held.
func (s *Session) registerEventType(name string, decoder protocol.Decoder) bool {
	reg, ok := s.events[name]
	if !ok {
		s.events[name] = &registration{decoder: decoder}
		return true
	}
	if reg.decoder != nil {
		return false
	}
	reg.decoder = decoder
	return true
}

// RegisterEvent registers E's event name with a decoder producing E values.
func RegisterEvent[E protocol.Event](s *Session) {
	var e E
	s.RegisterEventType(e.EventName(), protocol.DecoderFor[E]())
}

// RegisterHandler adds h to each named event. Adding the same handler twice delivers events to it twice.
// Names without a registered type have their params delivered as json.RawMessage.
func (s *Session) RegisterHandler(h Handler, names ...string) {
	s.mut.Lock()
	defer s.mut.Unlock()
	for _, name := range names {
		reg, ok := s.events[name]
		if !ok {
			reg = &registration{}
			s.events[name] = reg
		}
		reg.handlers = append(reg.handlers, h)
	}
}

// OnEvent registers E if needed and calls fn for every E received.
func OnEvent[E protocol.Event](s *Session, fn func(sessionID string, ev E)) {
	var zero E
	name := zero.EventName()

	s.mut.Lock()
	s.registerEventType(name, protocol.DecoderFor[E]())
	s.mut.Unlock()

	s.RegisterHandler(HandlerFunc(func(ev Event) {
		e, ok := ev.Params.(E)
		if !ok {
			s.log.Errorw("unexpected event params type", "Event", name, "Type", fmt.Sprintf("%T", ev.Params))
			return
		}
		fn(ev.SessionID, e)
	}), name)
}

func (s *Session) handleEvent(name string, data []byte) {
	s.mut.Lock()
	reg, ok := s.events[name]
	var (
		decoder  protocol.Decoder
		handlers []Handler
	)
	if ok {
		decoder = reg.decoder
		handlers = append([]Handler(nil), reg.handlers...)
	}
	s.mut.Unlock()

	if !ok {
		metricFramesDropped.WithLabelValues(dropUnregistered).Inc()
		s.log.Debugw("dropping unregistered event", "Event", name)
		return
	}
	if decoder == nil {
		decoder = protocol.RawDecoder
	}

	raw, err := protocol.DecodeRawEvent(data)
	if err != nil {
		metricFramesDropped.WithLabelValues(dropUndecodable).Inc()
		s.log.Errorw("dropping event", "Event", name, "Error", err)
		return
	}
	params, err := decoder(raw.Params)
	if err != nil {
		metricFramesDropped.WithLabelValues(dropUndecodable).Inc()
		s.log.Errorw("dropping event", "Event", name, "Error", &protocol.DecodeError{Op: "event " + name, Err: err})
		return
	}

	metricEventsDispatched.WithLabelValues(name).Inc()
	ev := Event{Name: name, SessionID: raw.SessionID, Params: params}
	for _, h := range handlers {
		go s.runHandler(h, ev)
	}
}

func (s *Session) runHandler(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("event handler panicked", "Event", ev.Name, "Panic", r)
		}
	}()
	h.HandleEvent(ev)
}
