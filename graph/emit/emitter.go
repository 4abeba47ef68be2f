// Package emit delivers engine events to logs, traces and in-memory buffers.
package emit

// Emitter receives engine events.
//
// Emit is called synchronously from the engine loop, so implementations
// must be fast and must not block. They must also be safe for concurrent
// use, since the engine runs distinct threads in parallel.
type Emitter interface {
	Emit(event Event)
}

// MultiEmitter fans each event out to several emitters in order.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter combines emitters. Nil entries are skipped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit forwards event to every emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}
