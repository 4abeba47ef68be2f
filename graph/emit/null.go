package emit

// NullEmitter discards every event. It is the engine default.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit does nothing.
func (n *NullEmitter) Emit(Event) {}
