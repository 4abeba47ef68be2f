package emit

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapEmitter writes events as structured zap entries.
//
// "node failed" events are logged at warn, everything else at the
// configured level. Meta entries become fields with a "meta." prefix.
//
// Example output (JSON encoder):
//
//	{"lvl":"debug","message":"node completed","thread_id":"t-1","step":3,"node_id":"focus","meta.duration_ms":412}
type ZapEmitter struct {
	logger *zap.Logger
	level  zapcore.Level
}

// NewZapEmitter creates a ZapEmitter. A nil logger discards events.
func NewZapEmitter(logger *zap.Logger, level zapcore.Level) *ZapEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapEmitter{logger: logger, level: level}
}

// Emit logs event.
func (z *ZapEmitter) Emit(event Event) {
	level := z.level
	if event.Msg == "node failed" && level < zapcore.WarnLevel {
		level = zapcore.WarnLevel
	}

	ce := z.logger.Check(level, event.Msg)
	if ce == nil {
		return
	}

	fields := make([]zap.Field, 0, 3+len(event.Meta))
	fields = append(fields,
		zap.String("thread_id", event.ThreadID),
		zap.Int("step", event.Step),
		zap.String("node_id", event.NodeID),
	)
	for k, v := range event.Meta {
		fields = append(fields, zap.Any("meta."+k, v))
	}
	ce.Write(fields...)
}
