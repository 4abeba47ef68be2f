package model

import (
	"context"
	"time"

	"github.com/dshills/coachgraph/graph"
	"go.uber.org/zap"
)

// Instrumented records the latency of every call to Model under Name.
type Instrumented struct {
	Model   ChatModel
	Name    string
	Metrics *graph.PrometheusMetrics
	Logger  *zap.Logger
}

// Chat implements ChatModel.
func (i *Instrumented) Chat(ctx context.Context, messages []Message, format *ResponseFormat) (ChatOut, error) {
	start := time.Now()
	out, err := i.Model.Chat(ctx, messages, format)
	elapsed := time.Since(start)

	name := i.Name
	if out.Model != "" {
		name = out.Model
	}
	if i.Metrics != nil {
		i.Metrics.RecordModelLatency(name, elapsed)
	}
	if i.Logger != nil {
		i.Logger.Debug("model call",
			zap.String("model", name),
			zap.Duration("latency", elapsed),
			zap.Bool("json", format != nil),
			zap.Error(err),
		)
	}
	return out, err
}
