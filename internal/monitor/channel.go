package monitor

import "go.uber.org/zap"

// ConsoleChannel delivers alert notifications through the structured
// logger instead of ad-hoc fmt.Println diagnostics.
type ConsoleChannel struct{ Log *zap.Logger }

func (c ConsoleChannel) Notify(rule AlertRule, level int, meanValue float64) {
	c.Log.Warn("alert triggered",
		zap.String("metric", rule.Metric),
		zap.String("op", string(rule.Op)),
		zap.Float64("threshold", rule.Threshold),
		zap.Float64("mean", meanValue),
		zap.Int("escalation", level),
	)
}

// WebhookChannel is a pluggable delivery stub: it defers to a caller
// -supplied sink function so the monitoring core never imports an HTTP
// client directly. Concrete webhook delivery (retries, signing) is an
// external collaborator concern, not part of the core.
type WebhookChannel struct {
	Send func(rule AlertRule, level int, meanValue float64)
}

func (w WebhookChannel) Notify(rule AlertRule, level int, meanValue float64) {
	if w.Send != nil {
		w.Send(rule, level, meanValue)
	}
}
