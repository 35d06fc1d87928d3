package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes notifications to the structured log. Useful when no chat
// gateway is configured.
type LogSink struct {
	zaplog *zap.Logger
}

func NewLogSink(zaplog *zap.Logger) *LogSink {
	return &LogSink{zaplog: zaplog.Named("notify")}
}

func (s *LogSink) Post(_ context.Context, target Target, msg Message) error {
	s.zaplog.Info("notification",
		zap.String("channel", target.ChannelID),
		zap.String("kind", msg.Kind),
		zap.String("title", msg.Title),
		zap.String("body", msg.Body),
		zap.String("mention", msg.Mention),
	)
	return nil
}

func (s *LogSink) EditOrCreateLogEntry(_ context.Context, handle string, snap Snapshot) (string, error) {
	if handle == "" {
		handle = "log/" + snap.OrderID
	}
	s.zaplog.Info("archive record",
		zap.String("handle", handle),
		zap.String("order_id", snap.OrderID),
		zap.String("status", snap.Status),
		zap.String("preparer", snap.PreparerName),
		zap.String("fulfiller", snap.FulfillerID),
		zap.Strings("proof", snap.Proof),
	)
	return handle, nil
}
