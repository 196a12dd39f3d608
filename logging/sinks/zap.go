package sinks

import (
	"context"

	"go.uber.org/zap"

	"warzone2044/server/logging"
)

// Zap forwards events to a zap logger for deployments that aggregate
// structured logs.
type Zap struct {
	logger *zap.Logger
}

// NewZap wraps an existing zap logger. Passing nil builds a production
// logger with the default encoder.
func NewZap(logger *zap.Logger) (*Zap, error) {
	if logger == nil {
		built, err := zap.NewProduction()
		if err != nil {
			return nil, err
		}
		logger = built
	}
	return &Zap{logger: logger}, nil
}

func (s *Zap) Write(event logging.Event) error {
	fields := []zap.Field{
		zap.String("category", event.Category),
		zap.String("actor_id", event.Actor.ID),
		zap.String("actor_kind", string(event.Actor.Kind)),
	}
	if len(event.Targets) > 0 {
		ids := make([]string, 0, len(event.Targets))
		for _, target := range event.Targets {
			ids = append(ids, target.ID)
		}
		fields = append(fields, zap.Strings("targets", ids))
	}
	if event.Payload != nil {
		fields = append(fields, zap.Any("payload", event.Payload))
	}
	for k, v := range event.Extra {
		fields = append(fields, zap.Any(k, v))
	}

	msg := string(event.Type)
	switch event.Severity {
	case logging.SeverityDebug:
		s.logger.Debug(msg, fields...)
	case logging.SeverityWarn:
		s.logger.Warn(msg, fields...)
	case logging.SeverityError:
		s.logger.Error(msg, fields...)
	default:
		s.logger.Info(msg, fields...)
	}
	return nil
}

func (s *Zap) Close(context.Context) error {
	// Sync can fail on stderr; the error carries no signal at shutdown.
	_ = s.logger.Sync()
	return nil
}
