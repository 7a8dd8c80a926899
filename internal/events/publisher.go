package events

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

type Publisher interface {
	Publish(ctx context.Context, event TransactionEvent) error
	Close() error
}

// LogPublisher writes events to the log only. It is the fallback when no
// broker is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, event TransactionEvent) error {
	p.logger.Info().
		Str("event_type", string(event.Type)).
		Str("transaction_id", event.TransactionID.String()).
		Str("from_status", string(event.FromStatus)).
		Str("to_status", string(event.ToStatus)).
		Str("actor_org_id", event.ActorOrgID).
		Int("version", event.Version).
		Msg("Transaction event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// FanoutPublisher hands every event to each publisher and joins their errors.
type FanoutPublisher struct {
	publishers []Publisher
}

func NewFanoutPublisher(publishers ...Publisher) *FanoutPublisher {
	return &FanoutPublisher{publishers: publishers}
}

func (p *FanoutPublisher) Publish(ctx context.Context, event TransactionEvent) error {
	var errs []error
	for _, pub := range p.publishers {
		if err := pub.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *FanoutPublisher) Close() error {
	var errs []error
	for _, pub := range p.publishers {
		if err := pub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
