package nats

import (
	"context"
	"encoding/json"

	"github.com/mtr002/docjobs/internal/events"
	"github.com/mtr002/docjobs/internal/logger"
)

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Forward publishes every bus event on EventSubjectPrefix+kind until ctx is
// done.
func Forward(ctx context.Context, pub Publisher, bus *events.Bus) {
	ch, unsub := bus.Subscribe(events.All)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				logger.Logger.Error().Err(err).Msg("Failed to marshal event")
				continue
			}
			if err := pub.Publish(EventSubjectPrefix+string(e.Kind), data); err != nil {
				logger.Logger.Warn().Err(err).Str("kind", string(e.Kind)).Msg("Failed to forward event")
			}
		}
	}
}
