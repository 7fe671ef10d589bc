package events

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// encode stamps the event time if missing and serializes the event.
func encode(event Event) ([]byte, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return json.Marshal(event)
}

func decode(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	if event.Type == "" {
		return Event{}, fmt.Errorf("event without type")
	}
	return event, nil
}

// deliver decodes one message and hands it to handler. Malformed messages
// are logged and dropped.
func deliver(data []byte, handler func(Event), log *zap.Logger) {
	event, err := decode(data)
	if err != nil {
		log.Error("failed to decode event", zap.Int("bytes", len(data)), zap.Error(err))
		return
	}
	handler(event)
}
