// Package events bridges registry lifecycle signals onto the Kafka
// room_events topic.
package events

import (
	"github.com/google/uuid"

	"roomdeck/pkg/kafka"
	"roomdeck/pkg/logging"
)

// KafkaEvents publishes room lifecycle events asynchronously so the tick
// loop never blocks on a broker.
type KafkaEvents struct {
	producer *kafka.Producer
	logger   logging.Logger
}

func NewKafkaEvents(producer *kafka.Producer, logger logging.Logger) *KafkaEvents {
	return &KafkaEvents{producer: producer, logger: logger}
}

func (e *KafkaEvents) RoomCreated(name string) {
	e.publish(kafka.EventRoomCreated, name, "")
}

func (e *KafkaEvents) RoomLoaded(name string) {
	e.publish(kafka.EventRoomLoaded, name, "")
}

func (e *KafkaEvents) RoomUnloaded(name, reason string) {
	e.publish(kafka.EventRoomUnloaded, name, reason)
}

func (e *KafkaEvents) publish(eventType, room, reason string) {
	event := kafka.RoomEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		RoomName:  room,
		Reason:    reason,
	}
	go func() {
		if err := e.producer.PublishRoomEvent(event); err != nil {
			e.logger.WithError(err).WithField("event_type", eventType).Warn("Failed to publish room event")
		}
	}()
}
