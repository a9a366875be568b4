// Package publisher emits committed zone-exit alerts onto the alert event
// stream for downstream consumers.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"safezone/internal/geofence/models"
)

const EventTypeZoneExit = "zone_exit"

// Payload is the JSON body of an alert record. The record key is the patient
// ID so a patient's alerts stay ordered within one partition.
type Payload struct {
	Type             string    `json:"type"`
	AlertID          string    `json:"alert_id"`
	PatientID        string    `json:"patient_id"`
	PatientName      string    `json:"patient_name,omitempty"`
	ZoneID           string    `json:"zone_id"`
	SampleID         string    `json:"sample_id"`
	ExcursionStartID string    `json:"excursion_start_id"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	RecordedAt       time.Time `json:"recorded_at"`
}

func NewPayload(event models.AlertEvent) Payload {
	return Payload{
		Type:             EventTypeZoneExit,
		AlertID:          event.Key(),
		PatientID:        event.PatientID.String(),
		PatientName:      event.PatientName,
		ZoneID:           event.ZoneID.String(),
		SampleID:         event.SampleID.String(),
		ExcursionStartID: event.ExcursionStartID.String(),
		Latitude:         event.Coordinate.Latitude(),
		Longitude:        event.Coordinate.Longitude(),
		RecordedAt:       event.RecordedAt.UTC(),
	}
}

// Producer is the subset of *kgo.Client used for publishing.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

type KafkaPublisher struct {
	producer Producer
	topic    string
}

func NewKafkaPublisher(producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event models.AlertEvent) error {
	body, err := json.Marshal(NewPayload(event))
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.PatientID.String()),
		Value: body,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(EventTypeZoneExit)},
			{Key: "alert_id", Value: []byte(event.Key())},
		},
	}
	if err := p.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish alert event: %w", err)
	}
	return nil
}

// Noop drops events. Used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, models.AlertEvent) error { return nil }
