// Package status publishes one processing-status event per index run to NATS
// JetStream. Events for the same workspace:store pair share a subject, so
// their relative order is preserved for consumers.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/logger"
)

const (
	// StatusSuccess marks a run that produced and registered an output.
	StatusSuccess = "success"
	// StatusFailed marks a run that produced nothing.
	StatusFailed = "failed"
)

// Event is the wire format of one processing-status message.
type Event struct {
	Workspace     string `json:"workspace"`
	StoreName     string `json:"store_name"`
	LayerType     string `json:"layer_type"`
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	OriginalLayer string `json:"original_layer"`
	FilePath      string `json:"file_path,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// Config holds the NATS connection and stream settings.
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
}

// Publisher emits status events over one NATS connection.
type Publisher struct {
	conn          *nats.Conn
	jetStream     jetstream.JetStream
	subjectPrefix string
	log           *logger.Logger
}

// New connects to NATS and ensures the status stream exists.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Publisher, error) {
	conn, connErr := nats.Connect(cfg.URL)
	if connErr != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", connErr)
	}

	jetStream, jsErr := jetstream.New(conn)
	if jsErr != nil {
		conn.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", jsErr)
	}

	streamCfg := newStreamConfig(cfg.Stream, cfg.SubjectPrefix+".>")

	_, streamErr := jetStream.CreateStream(ctx, *streamCfg)
	if streamErr != nil && !errors.Is(streamErr, jetstream.ErrStreamNameAlreadyInUse) {
		conn.Close()

		return nil, fmt.Errorf("failed to create status stream: %w", streamErr)
	}

	log.Info("Connected to NATS server at %s", conn.ConnectedUrl())

	return &Publisher{
		conn:          conn,
		jetStream:     jetStream,
		subjectPrefix: cfg.SubjectPrefix,
		log:           log,
	}, nil
}

func newStreamConfig(name, subject string) *jetstream.StreamConfig {
	return &jetstream.StreamConfig{
		Name:                   name,
		Description:            "",
		Subjects:               []string{subject},
		Retention:              jetstream.LimitsPolicy,
		MaxConsumers:           -1,
		MaxMsgs:                -1,
		MaxBytes:               -1,
		Discard:                jetstream.DiscardOld,
		DiscardNewPerSubject:   false,
		MaxAge:                 0,
		MaxMsgsPerSubject:      -1,
		MaxMsgSize:             -1,
		Storage:                jetstream.FileStorage,
		Replicas:               1,
		NoAck:                  false,
		Duplicates:             0,
		Placement:              nil,
		Mirror:                 nil,
		Sources:                nil,
		Sealed:                 false,
		DenyDelete:             false,
		DenyPurge:              false,
		AllowRollup:            false,
		Compression:            jetstream.NoCompression,
		FirstSeq:               0,
		SubjectTransform:       nil,
		RePublish:              nil,
		AllowDirect:            false,
		MirrorDirect:           false,
		ConsumerLimits:         jetstream.StreamConsumerLimits{},
		Metadata:               nil,
		Template:               "",
		AllowMsgTTL:            false,
		SubjectDeleteMarkerTTL: 0,
	}
}

// Subject returns the per-key subject events for workspace:store are
// published on.
func Subject(prefix, workspace, store string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, workspace, store)
}

// PublishSuccess emits the success event for one completed run.
func (p *Publisher) PublishSuccess(
	ctx context.Context,
	workspace, store, layerType, originalLayer, filePath string,
) error {
	return p.publish(ctx, Event{
		Workspace:     workspace,
		StoreName:     store,
		LayerType:     layerType,
		Status:        StatusSuccess,
		Timestamp:     eventTimestamp(),
		OriginalLayer: originalLayer,
		FilePath:      filePath,
		ErrorMessage:  "",
	})
}

// PublishFailure emits the failure event for one failed run.
func (p *Publisher) PublishFailure(
	ctx context.Context,
	workspace, store, layerType, originalLayer, errorMessage string,
) error {
	return p.publish(ctx, Event{
		Workspace:     workspace,
		StoreName:     store,
		LayerType:     layerType,
		Status:        StatusFailed,
		Timestamp:     eventTimestamp(),
		OriginalLayer: originalLayer,
		FilePath:      "",
		ErrorMessage:  errorMessage,
	})
}

func (p *Publisher) publish(ctx context.Context, event Event) error {
	encoded, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal status event: %w", marshalErr)
	}

	subject := Subject(p.subjectPrefix, event.Workspace, event.StoreName)

	_, pubErr := p.jetStream.Publish(
		ctx,
		subject,
		encoded,
		jetstream.WithMsgID(uuid.New().String()),
	)
	if pubErr != nil {
		return fmt.Errorf("failed to publish status event on %s: %w", subject, pubErr)
	}

	p.log.Info("Published %s event for %s:%s on %s", event.Status, event.Workspace, event.StoreName, subject)

	return nil
}

// eventTimestamp formats the current time as UTC ISO-8601.
func eventTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Close drains the NATS connection.
func (p *Publisher) Close() {
	p.conn.Close()
}
