// Package embeddednats runs the in-process NATS server with JetStream and
// owns the stream/consumer topology for the external message bridge.
package embeddednats

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"groundctl/pkg/shared"
)

type Config struct {
	Port         int
	DataDir      string
	MaxMemory    int64
	MaxFileStore int64
	Domain       string
}

func DefaultConfig() *Config {
	return &Config{
		Port:         4222,
		DataDir:      "./data/nats",
		MaxMemory:    256 * 1024 * 1024,
		MaxFileStore: 1024 * 1024 * 1024,
		Domain:       "groundctl",
	}
}

type StreamConfig struct {
	Name            string
	Subjects        []string
	Retention       nats.RetentionPolicy
	MaxMsgs         int64
	MaxBytes        int64
	MaxAge          time.Duration
	MaxMsgSize      int32
	DuplicateWindow time.Duration
	DiscardPolicy   nats.DiscardPolicy
}

type EmbeddedNATS struct {
	server  *server.Server
	nc      *nats.Conn
	js      nats.JetStreamContext
	config  *Config
	streams map[string]*StreamConfig
}

func New(cfg *Config) *EmbeddedNATS {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &EmbeddedNATS{
		config:  cfg,
		streams: make(map[string]*StreamConfig),
	}
}

// Start boots the server, waits for readiness, and connects the local client.
func (en *EmbeddedNATS) Start() error {
	opts := &server.Options{
		Port:               en.config.Port,
		JetStream:          true,
		StoreDir:           en.config.DataDir,
		JetStreamMaxMemory: en.config.MaxMemory,
		JetStreamMaxStore:  en.config.MaxFileStore,
	}
	if en.config.Domain != "" {
		opts.JetStreamDomain = en.config.Domain
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("failed to create NATS server: %w", err)
	}
	ns.ConfigureLogger()

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("NATS server not ready for connections")
	}
	en.server = ns

	if err := en.connect(); err != nil {
		return fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	log.Printf("[NATS] Embedded server started on port %d", en.config.Port)
	return nil
}

func (en *EmbeddedNATS) connect() error {
	url := fmt.Sprintf("nats://localhost:%d", en.config.Port)

	nc, err := nats.Connect(url,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Printf("[NATS] Error: %v", err)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[NATS] Disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("[NATS] Reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	en.nc = nc
	en.js = js
	return nil
}

// AddStream creates the stream or updates it in place when it already exists.
func (en *EmbeddedNATS) AddStream(sc *StreamConfig) error {
	if en.js == nil {
		return fmt.Errorf("JetStream not initialized")
	}

	config := &nats.StreamConfig{
		Name:       sc.Name,
		Subjects:   sc.Subjects,
		Retention:  sc.Retention,
		MaxMsgs:    sc.MaxMsgs,
		MaxBytes:   sc.MaxBytes,
		MaxAge:     sc.MaxAge,
		MaxMsgSize: sc.MaxMsgSize,
		Replicas:   1,
		Duplicates: sc.DuplicateWindow,
		Discard:    sc.DiscardPolicy,
	}

	if _, err := en.js.StreamInfo(sc.Name); err == nil {
		if _, err := en.js.UpdateStream(config); err != nil {
			return fmt.Errorf("failed to update stream %s: %w", sc.Name, err)
		}
		log.Printf("[NATS] Updated existing stream: %s", sc.Name)
	} else {
		if _, err := en.js.AddStream(config); err != nil {
			return fmt.Errorf("failed to add stream %s: %w", sc.Name, err)
		}
		log.Printf("[NATS] Created stream: %s with subjects %v", sc.Name, sc.Subjects)
	}

	en.streams[sc.Name] = sc
	return nil
}

// CreateStreams provisions the three bridge streams: the durable event feed,
// the critical alert fan-out, and the inbound command queue.
func (en *EmbeddedNATS) CreateStreams() error {
	streams := []StreamConfig{
		{
			Name:            shared.StreamEvents,
			Subjects:        []string{shared.SubjectEventsAll},
			Retention:       nats.LimitsPolicy,
			MaxMsgs:         100000,
			MaxBytes:        128 * 1024 * 1024,
			MaxAge:          24 * time.Hour,
			MaxMsgSize:      256 * 1024,
			DuplicateWindow: 2 * time.Minute,
			DiscardPolicy:   nats.DiscardOld,
		},
		{
			Name:            shared.StreamAlerts,
			Subjects:        []string{shared.SubjectAlertsAll},
			Retention:       nats.LimitsPolicy,
			MaxMsgs:         10000,
			MaxBytes:        32 * 1024 * 1024,
			MaxAge:          7 * 24 * time.Hour,
			MaxMsgSize:      64 * 1024,
			DuplicateWindow: 2 * time.Minute,
			DiscardPolicy:   nats.DiscardOld,
		},
		{
			Name:            shared.StreamCommands,
			Subjects:        []string{shared.SubjectCommandsAll},
			Retention:       nats.WorkQueuePolicy,
			MaxMsgs:         10000,
			MaxBytes:        32 * 1024 * 1024,
			MaxAge:          15 * time.Minute,
			MaxMsgSize:      32 * 1024,
			DuplicateWindow: time.Minute,
			DiscardPolicy:   nats.DiscardNew, // reject commands when full
		},
	}

	for i := range streams {
		if err := en.AddStream(&streams[i]); err != nil {
			return err
		}
	}
	return nil
}

// CreateDurableConsumer provisions a durable pull consumer, idempotently.
func (en *EmbeddedNATS) CreateDurableConsumer(streamName, consumerName, filterSubject string) error {
	if _, err := en.js.ConsumerInfo(streamName, consumerName); err == nil {
		log.Printf("[NATS] Durable consumer already exists: %s on %s", consumerName, streamName)
		return nil
	}

	_, err := en.js.AddConsumer(streamName, &nats.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: filterSubject,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
		MaxAckPending: 1000,
		DeliverPolicy: nats.DeliverAllPolicy,
		ReplayPolicy:  nats.ReplayInstantPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer %s: %w", consumerName, err)
	}

	log.Printf("[NATS] Created durable consumer: %s on %s", consumerName, streamName)
	return nil
}

// PublishWithDedup publishes with a Nats-Msg-Id header so JetStream drops
// duplicates inside the stream's duplicate window.
func (en *EmbeddedNATS) PublishWithDedup(subject string, data []byte, msgID string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("Nats-Msg-Id", msgID)

	if _, err := en.js.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (en *EmbeddedNATS) Connection() *nats.Conn { return en.nc }

func (en *EmbeddedNATS) JetStream() nats.JetStreamContext { return en.js }

func (en *EmbeddedNATS) Shutdown(ctx context.Context) error {
	if en.nc != nil {
		en.nc.Close()
	}
	if en.server != nil {
		en.server.Shutdown()
		en.server.WaitForShutdown()
	}
	return nil
}

func (en *EmbeddedNATS) HealthCheck() error {
	if en.nc == nil {
		return fmt.Errorf("NATS connection not initialized")
	}
	if !en.nc.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	if en.server != nil && !en.server.Running() {
		return fmt.Errorf("NATS server not running")
	}
	return nil
}
