// Package bridge connects the in-process router to the JetStream broker.
// Outbound: every router event is republished under groundctl.events.<type>,
// critical events additionally under groundctl.alerts.<type>, with location
// updates rate-limited so telemetry cannot flood the streams. Inbound: a
// durable pull consumer drains groundctl.commands.> and re-enters each
// command into the router as a command.received event.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"groundctl/pkg/services/router"
	"groundctl/pkg/shared"
)

// Publisher is the outbound broker surface the bridge needs. Satisfied by
// the embedded NATS service.
type Publisher interface {
	PublishWithDedup(subject string, data []byte, msgID string) error
}

type Config struct {
	// LocationRatePerSec caps exported vehicle.location.updated events;
	// excess updates are dropped and counted, never queued.
	LocationRatePerSec float64
	LocationBurst      int
}

func DefaultConfig() Config {
	return Config{LocationRatePerSec: 5, LocationBurst: 10}
}

type Bridge struct {
	publisher Publisher
	router    *router.Router
	limiter   *rate.Limiter

	js  nats.JetStreamContext
	sub *nats.Subscription

	mu        sync.Mutex
	started   bool
	exported  int
	throttled int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(publisher Publisher, rt *router.Router, js nats.JetStreamContext, cfg Config) *Bridge {
	if cfg.LocationRatePerSec <= 0 {
		cfg = DefaultConfig()
	}
	return &Bridge{
		publisher: publisher,
		router:    rt,
		js:        js,
		limiter:   rate.NewLimiter(rate.Limit(cfg.LocationRatePerSec), cfg.LocationBurst),
	}
}

// Start attaches the outbound wildcard export and launches the inbound
// command worker. Calling Start on a started bridge is a no-op: the router
// offers no unsubscribe, so a second export handler could never be detached.
func (b *Bridge) Start() error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	b.mu.Unlock()

	b.router.Subscribe(router.Wildcard, router.HandlerFunc(b.export))

	if b.js != nil {
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := b.consumeCommands(ctx); err != nil && err != context.Canceled {
				log.Printf("[Bridge] Command worker exited: %v", err)
			}
		}()
	}

	log.Printf("[Bridge] Started")
	return nil
}

// Stop halts the inbound worker. The outbound export handler stays
// subscribed; it fails soft once the broker connection closes.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.sub != nil {
		if err := b.sub.Drain(); err != nil {
			log.Printf("[Bridge] Drain: %v", err)
		}
	}
	b.wg.Wait()
	log.Printf("[Bridge] Stopped (exported=%d throttled=%d)", b.Exported(), b.Throttled())
}

// export mirrors one router event onto the broker streams.
func (b *Bridge) export(ev *shared.Event) error {
	if ev.Type == shared.EventVehicleLocationUpdate && !b.limiter.Allow() {
		b.mu.Lock()
		b.throttled++
		b.mu.Unlock()
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}

	if err := b.publisher.PublishWithDedup(shared.EventSubject(ev.Type), payload, ev.ID); err != nil {
		return fmt.Errorf("export %s: %w", ev.Type, err)
	}
	if ev.Priority == shared.PriorityCritical {
		if err := b.publisher.PublishWithDedup(shared.AlertSubject(ev.Type), payload, "alert-"+ev.ID); err != nil {
			return fmt.Errorf("export alert %s: %w", ev.Type, err)
		}
	}

	b.mu.Lock()
	b.exported++
	b.mu.Unlock()
	return nil
}

// consumeCommands pulls inbound commands off the command stream and injects
// them into the router at high priority.
func (b *Bridge) consumeCommands(ctx context.Context) error {
	sub, err := b.js.PullSubscribe(shared.SubjectCommandsAll, "",
		nats.Durable(shared.ConsumerCommandProcessor),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.DeliverAll(),
		nats.Bind(shared.StreamCommands, shared.ConsumerCommandProcessor),
	)
	if err != nil {
		return fmt.Errorf("pull subscribe: %w", err)
	}
	b.sub = sub

	log.Printf("[Bridge] Command worker started on %s", shared.SubjectCommandsAll)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Bridge] Command worker stopping")
			return ctx.Err()
		default:
			msgs, err := sub.Fetch(10, nats.MaxWait(2*time.Second))
			if err != nil && err != nats.ErrTimeout {
				log.Printf("[Bridge] Error fetching commands: %v", err)
				continue
			}

			for _, msg := range msgs {
				b.handleCommand(msg)
				if err := msg.Ack(); err != nil {
					log.Printf("[Bridge] Error acknowledging command: %v", err)
				}
			}
		}
	}
}

// handleCommand turns one broker message into a router event. The subject's
// last token is the target vehicle; a non-JSON body becomes a raw payload.
func (b *Bridge) handleCommand(msg *nats.Msg) {
	var body map[string]any
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		body = map[string]any{"raw": string(msg.Data)}
	}

	data := map[string]any{
		"subject": msg.Subject,
		"command": body,
	}
	if idx := strings.LastIndex(msg.Subject, "."); idx >= 0 {
		data["vehicle_id"] = msg.Subject[idx+1:]
	}

	b.router.Publish(shared.NewEvent(
		shared.EventCommandReceived,
		shared.PriorityHigh,
		"broker_bridge",
		data,
	))
}

// Exported reports how many events were republished onto the broker.
func (b *Bridge) Exported() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exported
}

// Throttled reports how many location updates the rate limiter dropped.
func (b *Bridge) Throttled() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.throttled
}
