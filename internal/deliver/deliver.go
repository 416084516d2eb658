// Package deliver implements the consuming half of C10: the inbox-post
// worker pool, the dead-letter drain that turns a rejected delivery into a
// backed-off retry, and the periodic sweep that publishes write-ahead
// delivery_queue rows the broker never received (process crash between
// commit and publish, or a broker outage at enqueue time).
//
// Grounded on original_source/rs/backend/src/apub/queue.rs's worker::
// ApubWorker::start (consume, sign, POST, ack-or-reject-without-requeue)
// and its DLX drain loop's calculate_next_delay backoff (2^retry + 4s);
// activitypub.StartDeliveryWorker itself was absent from the retrieved
// pack (referenced only from app/app.go), so this loop is newly written
// against domain.DeliveryQueueItem's contract and the teacher's HTTP
// client plumbing in activitypub/outbox.go's SendActivityWithDeps.
package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/deemkeen/stegodon-federate/internal/domain"
	"github.com/deemkeen/stegodon-federate/internal/httpsig"
	"github.com/deemkeen/stegodon-federate/internal/id"
	"github.com/deemkeen/stegodon-federate/internal/outbox"
)

const userAgent = "stegodon-federate/1.0 (+https://github.com/deemkeen/stegodon-federate)"

// Store is the persistence seam deliver depends on, satisfied by *db.DB.
type Store interface {
	ReadPendingDeliveries(limit int) ([]domain.DeliveryQueueItem, error)
	UpdateDeliveryAttempt(deliveryId id.ID, attempts int, nextRetry time.Time) error
	MarkDeliveryStatus(deliveryId id.ID, status domain.DeliveryStatus) error
	DeleteDelivery(deliveryId id.ID) error
	ReadActorById(actorId id.ID) (*domain.Actor, error)
}

// HTTPClient is the interface deliver depends on for its outbound POSTs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Broker is the subset of outbox.Broker deliver depends on.
type Broker interface {
	PublishPost(ctx context.Context, deliveryId, senderId, inboxURI, activityJSON string, attempt, maxRetries int) error
	ScheduleRetry(ctx context.Context, deliveryId, senderId, inboxURI, activityJSON string, attempt, maxRetries int, delay time.Duration) error
	ConsumePosts(consumerTag string) (<-chan amqp.Delivery, error)
	ConsumeDeadLetters(consumerTag string) (<-chan amqp.Delivery, error)
}

// Worker drives the three loops that move a DeliveryQueueItem from pending
// to delivered or dead.
type Worker struct {
	store      Store
	http       HTTPClient
	broker     Broker
	maxRetries int

	// publishLease is how far the sweep bumps a row's NextRetryAt after
	// publishing, so a second sweep tick before the consumer acks doesn't
	// republish the same row.
	publishLease time.Duration
}

// New builds a Worker.
func New(store Store, httpClient HTTPClient, broker Broker, maxRetries int) *Worker {
	return &Worker{store: store, http: httpClient, broker: broker, maxRetries: maxRetries, publishLease: 30 * time.Second}
}

// Sweep republishes pending deliveries whose NextRetryAt has passed, until
// ctx is cancelled.
func (w *Worker) Sweep(ctx context.Context, interval time.Duration, batchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweepOnce(ctx, batchSize)
		}
	}
}

func (w *Worker) sweepOnce(ctx context.Context, batchSize int) {
	items, err := w.store.ReadPendingDeliveries(batchSize)
	if err != nil {
		log.Printf("deliver: sweep: read pending deliveries: %v", err)
		return
	}
	for _, item := range items {
		senderId := ""
		if item.AccountId != nil {
			senderId = item.AccountId.String()
		}
		if err := w.broker.PublishPost(ctx, item.Id.String(), senderId, item.InboxURI, item.ActivityJSON, item.Attempts, w.maxRetries); err != nil {
			log.Printf("deliver: sweep: publish %s: %v", item.Id, err)
			continue
		}
		if err := w.store.UpdateDeliveryAttempt(item.Id, item.Attempts, time.Now().Add(w.publishLease)); err != nil {
			log.Printf("deliver: sweep: lease %s: %v", item.Id, err)
		}
	}
}

// Run consumes PostQueue until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context, consumerTag string) error {
	deliveries, err := w.broker.ConsumePosts(consumerTag)
	if err != nil {
		return fmt.Errorf("deliver: consume posts: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.handlePost(ctx, msg)
		}
	}
}

func (w *Worker) handlePost(ctx context.Context, msg amqp.Delivery) {
	var payload outbox.PostToInboxPayload
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		log.Printf("deliver: malformed post payload, dropping: %v", err)
		msg.Nack(false, false)
		return
	}
	deliveryId, err := id.Parse(payload.DeliveryId)
	if err != nil {
		log.Printf("deliver: malformed delivery id %q, dropping: %v", payload.DeliveryId, err)
		msg.Nack(false, false)
		return
	}

	if err := w.deliverOne(ctx, payload); err != nil {
		log.Printf("deliver: %s to %s failed: %v", deliveryId, payload.InboxURI, err)
		msg.Nack(false, false) // dead-lettered into PostDLXQueue
		return
	}

	if err := w.store.DeleteDelivery(deliveryId); err != nil {
		log.Printf("deliver: delete delivered row %s: %v", deliveryId, err)
	}
	msg.Ack(false)
}

func (w *Worker) deliverOne(ctx context.Context, payload outbox.PostToInboxPayload) error {
	senderId, err := id.Parse(payload.SenderId)
	if err != nil {
		return fmt.Errorf("malformed sender id %q: %w", payload.SenderId, err)
	}
	sender, err := w.store.ReadActorById(senderId)
	if err != nil {
		return fmt.Errorf("sender actor not found: %w", err)
	}
	privateKey, err := httpsig.ParsePrivateKey(sender.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("parse sender private key: %w", err)
	}
	keyId := sender.ViewURL + "#main-key"

	body := []byte(payload.ActivityJSON)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.InboxURI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent)

	if err := httpsig.Sign(req, privateKey, keyId, body); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote returned status %d", resp.StatusCode)
	}
	return nil
}

// DrainDeadLetters reads PostDLXQueue, schedules a backed-off retry for any
// delivery under the retry cap, and marks the rest dead. Mirrors queue.rs's
// DLX worker: calculate_next_delay(current_retry) = 2^current_retry + 4s.
func (w *Worker) DrainDeadLetters(ctx context.Context, consumerTag string) error {
	deliveries, err := w.broker.ConsumeDeadLetters(consumerTag)
	if err != nil {
		return fmt.Errorf("deliver: consume dead letters: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.handleDeadLetter(ctx, msg)
		}
	}
}

func (w *Worker) handleDeadLetter(ctx context.Context, msg amqp.Delivery) {
	var payload outbox.PostToInboxPayload
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		log.Printf("deliver: malformed dead letter, dropping: %v", err)
		msg.Ack(false)
		return
	}
	deliveryId, err := id.Parse(payload.DeliveryId)
	if err != nil {
		log.Printf("deliver: malformed dead letter delivery id, dropping: %v", err)
		msg.Ack(false)
		return
	}

	attempt := headerInt(msg.Headers, outbox.HeaderRetryCount)
	maxRetry := headerInt(msg.Headers, outbox.HeaderMaxRetry)
	if maxRetry == 0 {
		maxRetry = w.maxRetries
	}

	if attempt >= maxRetry {
		log.Printf("deliver: %s exhausted %d retries, marking dead", deliveryId, maxRetry)
		if err := w.store.MarkDeliveryStatus(deliveryId, domain.DeliveryDead); err != nil {
			log.Printf("deliver: mark dead %s: %v", deliveryId, err)
		}
		msg.Ack(false)
		return
	}

	next := attempt + 1
	delay := calculateNextDelay(attempt)
	if err := w.store.UpdateDeliveryAttempt(deliveryId, next, time.Now().Add(delay)); err != nil {
		log.Printf("deliver: update attempt %s: %v", deliveryId, err)
	}
	if err := w.broker.ScheduleRetry(ctx, payload.DeliveryId, payload.SenderId, payload.InboxURI, payload.ActivityJSON, next, maxRetry, delay); err != nil {
		log.Printf("deliver: schedule retry %s: %v", deliveryId, err)
		msg.Nack(false, true) // broker unavailable, let it redeliver
		return
	}
	msg.Ack(false)
}

// calculateNextDelay mirrors queue.rs's calculate_next_delay: 2^attempt + 4s.
func calculateNextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 20 {
		attempt = 20 // guard against overflow on a runaway retry count
	}
	return (time.Duration(1<<uint(attempt)) * time.Second) + 4*time.Second
}

func headerInt(h amqp.Table, key string) int {
	if h == nil {
		return 0
	}
	switch v := h[key].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
