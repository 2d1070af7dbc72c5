package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// ReviewJobMessage is the queue payload. Only the job id travels over the
// wire; the worker loads the decision itself from the jobs table, so a
// redelivered message can never apply stale parameters.
type ReviewJobMessage struct {
	JobID string `json:"job_id"`
}

// DeclareTopology declares the three-queue layout around the review queue:
// the main queue dead-letters to <queue>.dlq on nack, and <queue>.retry
// dead-letters back to the main queue after its per-message TTL. Declaration
// is idempotent; publisher and worker both call it so whichever process
// starts first establishes the layout.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(queue+".dlq", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq: %w", err)
	}
	if _, err := ch.QueueDeclare(queue+".retry", true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}); err != nil {
		return fmt.Errorf("declare retry: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue + ".dlq",
	}); err != nil {
		return fmt.Errorf("declare main: %w", err)
	}
	return nil
}

// Publisher is the API side of the review pipeline: it only enqueues job ids.
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// PublishReviewJob enqueues one job id as a persistent message on the main
// queue via the default exchange.
func (p *Publisher) PublishReviewJob(ctx context.Context, jobID string) error {
	body, err := json.Marshal(ReviewJobMessage{JobID: jobID})
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return p.ch.PublishWithContext(cctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    jobID,
		Timestamp:    time.Now(),
		Body:         body,
	})
}
