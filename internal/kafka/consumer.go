package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/grass-leaderboard/internal/config"
	"github.com/grass-leaderboard/internal/domain"
)

// SourceKafka labels submissions that arrived through the topic
const SourceKafka = "kafka"

// SubmissionHandler processes submissions
type SubmissionHandler interface {
	SubmitFrom(ctx context.Context, sub domain.Submission, source string) (domain.LeaderboardEntry, error)
}

// Consumer consumes submission messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       SubmissionHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan struct{}
	readyOnce     sync.Once
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler SubmissionHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return newConsumer(cfg, handler, consumerGroup, logger), nil
}

func newConsumer(cfg *config.KafkaConfig, handler SubmissionHandler, group sarama.ConsumerGroup, logger *slog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger.With("component", "kafka_consumer"),
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan struct{}),
	}
}

const maxRetryBackoff = 30 * time.Second

// Start begins consuming messages from Kafka. It returns once the first
// session is set up, or with an error when that takes longer than
// StartTimeout; the consumer is stopped in that case.
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go c.consume()

	timeout := c.config.StartTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-timer.C:
		if err := c.Stop(); err != nil {
			c.logger.Warn("failed to close consumer group", "error", err)
		}
		return fmt.Errorf("kafka consumer not ready after %s", timeout)
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// consume runs group sessions until the consumer is stopped. Failed
// sessions are retried with exponential backoff.
func (c *Consumer) consume() {
	defer c.wg.Done()

	initial := c.config.RetryBackoff
	if initial <= 0 {
		initial = time.Second
	}
	backoff := initial
	for {
		handler := &consumerGroupHandler{consumer: c}

		err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) || c.ctx.Err() != nil {
			return
		}
		if err == nil {
			backoff = initial
			continue
		}

		c.logger.Error("error from consumer", "error", err, "retry_in", backoff)
		timer := time.NewTimer(backoff)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

func (c *Consumer) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// decodeSubmission parses a message value
func decodeSubmission(value []byte) (domain.Submission, error) {
	var sub domain.Submission
	if len(value) == 0 {
		return sub, domain.ErrEmptyPayload
	}
	if err := json.Unmarshal(value, &sub); err != nil {
		return sub, err
	}
	return sub, nil
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.consumer.markReady()
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// processBatch submits the batch in arrival order so ties keep their
// newest-first ordering on the board.
func (h *consumerGroupHandler) processBatch(batch []domain.Submission) {
	if len(batch) == 0 {
		return
	}

	timeout := h.consumer.config.SubmitTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	failed := 0
	for _, sub := range batch {
		if _, err := h.consumer.handler.SubmitFrom(ctx, sub, SourceKafka); err != nil {
			failed++
			h.consumer.logger.Warn("failed to process submission", "username", sub.Username, "error", err)
		}
	}
	h.consumer.logger.Debug("processed batch", "batch_size", len(batch), "failed", failed)
}

// ConsumeClaim processes messages from a topic partition
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	batch := make([]domain.Submission, 0, batchSize)
	batchTimer := time.NewTimer(batchTimeout)
	defer batchTimer.Stop()

	flush := func() {
		h.processBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-session.Context().Done():
			flush()
			return nil

		case <-batchTimer.C:
			flush()
			batchTimer.Reset(batchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}

			sub, err := decodeSubmission(message.Value)
			if err != nil {
				h.consumer.logger.Warn("invalid submission message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			batch = append(batch, sub)
			session.MarkMessage(message, "")

			if len(batch) >= batchSize {
				flush()
				batchTimer.Reset(batchTimeout)
			}
		}
	}
}
