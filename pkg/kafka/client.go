// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"invoice-assistant-go/internal/config"
	"invoice-assistant-go/pkg/log"
	"invoice-assistant-go/pkg/tasks"
	"time"

	"github.com/segmentio/kafka-go"
)

// EventProcessor 处理订阅变更事件，将消费者与具体业务解耦。
type EventProcessor interface {
	Process(ctx context.Context, event tasks.SubscriptionEvent) error
}

// maxAttempts 同一事件失败达到该次数后提交 offset，不再重试。
const maxAttempts = 5

// retryBackoff 是第一次重试前的等待时间，之后每次翻倍。
var retryBackoff = time.Second

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.SubscriptionTopic,
		Balancer: &kafka.Hash{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceSubscriptionEvent 发送订阅变更事件，以用户 ID 作为 key 保证同一用户的事件有序。
func ProduceSubscriptionEvent(ctx context.Context, event tasks.SubscriptionEvent) error {
	if producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", event.UserID)),
		Value: value,
	})
}

// StartConsumer 启动消费者处理订阅变更事件，阻塞直到 ctx 取消或读取失败。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor EventProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.SubscriptionTopic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.SubscriptionTopic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}

		var event tasks.SubscriptionEvent
		if err := json.Unmarshal(m.Value, &event); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			commit(ctx, r, m)
			continue
		}

		// FetchMessage 不会再次返回同一条消息，失败时必须在这里原地重试
		if err := processWithRetry(ctx, processor, event); err != nil {
			if ctx.Err() != nil {
				// 不提交，重启后从该 offset 继续
				break
			}
			log.Errorw("订阅事件多次失败，提交 offset 跳过", "eventId", event.EventID, "userId", event.UserID, "error", err)
		} else {
			log.Infow("订阅事件处理成功", "eventId", event.EventID, "userId", event.UserID, "tier", event.Tier)
		}
		commit(ctx, r, m)
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

// processWithRetry 对同一事件最多处理 maxAttempts 次，两次之间指数退避。
func processWithRetry(ctx context.Context, processor EventProcessor, event tasks.SubscriptionEvent) error {
	backoff := retryBackoff
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = processor.Process(ctx, event); err == nil {
			return nil
		}
		log.Warnw("处理订阅事件失败", "eventId", event.EventID, "attempt", attempt, "error", err)
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func commit(ctx context.Context, r *kafka.Reader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
