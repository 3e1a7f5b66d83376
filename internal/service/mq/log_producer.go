package mq

import (
	"context"

	"credits-core/pkg/logger"

	"go.uber.org/zap"
)

// LogProducer 把事件写进日志，用于未接 Kafka 的部署 (mq.type=none)
type LogProducer struct{}

func NewLogProducer() *LogProducer {
	return &LogProducer{}
}

func (p *LogProducer) Publish(_ context.Context, topic string, key string, payload []byte) error {
	logger.Debug("event published",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.ByteString("payload", payload),
	)
	return nil
}
