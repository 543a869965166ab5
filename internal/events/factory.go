package events

import (
	"context"
	"fmt"

	"EasyCash-SDK/internal/config"
)

// NewFromConfig 根据配置选择发布后端。
func NewFromConfig(ctx context.Context, cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(0), nil
	case "none":
		return Nop{}, nil
	case "redis":
		return NewRedisPublisher(ctx, RedisConfig{
			Address:  cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			List:     cfg.Redis.List,
		})
	case "rabbitmq":
		return NewRabbitMQPublisher(RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
		})
	default:
		return nil, fmt.Errorf("不支持的事件后端: %s", cfg.Driver)
	}
}
