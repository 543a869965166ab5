package main

import (
	"context"
	"fmt"

	"EasyCash-SDK/internal/agent"
	"EasyCash-SDK/internal/client"
	"EasyCash-SDK/internal/config"
	"EasyCash-SDK/internal/events"
	"EasyCash-SDK/internal/settlement"
	"EasyCash-SDK/internal/web3"
	"EasyCash-SDK/internal/web3/provider"
	"EasyCash-SDK/pkg/logger"
)

// runtime 汇总 serve 与 execute 共用的依赖。
type runtime struct {
	cfg      *config.Config
	client   *client.Client
	registry *provider.Registry
}

func (r *runtime) Close() {
	if r.client != nil {
		_ = r.client.Close()
	}
	if r.registry != nil {
		r.registry.Close()
	}
}

// buildRuntime 按配置组装执行管线。
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	settleOpts := []settlement.Option{
		settlement.WithLatency(cfg.Settlement.SimulatedLatency.Duration),
		settlement.WithLogger(logger.Named("settlement")),
	}
	if cfg.Chains.DefinitionsPath != "" {
		defs, err := web3.LoadChainDefinitions(cfg.Chains.DefinitionsPath)
		if err != nil {
			return nil, err
		}
		registry, err := provider.NewRegistry(ctx, defs)
		if err != nil {
			return nil, err
		}
		rt.registry = registry
		settleOpts = append(settleOpts, settlement.WithHeightReader(registry))
	}

	publisher, err := events.NewFromConfig(ctx, cfg.Events)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("初始化事件发布器失败: %w", err)
	}

	negotiator := agent.New(
		agent.NewSimulatedSource(cfg.Settlement.QuoteLatency.Duration),
		agent.WithLogger(logger.Named("agent")),
	)

	c, err := client.New(cfg.SDK,
		client.WithNegotiator(negotiator),
		client.WithSettler(settlement.NewSimulated(settleOpts...)),
		client.WithPublisher(publisher),
		client.WithLogger(logger.Named("client")),
		client.WithAuditLogger(logger.Audit()),
	)
	if err != nil {
		_ = publisher.Close()
		rt.Close()
		return nil, err
	}
	rt.client = c
	return rt, nil
}
