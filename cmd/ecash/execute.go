package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"EasyCash-SDK/internal/agent"
	"EasyCash-SDK/internal/config"
	"EasyCash-SDK/internal/types"
	"EasyCash-SDK/pkg/logger"
)

type executeFlags struct {
	configPath  string
	reference   string
	intent      string
	amount      string
	asset       string
	recipient   string
	sourceChain string
	targetChain string
	shielded    bool
	preference  string
}

func newExecuteCmd() *cobra.Command {
	var f executeFlags

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Run a single transaction through the pipeline and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			req, err := f.request()
			if err != nil {
				return err
			}
			resp, err := execute(ctx, f.configPath, req, agent.ParsePreference(f.preference))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.configPath, "config", "c", "", "path to config file")
	flags.StringVar(&f.reference, "ref", "", "reference id (random when empty)")
	flags.StringVar(&f.intent, "type", string(types.IntentTransfer), "intent: transfer, swap or shield")
	flags.StringVar(&f.amount, "amount", "", "decimal amount")
	flags.StringVar(&f.asset, "asset", "USDC", "asset symbol")
	flags.StringVar(&f.recipient, "to", "", "recipient address")
	flags.StringVar(&f.sourceChain, "chain", string(types.ChainEthereum), "source chain")
	flags.StringVar(&f.targetChain, "target-chain", "", "destination chain for cross-chain intents")
	flags.BoolVar(&f.shielded, "shielded", false, "require a solvency proof")
	flags.StringVar(&f.preference, "preference", string(agent.PreferBalanced), "route preference: speed, cost, security or balanced")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (f executeFlags) request() (types.TransactionRequest, error) {
	intent, err := types.ParseIntentType(f.intent)
	if err != nil {
		return types.TransactionRequest{}, err
	}
	source, err := types.ParseChainID(f.sourceChain)
	if err != nil {
		return types.TransactionRequest{}, err
	}
	req := types.TransactionRequest{
		ReferenceID: f.reference,
		IntentType:  intent,
		Amount:      f.amount,
		Asset:       f.asset,
		SourceChain: source,
		IsShielded:  f.shielded,
	}
	if req.ReferenceID == "" {
		req.ReferenceID = uuid.NewString()
	}
	if f.recipient != "" {
		req.Recipient = types.StringPtr(f.recipient)
	}
	if f.targetChain != "" {
		target, err := types.ParseChainID(f.targetChain)
		if err != nil {
			return types.TransactionRequest{}, err
		}
		req.TargetChain = types.ChainPtr(target)
	}
	return req, nil
}

func execute(ctx context.Context, configPath string, req types.TransactionRequest, pref agent.Preference) (*types.TransactionResponse, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}
	// 单次执行不需要外部事件后端。
	cfg.Events.Driver = "memory"
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return nil, err
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	resp, err := rt.client.ExecuteWithPreference(ctx, req, pref)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", req.ReferenceID, err)
	}
	return resp, nil
}
