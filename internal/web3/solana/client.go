package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go/rpc"

	"EasyCash-SDK/internal/web3"
)

// Config describes how to construct a Solana client.
type Config struct {
	Name       string
	RPCURL     string
	Notes      string
	Commitment rpc.CommitmentType
}

// Client implements web3.Client for Solana clusters. Block height is the
// latest slot at the configured commitment.
type Client struct {
	name       string
	notes      string
	commitment rpc.CommitmentType
	rpc        *rpc.Client
	mu         sync.Mutex
}

var _ web3.Client = (*Client)(nil)

// NewClient builds a client for the configured RPC endpoint. No request is
// made until the first call.
func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.RPCURL)
	if endpoint == "" {
		return nil, errors.New("未配置 Solana RPC 地址")
	}
	commitment := cfg.Commitment
	if commitment == "" {
		commitment = rpc.CommitmentFinalized
	}
	return &Client{
		name:       cfg.Name,
		notes:      cfg.Notes,
		commitment: commitment,
		rpc:        rpc.New(endpoint),
	}, nil
}

// Name returns the configured chain name.
func (c *Client) Name() string { return c.name }

// BlockHeight returns the latest slot.
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	client, err := c.current()
	if err != nil {
		return 0, err
	}
	slot, err := client.GetSlot(ctx, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("查询 Solana slot 失败: %w", err)
	}
	return slot, nil
}

// Snapshot returns the latest slot together with the cluster label.
func (c *Client) Snapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	slot, err := c.BlockHeight(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	return web3.ChainSnapshot{
		Chain:       c.name,
		NetworkID:   string(c.commitment),
		BlockHeight: slot,
		Notes:       c.notes,
	}, nil
}

// Close releases the underlying HTTP client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		_ = c.rpc.Close()
		c.rpc = nil
	}
}

func (c *Client) current() (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc == nil {
		return nil, errors.New("Solana 客户端已关闭")
	}
	return c.rpc, nil
}
