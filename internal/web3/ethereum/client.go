package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"

	"EasyCash-SDK/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Backend is the subset of ethclient used to read chain state.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client implements web3.Client for EVM compatible chains.
type Client struct {
	name    string
	notes   string
	backend Backend
	closer  func()
	mu      sync.Mutex
}

var _ web3.Client = (*Client)(nil)

// NewClient dials the configured RPC endpoint.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	return &Client{name: cfg.Name, notes: cfg.Notes, backend: eth, closer: eth.Close}, nil
}

// NewFromBackend wraps an existing backend, such as a simulated chain.
func NewFromBackend(name string, backend Backend) *Client {
	return &Client{name: name, backend: backend, notes: "custom backend"}
}

// Name returns the configured chain name.
func (c *Client) Name() string { return c.name }

// BlockHeight returns the latest block number.
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	backend, err := c.current()
	if err != nil {
		return 0, err
	}
	height, err := backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("查询区块高度失败: %w", err)
	}
	return height, nil
}

// Snapshot returns chain id and latest height.
func (c *Client) Snapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	backend, err := c.current()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("查询链 ID 失败: %w", err)
	}
	height, err := backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("查询区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		Chain:       c.name,
		NetworkID:   "0x" + chainID.Text(16),
		BlockHeight: height,
		Notes:       c.notes,
	}, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closer != nil {
		c.closer()
		c.closer = nil
	}
	c.backend = nil
}

func (c *Client) current() (Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return nil, errors.New("以太坊客户端已关闭")
	}
	return c.backend, nil
}
