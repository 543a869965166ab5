package web3

import (
	"context"
)

// ChainSnapshot summarises the state of a network at one point in time.
type ChainSnapshot struct {
	Chain       string `json:"chain"`
	NetworkID   string `json:"network_id,omitempty"`
	BlockHeight uint64 `json:"block_height"`
	Notes       string `json:"notes,omitempty"`
}

// Client defines the read-only operations settlement needs from a chain.
type Client interface {
	Name() string
	BlockHeight(ctx context.Context) (uint64, error)
	Snapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}
