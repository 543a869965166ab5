package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"EasyCash-SDK/internal/types"
	"EasyCash-SDK/internal/web3"
	"EasyCash-SDK/internal/web3/ethereum"
	"EasyCash-SDK/internal/web3/solana"
)

// ErrChainNotConfigured is returned when no client serves a chain.
var ErrChainNotConfigured = errors.New("chain not configured")

// Registry manages a set of chain clients keyed by chain id.
type Registry struct {
	clients map[types.ChainID]web3.Client
}

// NewRegistry instantiates concrete clients for every known chain in defs.
// Unknown chain names are rejected.
func NewRegistry(ctx context.Context, defs web3.ChainDefinitions) (*Registry, error) {
	r := &Registry{clients: make(map[types.ChainID]web3.Client)}
	for name, chain := range defs.Chains {
		id, err := types.ParseChainID(name)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("链 %s 不受支持: %w", name, err)
		}

		var client web3.Client
		switch chain.NormalizedType() {
		case web3.TypeEVM:
			client, err = ethereum.NewClient(ctx, ethereum.Config{Name: name, RPCURL: chain.RPCURL, Notes: chain.Description})
		case web3.TypeSolana:
			client, err = solana.NewClient(solana.Config{Name: name, RPCURL: chain.RPCURL, Notes: chain.Description})
		default:
			err = fmt.Errorf("不支持的类型 %s", chain.Type)
		}
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		r.clients[id] = client
	}
	return r, nil
}

// NewStaticRegistry builds a registry from ready clients.
func NewStaticRegistry(clients map[types.ChainID]web3.Client) *Registry {
	r := &Registry{clients: make(map[types.ChainID]web3.Client, len(clients))}
	for id, c := range clients {
		if c != nil {
			r.clients[id] = c
		}
	}
	return r
}

// Client returns the client serving chain.
func (r *Registry) Client(chain types.ChainID) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[chain]
	return client, ok
}

// BlockHeight returns the latest height of chain.
func (r *Registry) BlockHeight(ctx context.Context, chain types.ChainID) (uint64, error) {
	client, ok := r.Client(chain)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrChainNotConfigured, chain)
	}
	return client.BlockHeight(ctx)
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for id, client := range r.clients {
		client.Close()
		delete(r.clients, id)
	}
}

// Chains returns the registered chain ids in sorted order.
func (r *Registry) Chains() []types.ChainID {
	if r == nil {
		return nil
	}
	ids := make([]types.ChainID, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshots collects a snapshot from every registered chain. Chains that fail
// to respond are reported with the error in Notes.
func (r *Registry) Snapshots(ctx context.Context) []web3.ChainSnapshot {
	ids := r.Chains()
	out := make([]web3.ChainSnapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := r.clients[id].Snapshot(ctx)
		if err != nil {
			snap = web3.ChainSnapshot{Chain: id.String(), Notes: err.Error()}
		}
		out = append(out, snap)
	}
	return out
}
