package proofs

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"EasyCash-SDK/internal/cache"
)

// DefaultCircuitPath 是默认的花费电路路径。
const DefaultCircuitPath = "./circuits/spend.wasm"

// minProofLength 是 Verify 接受的最短证明长度（不含）。
const minProofLength = 10

// Gate 生成并校验偿付能力证明。
type Gate interface {
	GenerateSolvencyProof(balance, required string) (string, error)
	Verify(proof string) bool
}

// MockGenerator 是模拟的证明生成器。证明为
// "0x" + hex(sha256("balance-required-circuitPath"))，不具备零知识性质。
type MockGenerator struct {
	circuitPath string
}

// NewMockGenerator 创建模拟证明生成器。
func NewMockGenerator(circuitPath string) *MockGenerator {
	if circuitPath == "" {
		circuitPath = DefaultCircuitPath
	}
	return &MockGenerator{circuitPath: circuitPath}
}

// GenerateSolvencyProof 实现 Gate。相同输入总是得到相同证明。
func (g *MockGenerator) GenerateSolvencyProof(balance, required string) (string, error) {
	if balance == "" {
		return "", fmt.Errorf("balance cannot be empty")
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s", balance, required, g.circuitPath)))
	return hexutil.Encode(sum[:]), nil
}

// Verify 实现 Gate。
func (g *MockGenerator) Verify(proof string) bool {
	return len(proof) > minProofLength
}

// CachingGate 在 TTL 内复用相同输入的证明。
type CachingGate struct {
	next  Gate
	cache *cache.Cache[string]
}

// NewCachingGate 包装一个 Gate，证明缓存 ttl 时长。
func NewCachingGate(next Gate, ttl time.Duration) (*CachingGate, error) {
	c, err := cache.New[string](ttl)
	if err != nil {
		return nil, fmt.Errorf("proof cache: %w", err)
	}
	return &CachingGate{next: next, cache: c}, nil
}

// GenerateSolvencyProof 实现 Gate。
func (g *CachingGate) GenerateSolvencyProof(balance, required string) (string, error) {
	key := balance + "\x00" + required
	if proof, ok := g.cache.Get(key); ok {
		return proof, nil
	}
	proof, err := g.next.GenerateSolvencyProof(balance, required)
	if err != nil {
		return "", err
	}
	g.cache.Set(key, proof)
	return proof, nil
}

// Verify 实现 Gate。
func (g *CachingGate) Verify(proof string) bool {
	return g.next.Verify(proof)
}

// Close 停止证明缓存的后台清理。
func (g *CachingGate) Close() {
	g.cache.Close()
}
