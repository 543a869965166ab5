package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ChainID 标识支持的区块链网络。
type ChainID string

const (
	ChainEthereum ChainID = "ethereum"
	ChainBase     ChainID = "base"
	ChainSolana   ChainID = "solana"
)

// ParseChainID 不区分大小写地解析链标识。
func ParseChainID(s string) (ChainID, error) {
	switch ChainID(strings.ToLower(strings.TrimSpace(s))) {
	case ChainEthereum:
		return ChainEthereum, nil
	case ChainBase:
		return ChainBase, nil
	case ChainSolana:
		return ChainSolana, nil
	}
	return "", fmt.Errorf("unsupported chain: %q", s)
}

func (c ChainID) String() string { return string(c) }

// Valid 判断链标识是否受支持。
func (c ChainID) Valid() bool {
	switch c {
	case ChainEthereum, ChainBase, ChainSolana:
		return true
	}
	return false
}

// IsEVM 返回该链是否为 EVM 兼容链。
func (c ChainID) IsEVM() bool {
	return c == ChainEthereum || c == ChainBase
}

// UnmarshalJSON 接受任意大小写的链名。
func (c *ChainID) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseChainID(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// IntentType 表示交易意图。
type IntentType string

const (
	IntentTransfer IntentType = "transfer"
	IntentSwap     IntentType = "swap"
	IntentShield   IntentType = "shield"
)

// ParseIntentType 不区分大小写地解析交易意图。
func ParseIntentType(s string) (IntentType, error) {
	switch IntentType(strings.ToLower(strings.TrimSpace(s))) {
	case IntentTransfer:
		return IntentTransfer, nil
	case IntentSwap:
		return IntentSwap, nil
	case IntentShield:
		return IntentShield, nil
	}
	return "", fmt.Errorf("unsupported intent type: %q", s)
}

func (i IntentType) String() string { return string(i) }

// UnmarshalJSON 接受任意大小写的意图名。
func (i *IntentType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseIntentType(raw)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// TransactionRequest 描述一次高层交易请求。
type TransactionRequest struct {
	ReferenceID string     `json:"reference_id"`
	IntentType  IntentType `json:"type"`
	Amount      string     `json:"amount"`
	Asset       string     `json:"asset"`
	Recipient   *string    `json:"recipient,omitempty"`
	SourceChain ChainID    `json:"source_chain"`
	TargetChain *ChainID   `json:"target_chain,omitempty"`
	IsShielded  bool       `json:"is_shielded"`
}

// Validate 执行最基本的结构校验。
func (r TransactionRequest) Validate() error {
	if strings.TrimSpace(r.Amount) == "" {
		return fmt.Errorf("amount cannot be empty")
	}
	if strings.TrimSpace(r.Asset) == "" {
		return fmt.Errorf("asset cannot be empty")
	}
	return nil
}

// DestinationChain 返回目标链，未指定时回落到源链。
func (r TransactionRequest) DestinationChain() ChainID {
	if r.TargetChain != nil && *r.TargetChain != "" {
		return *r.TargetChain
	}
	return r.SourceChain
}

// CacheKey 返回请求在结果缓存中的键。
//
// 键仅由意图、金额与资产组成，链与收款人不参与。仅在链或收款人上不同的请求
// 会命中同一条缓存记录。
func (r TransactionRequest) CacheKey() string {
	return fmt.Sprintf("%s-%s-%s", r.IntentType, r.Amount, r.Asset)
}

// TransactionResponse 是结算成功后的回执。
type TransactionResponse struct {
	TxHash      string `json:"tx_hash"`
	Status      string `json:"status"`
	BlockHeight uint64 `json:"block_height"`
	FeeUsed     string `json:"fee_used"`
}

// StatusConfirmed 为模拟结算返回的状态。
const StatusConfirmed = "confirmed"

// RouteQuote 是代理针对请求给出的报价。
type RouteQuote struct {
	AgentID       string        `json:"agent_id"`
	EstimatedFee  string        `json:"estimated_fee"`
	EstimatedTime time.Duration `json:"estimated_time"`
	Route         []string      `json:"route"`
	SecurityScore float64       `json:"security_score"`
}

// Clone 返回报价的深拷贝。
func (q RouteQuote) Clone() RouteQuote {
	q.Route = append([]string(nil), q.Route...)
	return q
}

// FeeAmount 解析费用字符串中的数值部分。
func (q RouteQuote) FeeAmount() (float64, bool) {
	return ParseFeeAmount(q.EstimatedFee)
}

// ParseFeeAmount 解析形如 "<number> <symbol>" 的费用字符串的首个字段。
// NaN 与 ±Inf 视为无法解析。
func ParseFeeAmount(fee string) (float64, bool) {
	fields := strings.Fields(fee)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// StringPtr 返回字符串指针。
func StringPtr(s string) *string { return &s }

// ChainPtr 返回链标识指针。
func ChainPtr(c ChainID) *ChainID { return &c }
