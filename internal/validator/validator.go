// Package validator checks transaction requests before they enter the
// execution pipeline.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"EasyCash-SDK/internal/types"
)

// Validator 校验交易请求。
type Validator interface {
	Validate(req types.TransactionRequest) error
}

// Func 允许普通函数作为 Validator 使用。
type Func func(req types.TransactionRequest) error

// Validate 实现 Validator。
func (f Func) Validate(req types.TransactionRequest) error { return f(req) }

var amountPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// MaxAmount 是允许的最大金额。
var MaxAmount = decimal.New(1, 15)

// Default 是默认的请求校验器。
type Default struct{}

// New 返回默认校验器。
func New() Default { return Default{} }

// Validate 依次校验金额、资产、意图、链与收款人。
func (Default) Validate(req types.TransactionRequest) error {
	if err := ValidateAmount(req.Amount); err != nil {
		return fmt.Errorf("amount validation failed: %w", err)
	}
	if strings.TrimSpace(req.Asset) == "" {
		return fmt.Errorf("asset cannot be empty")
	}
	if _, err := types.ParseIntentType(string(req.IntentType)); err != nil {
		return fmt.Errorf("intent validation failed: %w", err)
	}
	if err := ValidateChain(req.SourceChain); err != nil {
		return fmt.Errorf("source chain validation failed: %w", err)
	}
	if req.TargetChain != nil {
		if err := ValidateChain(*req.TargetChain); err != nil {
			return fmt.Errorf("target chain validation failed: %w", err)
		}
	}
	if req.Recipient != nil {
		if err := ValidateRecipient(*req.Recipient, req.DestinationChain()); err != nil {
			return fmt.Errorf("recipient validation failed: %w", err)
		}
	}
	return nil
}

// ValidateAmount 校验金额为正的十进制数且不超过 MaxAmount。
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}
	if !amountPattern.MatchString(amount) {
		return fmt.Errorf("invalid amount format: %s (expected positive number)", amount)
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return fmt.Errorf("failed to parse amount: %w", err)
	}
	if !value.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if value.GreaterThan(MaxAmount) {
		return fmt.Errorf("amount exceeds maximum allowed value")
	}
	return nil
}

// ValidateChain 校验链标识受支持。
func ValidateChain(chain types.ChainID) error {
	if !chain.Valid() {
		return fmt.Errorf("unsupported chain: %q", chain)
	}
	return nil
}

// ValidateAddress 校验 0x 前缀的 20 字节十六进制地址。
func ValidateAddress(address string) error {
	if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
		return fmt.Errorf("invalid address format: %s", address)
	}
	return nil
}

// ValidateRecipient 按目标链校验收款地址。Solana 目标链同时接受 base58 公钥。
func ValidateRecipient(recipient string, chain types.ChainID) error {
	if chain == types.ChainSolana && !strings.HasPrefix(recipient, "0x") {
		if _, err := solana.PublicKeyFromBase58(recipient); err != nil {
			return fmt.Errorf("invalid solana address: %s", recipient)
		}
		return nil
	}
	return ValidateAddress(recipient)
}
