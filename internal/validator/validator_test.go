package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"EasyCash-SDK/internal/types"
)

const evmRecipient = "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"

func validRequest() types.TransactionRequest {
	return types.TransactionRequest{
		ReferenceID: "ref_001",
		IntentType:  types.IntentTransfer,
		Amount:      "1000.00",
		Asset:       "USDC",
		Recipient:   types.StringPtr(evmRecipient),
		SourceChain: types.ChainBase,
		IsShielded:  true,
	}
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress(evmRecipient))
	assert.Error(t, ValidateAddress("0x742d35Cc6634C0532925a3b844Bc9e7595f0bE"))
	assert.Error(t, ValidateAddress("742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"))
	assert.Error(t, ValidateAddress("0xZZ2d35Cc6634C0532925a3b844Bc9e7595f0bEb0"))
}

func TestValidateAmount(t *testing.T) {
	for _, ok := range []string{"100.50", "1000", "0.001", "1000000000000000"} {
		assert.NoError(t, ValidateAmount(ok), ok)
	}
	for _, bad := range []string{"-100", "0", "0.0", "abc", "100.50.25", "1e3", " 1", "2000000000000000"} {
		assert.Error(t, ValidateAmount(bad), bad)
	}
	assert.EqualError(t, ValidateAmount(""), "amount cannot be empty")
	assert.EqualError(t, ValidateAmount("1000000000000000.01"), "amount exceeds maximum allowed value")
}

func TestValidateRequest(t *testing.T) {
	v := New()
	assert.NoError(t, v.Validate(validRequest()))

	req := validRequest()
	req.Amount = ""
	err := v.Validate(req)
	assert.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "amount validation failed"))

	req = validRequest()
	req.Recipient = types.StringPtr("invalid_address")
	assert.ErrorContains(t, v.Validate(req), "recipient validation failed")

	req = validRequest()
	req.Asset = ""
	assert.Error(t, v.Validate(req))

	req = validRequest()
	req.SourceChain = "tron"
	assert.ErrorContains(t, v.Validate(req), "source chain")

	req = validRequest()
	req.IntentType = "bridge"
	assert.Error(t, v.Validate(req))
}

func TestRecipientIsOptional(t *testing.T) {
	req := validRequest()
	req.Recipient = nil
	assert.NoError(t, New().Validate(req))
}

func TestSolanaRecipient(t *testing.T) {
	req := validRequest()
	req.TargetChain = types.ChainPtr(types.ChainSolana)
	req.Recipient = types.StringPtr("11111111111111111111111111111111")
	assert.NoError(t, New().Validate(req))

	req.Recipient = types.StringPtr("not-base58-0OIl")
	assert.Error(t, New().Validate(req))

	req.Recipient = types.StringPtr(evmRecipient)
	assert.NoError(t, New().Validate(req))
}

func TestFuncAdapter(t *testing.T) {
	called := false
	var v Validator = Func(func(types.TransactionRequest) error {
		called = true
		return nil
	})
	assert.NoError(t, v.Validate(validRequest()))
	assert.True(t, called)
}
