package proofs

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// signatureLength 是 r||s 签名的字节数。
const signatureLength = 64

// Signer 使用 secp256k1 私钥对数据的 SHA-256 摘要签名。
type Signer struct {
	key *ecdsa.PrivateKey
}

// NewSigner 基于私钥创建 Signer。
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key}
}

// NewSignerFromHex 从十六进制私钥（可带 0x 前缀）创建 Signer。
func NewSignerFromHex(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewSigner(key), nil
}

// GenerateSigner 随机生成一个 Signer。
func GenerateSigner() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewSigner(key), nil
}

// Sign 返回 "0x" 前缀的 64 字节签名（r||s）。
func (s *Signer) Sign(data []byte) (string, error) {
	digest := sha256.Sum256(data)
	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	// 丢弃恢复标识 v。
	return hexutil.Encode(sig[:signatureLength]), nil
}

// PublicKey 返回对应的公钥。
func (s *Signer) PublicKey() *ecdsa.PublicKey {
	return &s.key.PublicKey
}

// PublicKeyHex 返回压缩公钥的十六进制编码。
func (s *Signer) PublicKeyHex() string {
	return hexutil.Encode(crypto.CompressPubkey(&s.key.PublicKey))
}

// ParsePublicKey 解析十六进制编码的压缩或未压缩公钥。
func ParsePublicKey(hexKey string) (*ecdsa.PublicKey, error) {
	raw, err := decodeHex(hexKey)
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case 33:
		return crypto.DecompressPubkey(raw)
	case 65:
		return crypto.UnmarshalPubkey(raw)
	}
	return nil, fmt.Errorf("invalid public key length: %d bytes", len(raw))
}

// VerifySignature 校验签名。签名格式错误时返回 error；签名与公钥不匹配时返回 false。
func VerifySignature(pub *ecdsa.PublicKey, data []byte, signature string) (bool, error) {
	if pub == nil {
		return false, fmt.Errorf("public key is required")
	}
	raw, err := decodeHex(signature)
	if err != nil {
		return false, err
	}
	if len(raw) != signatureLength {
		return false, fmt.Errorf("invalid signature length: expected %d bytes, got %d", signatureLength, len(raw))
	}
	digest := sha256.Sum256(data)
	return crypto.VerifySignature(crypto.FromECDSAPub(pub), digest[:], raw), nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	raw, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return raw, nil
}
