package api

import (
	"bytes"
	"crypto/ecdsa"
	"io"
	"log/slog"
	"net/http"
	"time"

	xerrors "EasyCash-SDK/internal/errors"
	"EasyCash-SDK/internal/observability/metrics"
	"EasyCash-SDK/internal/proofs"
	"EasyCash-SDK/pkg/logger"
)

// SignatureHeader 携带对请求体的 secp256k1 签名（0x 前缀的 64 字节十六进制）。
const SignatureHeader = "X-Ecash-Signature"

// SignatureVerifier 校验写请求的签名。nil 表示不校验。
type SignatureVerifier struct {
	pub   *ecdsa.PublicKey
	audit *slog.Logger
}

// NewSignatureVerifier 根据压缩或非压缩的十六进制公钥创建校验器。
func NewSignatureVerifier(publicKeyHex string) (*SignatureVerifier, error) {
	pub, err := proofs.ParsePublicKey(publicKeyHex)
	if err != nil {
		return nil, err
	}
	return &SignatureVerifier{pub: pub, audit: logger.Audit()}, nil
}

// Require 返回校验签名的中间件。校验通过后请求体会被还原供后续读取。
func (v *SignatureVerifier) Require(next http.Handler) http.Handler {
	if v == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, xerrors.Wrap(xerrors.CodeInvalidRequest, err, "读取请求体失败"))
			return
		}
		signature := r.Header.Get(SignatureHeader)
		if signature == "" {
			v.deny(w, r, "missing signature")
			return
		}
		ok, err := proofs.VerifySignature(v.pub, body, signature)
		if err != nil {
			v.deny(w, r, err.Error())
			return
		}
		if !ok {
			v.deny(w, r, "signature mismatch")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (v *SignatureVerifier) deny(w http.ResponseWriter, r *http.Request, reason string) {
	v.audit.Warn("signature_rejected",
		"path", r.URL.Path,
		"method", r.Method,
		"reason", reason,
	)
	writeErrorStatus(w, http.StatusUnauthorized, "UNAUTHORIZED", reason)
}

// statusWriter 捕获响应状态码。
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument 记录请求耗时与状态码，并写入访问审计日志。
func instrument(name string, observer *metrics.HTTPObserver, log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		r.Body = http.MaxBytesReader(sw, r.Body, maxBodyBytes)
		next.ServeHTTP(sw, r)
		elapsed := time.Since(start)
		if observer != nil {
			observer.Observe(name, r.Method, sw.status, elapsed)
		}
		log.Debug("api_request",
			slog.String("handler", name),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}
