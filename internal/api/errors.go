package api

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	xerrors "EasyCash-SDK/internal/errors"
	"EasyCash-SDK/internal/task"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// StatusFor 将错误码映射为 HTTP 状态码。
func StatusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidRequest, task.CodeTaskValidation:
		return http.StatusBadRequest
	case xerrors.CodeInsufficientFunds, xerrors.CodeProofGeneration:
		return http.StatusUnprocessableEntity
	case xerrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case xerrors.CodeNotFound, task.CodeTaskNotFound:
		return http.StatusNotFound
	case task.CodeTaskConflict:
		return http.StatusConflict
	case xerrors.CodeAgentUnavailable, xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeNetworkFailure:
		return http.StatusBadGateway
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	if coded, ok := xerrors.From(err); ok && code == xerrors.CodeRateLimited {
		if retryAt, parseErr := time.Parse(time.RFC3339Nano, coded.Metadata()["retry_at"]); parseErr == nil {
			secs := int(math.Ceil(time.Until(retryAt).Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(code))
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Code:      string(code),
		Message:   err.Error(),
		Retryable: xerrors.RetryableError(err),
	}})
}

func writeErrorStatus(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
