package api

import (
	"encoding/json"
	"net/http"

	xerrors "TradePilot/internal/errors"
	"TradePilot/internal/exchange"
	"TradePilot/internal/task"
	"TradePilot/internal/trade"
)

type errorBody struct {
	Code    xerrors.Code      `json:"code"`
	Message string            `json:"message"`
	Details []ValidationError `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	writeJSON(w, statusFor(code), errorEnvelope{Error: errorBody{Code: code, Message: xerrors.MessageOf(err)}})
}

func writeValidation(w http.ResponseWriter, errs []ValidationError) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{
		Code:    xerrors.CodeInvalidArgument,
		Message: "请求参数无效",
		Details: errs,
	}})
}

// writeResult 输出交易结果；失败时状态码取自错误种类，响应体仍为完整结果。
func writeResult(w http.ResponseWriter, result trade.Result) {
	status := http.StatusOK
	if !result.Success {
		status = statusFor(result.ErrorKind)
	}
	writeJSON(w, status, result)
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, task.CodeJobValidation, xerrors.CodeNothingToSell, exchange.CodeUnsupported:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeJobNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, task.CodeJobConflict:
		return http.StatusConflict
	case xerrors.CodeInsufficientFunds, xerrors.CodeNoLiquidity, xerrors.CodeNoRoute,
		xerrors.CodeApprovalFailure, xerrors.CodeTransactionFailure:
		return http.StatusUnprocessableEntity
	case xerrors.CodeProviderError:
		return http.StatusBadGateway
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeStorageFailure, xerrors.CodeQueueFailure, xerrors.CodeInitializationFailure, task.CodeJobPublish:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
