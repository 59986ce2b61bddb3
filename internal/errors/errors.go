// Package errors 定义 TradePilot 的统一错误类型。每个 I/O 边界在失败处直接给出错误码，
// 调用方通过 CodeOf 或 errors.Is 判断分类，不解析错误文本。
package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

// 基础设施错误码。
const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// 交易链路的错误分类，交易结果中的 error_kind 取自这里。
const (
	CodeInsufficientFunds  Code = "INSUFFICIENT_FUNDS"
	CodeNoLiquidity        Code = "NO_LIQUIDITY"
	CodeNoRoute            Code = "NO_ROUTE"
	CodeProviderError      Code = "PROVIDER_ERROR"
	CodeApprovalFailure    Code = "APPROVAL_FAILURE"
	CodeNothingToSell      Code = "NOTHING_TO_SELL"
	CodeTransactionFailure Code = "TRANSACTION_FAILURE"
)

// 常用的附加信息键。
const (
	MetaGuidance = "guidance"
	MetaTxHash   = "tx_hash"
	MetaProvider = "provider"
	MetaStatus   = "status"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{}
)

func init() {
	builtin := []struct {
		code      Code
		message   string
		severity  Severity
		retryable bool
		alert     bool
	}{
		{CodeUnknown, "unknown error", SeverityCritical, false, true},
		{CodeInvalidArgument, "invalid argument", SeverityInfo, false, false},
		{CodeNotFound, "resource not found", SeverityInfo, false, false},
		{CodeConflict, "resource conflict", SeverityWarning, false, false},
		{CodeInitializationFailure, "service not initialized", SeverityWarning, true, true},
		{CodeStorageFailure, "storage failure", SeverityCritical, true, true},
		{CodeQueueFailure, "queue failure", SeverityCritical, true, true},
		{CodeTimeout, "operation timed out", SeverityWarning, true, true},

		{CodeInsufficientFunds, "insufficient funds for amount plus gas", SeverityInfo, false, false},
		{CodeNoLiquidity, "no liquidity for this pair", SeverityInfo, false, false},
		{CodeNoRoute, "provider found no route", SeverityInfo, false, false},
		// 上游失败可以稍后重试，路由器自身会先切换到下一个聚合器。
		{CodeProviderError, "upstream provider error", SeverityWarning, true, false},
		{CodeApprovalFailure, "token approval failed", SeverityWarning, false, true},
		{CodeNothingToSell, "nothing to sell", SeverityInfo, false, false},
		{CodeTransactionFailure, "transaction failed", SeverityWarning, false, true},
	}
	for _, b := range builtin {
		registry[b.code] = Attributes{Message: b.message, Severity: b.severity, Retryable: b.retryable, Alert: b.alert}
	}
}

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	registry[code] = attr
	registryMu.Unlock()
}

// AttributesOf 返回错误码对应的属性，未注册的错误码按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	attr, ok := registry[code]
	if !ok {
		attr = registry[CodeUnknown]
	}
	return attr
}

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
	severity  *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息，例如上游状态码、交易哈希或人工交易链接。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = map[string]string{}
		}
		e.metadata[key] = value
	}
}

// WithRetryable 覆盖错误码默认的重试属性。
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.retryable = &retryable }
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) { e.severity = &sev }
}

// New 创建错误。message 为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	e := &Error{code: code, message: message}
	if e.message == "" {
		e.message = AttributesOf(code).Message
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 为 cause 赋予错误码。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause == nil {
		return fmt.Sprintf("[%s] %s", e.code, e.message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 让 errors.Is 按错误码匹配。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含 cause 的业务描述。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Meta 返回单个附加信息，不存在时为空串。
func (e *Error) Meta(key string) string {
	if e == nil {
		return ""
	}
	return e.metadata[key]
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	switch {
	case e == nil:
		return false
	case e.retryable != nil:
		return *e.retryable
	default:
		return AttributesOf(e.code).Retryable
	}
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	switch {
	case e == nil:
		return SeverityInfo
	case e.severity != nil:
		return *e.severity
	default:
		return AttributesOf(e.code).Severity
	}
}

// From 沿错误链查找统一错误。
func From(err error) (*Error, bool) {
	var target *Error
	if err == nil || !stdErrors.As(err, &target) {
		return nil, false
	}
	return target, true
}

// CodeOf 返回错误对应的错误码，非统一错误为 UNKNOWN。
func CodeOf(err error) Code {
	e, _ := From(err)
	return e.Code()
}

// MessageOf 返回统一错误的业务描述及其 cause，非统一错误返回原始文本。
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	e, ok := From(err)
	if !ok {
		return err.Error()
	}
	if e.cause == nil {
		return e.message
	}
	return fmt.Sprintf("%s: %v", e.message, e.cause)
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	e, _ := From(err)
	return e.Retryable()
}

// ShouldAlert 判断是否需要触发告警。
func ShouldAlert(err error) bool {
	e, ok := From(err)
	return ok && AttributesOf(e.Code()).Alert
}

// SeverityOf 返回错误严重程度，非统一错误按 UNKNOWN 处理。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
