package trade

import (
	xerrors "TradePilot/internal/errors"
)

// Result is the outcome of one trade as reported to callers.
type Result struct {
	Success        bool         `json:"success"`
	TxHash         string       `json:"tx_hash,omitempty"`
	OrderID        string       `json:"order_id,omitempty"`
	AmountReceived string       `json:"amount_received,omitempty"`
	ErrorKind      xerrors.Code `json:"error_kind,omitempty"`
	Message        string       `json:"message,omitempty"`
	Provider       string       `json:"provider,omitempty"`
	Guidance       string       `json:"guidance,omitempty"`
}

// Failure converts an error into a failed Result.
func Failure(err error) Result {
	if err == nil {
		return Result{ErrorKind: xerrors.CodeUnknown, Message: "unknown failure"}
	}
	res := Result{ErrorKind: xerrors.CodeOf(err), Message: xerrors.MessageOf(err)}
	if typed, ok := xerrors.From(err); ok {
		res.Guidance = typed.Meta(xerrors.MetaGuidance)
		res.TxHash = typed.Meta(xerrors.MetaTxHash)
	}
	return res
}

// Err turns a failed Result back into a typed error; nil on success.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	code := r.ErrorKind
	if code == "" {
		code = xerrors.CodeUnknown
	}
	var opts []xerrors.Option
	if r.Guidance != "" {
		opts = append(opts, xerrors.WithMetadata(xerrors.MetaGuidance, r.Guidance))
	}
	if r.TxHash != "" {
		opts = append(opts, xerrors.WithMetadata(xerrors.MetaTxHash, r.TxHash))
	}
	return xerrors.New(code, r.Message, opts...)
}

// Outcome is a low cardinality label for metrics.
func (r Result) Outcome() string {
	if r.Success {
		return "success"
	}
	return string(r.ErrorKind)
}
