package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Require 返回一个 HTTP 中间件，校验调用方令牌并要求其具备全部 perms。
// 认证关闭时直接放行。
func (s *Service) Require(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if s == nil || s.mode == ModeDisabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err == nil {
				err = subject.Authorize(perms...)
			}
			if err != nil {
				s.deny(w, r, subject, err)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(WithSubject(r.Context(), subject)))
			s.audit.Info("api_request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("user", subject.Username),
			)
		})
	}
}

// deny 写出 401/403 错误体并记录审计。
func (s *Service) deny(w http.ResponseWriter, r *http.Request, subject *Subject, err error) {
	status, code := http.StatusUnauthorized, "UNAUTHORIZED"
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrSubjectRevoked) {
		status, code = http.StatusForbidden, "FORBIDDEN"
	} else {
		w.Header().Set("WWW-Authenticate", `Bearer realm="tradepilot"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": err.Error()},
	})

	attrs := []any{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	}
	if subject != nil {
		attrs = append(attrs, slog.String("user", subject.Username))
	}
	s.audit.Warn("access_denied", attrs...)
}

// statusRecorder 记录下游写出的状态码。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
