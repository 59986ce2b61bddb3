package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"

	"TradePilot/pkg/logger"
)

type tokenEntry struct {
	digest  [sha256.Size]byte
	subject *Subject
}

// Service 负责 HTTP 端点的身份验证和授权。
type Service struct {
	mode   Mode
	tokens []tokenEntry
	audit  *slog.Logger
}

// NewService 构造身份认证服务实例。token 模式下至少需要一个令牌。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: logger.Audit()}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeToken:
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}

	seen := make(map[string]struct{}, len(cfg.Principals))
	for _, p := range cfg.Principals {
		name := strings.TrimSpace(p.Name)
		token := strings.TrimSpace(p.Token)
		if name == "" {
			return nil, fmt.Errorf("auth principal name is empty")
		}
		if token == "" {
			return nil, fmt.Errorf("auth principal %s has an empty token", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate auth principal: %s", name)
		}
		seen[name] = struct{}{}
		subject := &Subject{Username: name, Permissions: canonicalPermissions(p.Permissions), Disabled: p.Disabled}
		svc.tokens = append(svc.tokens, tokenEntry{digest: sha256.Sum256([]byte(token)), subject: subject})
	}
	if len(svc.tokens) == 0 {
		return nil, fmt.Errorf("token mode requires at least one principal")
	}
	return svc, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 解析 Authorization 头并返回对应的主体。
func (s *Service) AuthenticateRequest(_ context.Context, header string) (*Subject, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrMissingToken
	}
	scheme, token, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return nil, ErrInvalidToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	digest := sha256.Sum256([]byte(token))
	var found *Subject
	// 逐个比较摘要，耗时与令牌位置无关。
	for _, entry := range s.tokens {
		if subtle.ConstantTimeCompare(entry.digest[:], digest[:]) == 1 {
			found = entry.subject
		}
	}
	if found == nil {
		return nil, ErrInvalidToken
	}
	if found.Disabled {
		return nil, ErrSubjectRevoked
	}
	return found, nil
}
