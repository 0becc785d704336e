package auth

import (
	"chat-sync/contract"
	"context"
	"log/slog"
	"strings"
)

// JWTResolver resolves a handshake bearing a signed token into a user id.
type JWTResolver struct {
	tokens *TokenService
	log    *slog.Logger
}

func NewJWTResolver(tokens *TokenService, log *slog.Logger) *JWTResolver {
	return &JWTResolver{tokens: tokens, log: log}
}

func (r *JWTResolver) Resolve(_ context.Context, hs contract.Handshake) (string, bool) {
	token := strings.TrimSpace(strings.TrimPrefix(hs.Token, "Bearer "))
	if token == "" {
		return "", false
	}
	claims, err := r.tokens.ValidateToken(token)
	if err != nil {
		r.log.Debug("Rejected handshake token", "remote_addr", hs.RemoteAddr, "error", err)
		return "", false
	}
	return claims.UserID, true
}
