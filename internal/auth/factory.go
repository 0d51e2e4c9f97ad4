package auth

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/stacklok/price-sync-server/internal/config"
)

// NewAuthMiddleware creates authentication middleware based on config.
// With no credentials configured every request is admitted.
func NewAuthMiddleware(cfg *config.AuthConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil || (cfg.Token == "" && cfg.WebhookSecret == "") {
		logger.Info("auth: anonymous mode")
		return anonymousMiddleware
	}

	m := &triggerMiddleware{
		webhookPath: DefaultWebhookPath,
		realm:       cfg.Realm,
		logger:      logger,
	}
	if m.realm == "" {
		m.realm = defaultRealm
	}
	if cfg.Token != "" {
		m.token = []byte(cfg.Token)
	}
	if cfg.WebhookSecret != "" {
		m.webhookSecret = []byte(cfg.WebhookSecret)
	}

	publicPaths := cfg.PublicPaths
	if len(publicPaths) == 0 {
		publicPaths = DefaultPublicPaths
	}

	logger.Info("auth: credentials required",
		zap.Bool("token", m.token != nil),
		zap.Bool("webhook_signature", m.webhookSecret != nil),
		zap.Strings("public_paths", publicPaths))

	return WrapWithPublicPaths(m.Middleware, publicPaths)
}

// anonymousMiddleware is a no-op middleware that passes requests through without authentication.
func anonymousMiddleware(next http.Handler) http.Handler {
	return next
}
