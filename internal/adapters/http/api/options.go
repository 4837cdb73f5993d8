package api

import "github.com/okian/parry/pkg/logger"

const (
	defaultRankingLimit = 10
	defaultMaxLimit     = 100
	defaultMaxBodyBytes = 4 << 20
)

type options struct {
	defaultLimit   int
	maxLimit       int
	allowedOrigins []string
	ratePerSecond  float64
	burst          int
	maxBodyBytes   int64
	trustProxy     bool
	logger         logger.Logger
}

func defaultOptions() options {
	return options{
		defaultLimit:   defaultRankingLimit,
		maxLimit:       defaultMaxLimit,
		allowedOrigins: []string{"*"},
		maxBodyBytes:   defaultMaxBodyBytes,
		logger:         logger.Nop(),
	}
}

// Option configures the Server.
type Option func(*options)

// WithLogger sets the logger used for request and failure logs.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRankingLimits sets the default and maximum GET /ranking limit.
func WithRankingLimits(def, limit int) Option {
	return func(o *options) {
		if limit > 0 {
			o.maxLimit = limit
		}
		if def > 0 && def <= o.maxLimit {
			o.defaultLimit = def
		}
	}
}

// WithAllowedOrigins sets the CORS origin allow-list.
func WithAllowedOrigins(origins []string) Option {
	return func(o *options) {
		if len(origins) > 0 {
			o.allowedOrigins = origins
		}
	}
}

// WithRankingRateLimit limits POST /ranking per client IP. A zero rate disables it.
func WithRankingRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		o.ratePerSecond = perSecond
		o.burst = max(burst, 1)
	}
}

// WithMaxBodyBytes caps request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodyBytes = n
		}
	}
}

// WithTrustedProxy takes the client address from X-Forwarded-For or
// X-Real-IP. Enable it only when a proxy in front of the server sets them.
func WithTrustedProxy(trust bool) Option {
	return func(o *options) {
		o.trustProxy = trust
	}
}
