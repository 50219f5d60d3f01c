package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    = 2
	defaultGlobalRPS           = 100
	defaultClientRPS           = 50
	defaultUnAuthRPS           = 10
	defaultMaxClients          = 10000
	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterIdleTimeout     = 1 * time.Hour
)

type (
	// RateLimiter provides rate limiting for incoming requests.
	//
	// The interface keeps the middleware independent of the backing
	// implementation: the in-memory token bucket limiter here suits
	// single-node deployments, a distributed store can replace it without
	// touching callers.
	RateLimiter interface {
		// Allow checks if a request should be allowed. keyID identifies the
		// authenticated API key; empty string means unauthenticated.
		Allow(keyID string) bool
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate
	// token buckets in three tiers: global, per-key, and unauthenticated.
	//
	// A background cleanup goroutine drops per-key limiters idle longer than
	// IdleTimeout to bound memory.
	InMemoryRateLimiter struct {
		global          *rate.Limiter
		perKey          map[string]*keyLimiter
		unauthenticated *rate.Limiter
		mu              sync.RWMutex
		cleanupTicker   *time.Ticker
		done            chan struct{}

		keyRPS          int
		keyBurst        int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
	}

	// keyLimiter tracks rate limit state for a single API key.
	keyLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates an in-memory rate limiter with three-tier
// limits. Burst capacity defaults to 2x the sustained rate unless overridden
// in config.
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	globalBurst := computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)
	keyBurst := computeBurstCapacity(config.KeyRPS, config.KeyBurst)
	unauthBurst := computeBurstCapacity(config.UnAuthRPS, config.UnAuthBurst)

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), globalBurst),
		perKey:          make(map[string]*keyLimiter),
		unauthenticated: rate.NewLimiter(rate.Limit(config.UnAuthRPS), unauthBurst),
		done:            make(chan struct{}),
		keyRPS:          config.KeyRPS,
		keyBurst:        keyBurst,
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
	}

	rl.startCleanup()

	return rl
}

// computeBurstCapacity returns burstOverride when set, otherwise 2x rate.
func computeBurstCapacity(rps, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rps * burstCapacityMultiplier
}

// Allow checks the global tier first, then the per-key or unauthenticated
// tier. Per-key limiters are created lazily.
func (rl *InMemoryRateLimiter) Allow(keyID string) bool {
	if !rl.global.Allow() {
		return false
	}

	if keyID == "" {
		return rl.unauthenticated.Allow()
	}

	rl.mu.RLock()
	kl, ok := rl.perKey[keyID]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		// Double-check after acquiring the write lock.
		if kl, ok = rl.perKey[keyID]; !ok {
			kl = &keyLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.keyRPS), rl.keyBurst),
				lastAccess: time.Now(),
			}
			rl.perKey[keyID] = kl
		}
		rl.mu.Unlock()
	}

	kl.mu.Lock()
	kl.lastAccess = time.Now()
	kl.mu.Unlock()

	return kl.limiter.Allow()
}

// Close stops the cleanup goroutine. Not part of the RateLimiter interface;
// callers that need cleanup use a type assertion to io.Closer.
func (rl *InMemoryRateLimiter) Close() error {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)

	return nil
}

func (rl *InMemoryRateLimiter) startCleanup() {
	cleanupInterval := rl.cleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup removes per-key limiters that have been idle past the timeout.
func (rl *InMemoryRateLimiter) cleanup() {
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for keyID, kl := range rl.perKey {
		kl.mu.Lock()
		lastAccess := kl.lastAccess
		kl.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perKey, keyID)
		}
	}
}

// RateLimit returns a middleware that enforces rate limits. It must be placed
// after the authentication middleware so the per-key tier can see the
// ClientContext; unauthenticated requests fall into the stricter tier.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyID := ""
			if clientCtx, ok := GetClientContext(r.Context()); ok {
				keyID = clientCtx.KeyID
			}

			if !limiter.Allow(keyID) {
				correlationID := GetCorrelationID(r.Context())
				detail := "Rate limit exceeded. Please retry after some time."

				if err := writeRFC7807Error(w, r, http.StatusTooManyRequests, detail, correlationID); err != nil {
					logger.Error("Failed to write rate limit error response",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)

					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
