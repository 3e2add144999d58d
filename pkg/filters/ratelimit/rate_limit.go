package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/redis/rueidis"

	"speechway.dev/config"
	"speechway.dev/pkg/bootkit"
	"speechway.dev/pkg/filters"
	"speechway.dev/pkg/metadata"
	"speechway.dev/pkg/metrics"
	"speechway.dev/pkg/object"
	"speechway.dev/pkg/redis"
)

const (
	cleanupInterval = 30 * time.Minute
	maxTTL          = 5 * time.Minute
	ttlRate         = 2

	numShards          = 64    // Number of shards, must be power of 2
	maxBucketsPerShard = 10000 // Maximum buckets per shard

	precision           = 1000 // Precision for fixed-point arithmetic
	defaultDuration     = 1 * time.Minute
	defaultServerPrefix = "speechway-rate-limit"
)

var _ filters.RequestFilter = (*RateLimiter)(nil)
var _ filters.OnTextToSpeechRequestFilter = (*RateLimiter)(nil)

// RateLimiter limits speech requests per gateway API key or user. The first
// matching policy applies. Buckets are per policy subject and model.
type RateLimiter struct {
	filters.IsRequestFilter

	shards    []*rateLimitShard
	numShards int
	cancel    context.CancelFunc
	now       func() time.Time

	policies []config.RateLimitPolicy
	mode     config.RateLimitMode

	serverPrefix string

	redisClient rueidis.Client
	metrics     *metrics.Metrics
}

func (rl *RateLimiter) logCommonAttrs() []any {
	return []any{
		slog.String("filter", "rate_limit"),
		slog.String("serverPrefix", rl.serverPrefix),
		slog.String("mode", string(rl.mode)),
	}
}

func NewWithConfig(cfg config.RateLimitConfig, m *metrics.Metrics, lifecycle bootkit.LifeCycle) (filters.RequestFilter, error) {
	ctx, cancel := context.WithCancel(context.Background())

	rl := &RateLimiter{
		shards:       make([]*rateLimitShard, numShards),
		serverPrefix: defaultServerPrefix,
		numShards:    numShards,
		cancel:       cancel,
		now:          time.Now,
		policies:     cfg.Policies,
		mode:         cfg.Mode,
		metrics:      m,
	}

	if rl.mode == "" {
		rl.mode = config.RateLimitModeLocal
	}

	slog.Info("initializing rate limiter", append(rl.logCommonAttrs(), slog.Int("policies", len(rl.policies)))...)

	if rl.mode == config.RateLimitModeRedis {
		redisClient, err := redis.NewRedisClient(cfg.RedisURL)
		if err != nil {
			cancel()
			slog.Error("failed to create redis client", append(rl.logCommonAttrs(), slog.Any("error", err))...)

			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}

		rl.redisClient = redisClient
	} else {
		for i := range numShards {
			rl.shards[i] = &rateLimitShard{
				buckets:        make(map[string]*tokenBucket),
				lastAccessTime: make(map[string]time.Time),
			}
		}

		go rl.cleanupLoop(ctx)
	}

	lifecycle.Append(bootkit.LifeCycleHook{
		HookName: "rate-limiter",
		OnStop: func(ctx context.Context) error {
			slog.Info("stopping rate limiter", rl.logCommonAttrs()...)
			rl.cancel()

			if rl.redisClient != nil {
				rl.redisClient.Close()
			}

			return nil
		},
	})

	return rl, nil
}

func (rl *RateLimiter) OnTextToSpeechRequest(ctx context.Context, request object.LLMRequest, sourceHTTPRequest *http.Request) filters.RequestFilterResult {
	return rl.onRequest(ctx, request)
}

func (rl *RateLimiter) buildKey(basedOn config.RateLimitBasedOn, value string, modelName string) string {
	return fmt.Sprintf("%s:%s:%s:%s", rl.serverPrefix, basedOn, value, modelName)
}

func policySubject(policy config.RateLimitPolicy, apiKeyID, userID string) string {
	switch policy.BasedOn {
	case config.RateLimitBasedOnUser:
		return userID
	case config.RateLimitBasedOnAPIKey, "":
		return apiKeyID
	default:
		return ""
	}
}

func (rl *RateLimiter) findMatchingPolicy(apiKeyID, userID string) (config.RateLimitPolicy, string, bool) {
	for _, policy := range rl.policies {
		value := policySubject(policy, apiKeyID, userID)
		if value == "" {
			continue
		}

		if policy.Match == "" {
			return policy, value, true
		}

		matched, err := doublestar.Match(policy.Match, value)
		if err == nil && matched {
			return policy, value, true
		}
	}

	return config.RateLimitPolicy{}, "", false
}

func (rl *RateLimiter) onRequest(ctx context.Context, request object.LLMRequest) filters.RequestFilterResult {
	rMeta := metadata.RequestMetadataFromCtx(ctx)
	apiKeyID := rMeta.AuthInfo.GetAPIKeyID()
	userID := rMeta.AuthInfo.GetUserID()

	if apiKeyID == "" && userID == "" {
		slog.DebugContext(ctx, "no api key or user found, skipping rate limit", rl.logCommonAttrs()...)
		return filters.NewOK()
	}

	policy, value, ok := rl.findMatchingPolicy(apiKeyID, userID)
	if !ok || policy.Limit <= 0 {
		return filters.NewOK()
	}

	duration := policy.Duration
	if duration <= 0 {
		duration = defaultDuration
	}

	key := rl.buildKey(policy.BasedOn, value, request.GetModel())

	allow, err := rl.checkBucket(ctx, key, duration, policy.Limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to check rate limit", append(rl.logCommonAttrs(), slog.Any("error", err))...)
		return filters.NewFailed(object.NewErrorServiceUnavailable())
	}

	if !allow {
		slog.DebugContext(ctx, "rate limit exceeded", append(
			rl.logCommonAttrs(),
			slog.String("policy", policy.Name),
			slog.String("subject", value),
			slog.String("model", request.GetModel()),
			slog.Int("limit", policy.Limit),
			slog.Duration("duration", duration),
		)...)

		rl.metrics.IncRateLimited(policy.Name)

		return filters.NewFailed(object.NewErrorRateLimitExceeded())
	}

	return filters.NewOK()
}

func (rl *RateLimiter) checkBucket(ctx context.Context, key string, window time.Duration, limit int) (bool, error) {
	if rl.mode == config.RateLimitModeRedis {
		return rl.checkBucketRedis(ctx, key, window, limit)
	}

	return rl.checkBucketLocal(key, window, limit)
}
