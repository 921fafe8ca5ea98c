package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	defaultAttempts = 3
	defaultDelay    = 5 * time.Second
)

// Policy 控制单个外部调用的重试节奏。
type Policy struct {
	Attempts int
	Delay    time.Duration
}

func (p Policy) normalize() Policy {
	if p.Attempts <= 0 {
		p.Attempts = defaultAttempts
	}
	if p.Delay <= 0 {
		p.Delay = defaultDelay
	}
	return p
}

// Do 以有限次数执行外部操作，失败后等待 Delay 再试。
// ctx 在每次尝试前与等待期间都会被检查，取消时立即返回 ctx.Err()，
// 不会继续剩余的尝试。所有失败路径都通过返回值表达，Do 本身不会 panic。
func Do[T any](ctx context.Context, operation string, policy Policy, logger *zap.Logger, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = zap.NewNop()
	}

	policy = policy.normalize()

	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			logger.Info("操作在重试前被取消", zap.String("operation", operation), zap.Int("attempt", attempt))
			return zero, fmt.Errorf("retry: %s 已取消: %w", operation, err)
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("外部调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
				)
			}
			return result, nil
		}

		lastErr = err
		if attempt < policy.Attempts {
			logger.Warn("外部调用失败，准备重试",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Duration("wait", policy.Delay),
				zap.Error(err),
			)

			select {
			case <-ctx.Done():
				logger.Info("操作在重试等待期间被取消", zap.String("operation", operation))
				return zero, fmt.Errorf("retry: %s 已取消: %w", operation, ctx.Err())
			case <-time.After(policy.Delay):
			}
		}
	}

	logger.Error("外部调用在用尽重试次数后仍失败",
		zap.String("operation", operation),
		zap.Int("attempts", policy.Attempts),
		zap.Error(lastErr),
	)
	return zero, fmt.Errorf("retry: %s 在 %d 次尝试后仍失败: %w", operation, policy.Attempts, lastErr)
}
