/*
 * Copyright 2024 caiflower Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package limiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket 令牌桶，qps为每秒放入的令牌数，burst为桶容量
type TokenBucket struct {
	qps     int
	limiter *rate.Limiter
}

func NewTokenBucket(qps, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{
		qps:     qps,
		limiter: rate.NewLimiter(rate.Limit(qps), burst),
	}
}

func (b *TokenBucket) QPS() int {
	return b.qps
}

// Wait 阻塞直到拿到令牌或ctx结束
func (b *TokenBucket) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

func (b *TokenBucket) TakeTokenNonBlocking() bool {
	return b.limiter.Allow()
}

func (b *TokenBucket) TakeTokenWithTimeout(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return b.limiter.Wait(ctx) == nil
}
