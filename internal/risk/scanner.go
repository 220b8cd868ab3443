/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"custody-wallet-core/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	DefaultScanTimeout = 3 * time.Second
	DefaultCacheWindow = 10 * time.Minute
)

// ScannerConfig tunes a Scanner. Zero values fall back to defaults; a zero
// RatePerSecond disables rate limiting.
type ScannerConfig struct {
	Timeout       time.Duration
	CacheWindow   time.Duration
	RatePerSecond float64
	Burst         int
}

type cacheEntry struct {
	assessment models.Assessment
	storedAt   time.Time
}

// Scanner fronts an Oracle with a per-call timeout, a result cache, request
// coalescing and a rate limit.
type Scanner struct {
	oracle  Oracle
	timeout time.Duration
	window  time.Duration
	limiter *rate.Limiter
	group   singleflight.Group
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewScanner(oracle Oracle, cfg ScannerConfig) *Scanner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultScanTimeout
	}
	if cfg.CacheWindow <= 0 {
		cfg.CacheWindow = DefaultCacheWindow
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Scanner{
		oracle:  oracle,
		timeout: cfg.Timeout,
		window:  cfg.CacheWindow,
		limiter: limiter,
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
}

// WithClock replaces the clock used for cache expiry
func (s *Scanner) WithClock(now func() time.Time) *Scanner {
	s.now = now
	return s
}

// ScanAddress returns the risk assessment of address. Results are cached for
// the configured window. Concurrent scans of the same address share one oracle
// call, and abandoning ctx releases the caller without cancelling that call.
func (s *Scanner) ScanAddress(ctx context.Context, address string) (models.Assessment, error) {
	key := normalize(address)
	if key == "" {
		return models.Assessment{}, fmt.Errorf("%w: address is required", models.ErrValidation)
	}
	if cached, ok := s.cached(key); ok {
		return cached, nil
	}

	ch := s.group.DoChan(key, func() (interface{}, error) {
		scanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		if err := s.limiter.Wait(scanCtx); err != nil {
			return models.Assessment{}, fmt.Errorf("%w: risk scan rate limited: %w", models.ErrNetwork, err)
		}
		assessment, err := s.oracle.Assess(scanCtx, address)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return models.Assessment{}, fmt.Errorf("%w: risk scan timed out after %s", models.ErrNetwork, s.timeout)
			}
			return models.Assessment{}, fmt.Errorf("%w: risk scan failed: %w", models.ErrNetwork, err)
		}
		s.store(key, assessment)
		return assessment, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			zap.L().Warn("Risk scan failed", zap.String("address", address), zap.Error(res.Err))
			return models.Assessment{}, res.Err
		}
		assessment := res.Val.(models.Assessment)
		assessment.Reasons = append([]string(nil), assessment.Reasons...)
		return assessment, nil
	case <-ctx.Done():
		return models.Assessment{}, fmt.Errorf("%w: risk scan abandoned: %w", models.ErrNetwork, ctx.Err())
	}
}

func (s *Scanner) cached(key string) (models.Assessment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[key]
	if !ok || s.now().Sub(entry.storedAt) >= s.window {
		return models.Assessment{}, false
	}
	out := entry.assessment
	out.Reasons = append([]string(nil), out.Reasons...)
	return out, true
}

func (s *Scanner) store(key string, assessment models.Assessment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = cacheEntry{assessment: assessment, storedAt: s.now()}
}

// Invalidate drops the cached result for address
func (s *Scanner) Invalidate(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, normalize(address))
}

// Prune removes cache entries older than the window and returns how many were dropped
func (s *Scanner) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	dropped := 0
	for key, entry := range s.cache {
		if now.Sub(entry.storedAt) >= s.window {
			delete(s.cache, key)
			dropped++
		}
	}
	return dropped
}
