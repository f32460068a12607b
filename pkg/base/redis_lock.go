// Copyright 2024 zhengshuai.xiao@outlook.com
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
package base

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wan13323312/cloud-drive/internal"
)

var (
	logger = internal.GetLogger("base")

	// ErrLockTimeout is returned when a lock could not be acquired before the deadline.
	ErrLockTimeout = errors.New("timed out waiting for lock")
)

const (
	// lockExpiry is the default duration for which a lock is held before it expires.
	// It must be long enough for the operation to complete.
	lockExpiry = 30 * time.Second

	// renewalInterval is the interval at which the lock's expiry is renewed.
	// It should be significantly shorter than lockExpiry.
	renewalInterval = 10 * time.Second

	// lockRetryInterval is the time to wait before retrying to acquire a lock.
	lockRetryInterval = 100 * time.Millisecond
)

// Lua script to release a write lock.
// It checks if the lock is held by the current owner before deleting it.
// KEYS[1]: The lock key
// ARGV[1]: The owner ID
const releaseWriteLockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`

// Lua script to renew a write lock.
// It checks if the lock is held by the current owner before extending its expiry.
// KEYS[1]: The lock key
// ARGV[1]: The owner ID
// ARGV[2]: The new expiry in milliseconds
const renewWriteLockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("pexpire", KEYS[1], ARGV[2])
else
    return 0
end
`

// RedisLock is a distributed mutex on a single resource, backed by Redis.
// It is used to serialize multi-step mutations on one file hash (mapping
// batch replace or delete) across processes.
type RedisLock struct {
	key        string // The key for the lock in Redis.
	ownerID    string // A unique ID for this lock instance.
	rdb        redis.UniversalClient
	cancelFunc context.CancelFunc // To stop the background renewal goroutine.
}

// NewRedisLock creates a new distributed lock instance for a specific resource.
func NewRedisLock(rdb redis.UniversalClient, scope, resource string) *RedisLock {
	return &RedisLock{
		key:     fmt.Sprintf("lock:write:%s:%s", scope, resource),
		ownerID: uuid.NewString(),
		rdb:     rdb,
	}
}

// GetLock attempts to acquire the lock. It blocks until the lock is acquired,
// the timeout elapses, or the context is cancelled.
func (l *RedisLock) GetLock(ctx context.Context, timeout time.Duration) error {
	logger.Tracef("Attempting to acquire write lock for key: %s", l.key)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		acquired, err := l.rdb.SetNX(ctx, l.key, l.ownerID, lockExpiry).Result()
		if err != nil {
			logger.Errorf("Error acquiring lock for key %s: %v", l.key, err)
			return err
		}

		if acquired {
			// Lock acquired, start background renewal.
			var renewalCtx context.Context
			renewalCtx, l.cancelFunc = context.WithCancel(context.Background())
			go l.renew(renewalCtx)
			logger.Tracef("Successfully acquired lock for key: %s", l.key)
			return nil
		}

		// Lock not acquired, wait and retry.
		select {
		case <-time.After(lockRetryInterval):
			// continue loop
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return ErrLockTimeout
}

// renew runs in a background goroutine to periodically extend the lock's TTL.
func (l *RedisLock) renew(ctx context.Context) {
	ticker := time.NewTicker(renewalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// The lock was released, or the context was cancelled.
			logger.Tracef("Stopping renewal for lock: %s", l.key)
			return
		case <-ticker.C:
			// Extend the lock's expiration.
			// Use a script to ensure we only extend the lock if we still own it.
			err := l.rdb.Eval(ctx, renewWriteLockScript, []string{l.key}, l.ownerID, lockExpiry.Milliseconds()).Err()
			if err != nil {
				logger.Warnf("Failed to renew lock for key %s: %v. The lock may have expired or been lost.", l.key, err)
				// Stop trying to renew if there's an error.
				return
			}
			logger.Tracef("Successfully renewed lock for key: %s", l.key)
		}
	}
}

// Unlock releases the lock.
func (l *RedisLock) Unlock() {
	if l.cancelFunc != nil {
		l.cancelFunc() // Stop the renewal goroutine.
	}
	// Use Lua script to release the lock atomically and safely.
	_, err := l.rdb.Eval(context.Background(), releaseWriteLockScript, []string{l.key}, l.ownerID).Result()
	if err != nil {
		logger.Errorf("Failed to release write lock for key %s: %v", l.key, err)
	} else {
		logger.Tracef("Successfully released write lock for key: %s", l.key)
	}
}
