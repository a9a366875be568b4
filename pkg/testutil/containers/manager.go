//go:build integration

// Package containers starts the shared testcontainers used by integration
// tests. Each container is started once per test binary and reused across
// suites; Ryuk removes them when the process exits.
package containers

import (
	"context"
	"sync"
	"time"
)

const startupTimeout = 2 * time.Minute

type containerManager struct {
	redisOnce sync.Once
	redisC    *RedisContainer
	redisErr  error

	postgresOnce sync.Once
	postgresC    *PostgresContainer
	postgresErr  error

	redpandaOnce sync.Once
	redpandaC    *RedpandaContainer
	redpandaErr  error
}

var manager containerManager

func (m *containerManager) redis() (*RedisContainer, error) {
	m.redisOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()
		m.redisC, m.redisErr = startRedis(ctx)
	})
	return m.redisC, m.redisErr
}

func (m *containerManager) postgres() (*PostgresContainer, error) {
	m.postgresOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()
		m.postgresC, m.postgresErr = startPostgres(ctx)
	})
	return m.postgresC, m.postgresErr
}

func (m *containerManager) redpanda() (*RedpandaContainer, error) {
	m.redpandaOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()
		m.redpandaC, m.redpandaErr = startRedpanda(ctx)
	})
	return m.redpandaC, m.redpandaErr
}
