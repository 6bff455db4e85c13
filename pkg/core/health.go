// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthResult represents the result of a health check.
type HealthResult struct {
	Status    HealthStatus `json:"status"`
	Component string       `json:"component"`
	Message   string       `json:"message,omitempty"`
	LastCheck time.Time    `json:"lastCheck"`
}

// HealthChecker checks the health of a component.
type HealthChecker interface {
	Check(ctx context.Context) HealthResult
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) HealthResult

// Check implements HealthChecker.
func (f HealthCheckFunc) Check(ctx context.Context) HealthResult {
	r := f(ctx)
	if r.LastCheck.IsZero() {
		r.LastCheck = time.Now().UTC()
	}
	return r
}

// ErrorCheck turns a ping-style function into a checker: nil is healthy,
// an error is unhealthy.
func ErrorCheck(ping func(ctx context.Context) error) HealthChecker {
	return HealthCheckFunc(func(ctx context.Context) HealthResult {
		if err := ping(ctx); err != nil {
			return HealthResult{Status: HealthUnhealthy, Message: err.Error()}
		}
		return HealthResult{Status: HealthHealthy}
	})
}

// Health aggregates named checkers.
type Health struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewHealth returns an empty registry.
func NewHealth() *Health {
	return &Health{checkers: make(map[string]HealthChecker)}
}

// Register adds or replaces the checker for name.
func (h *Health) Register(name string, c HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = c
}

// Check runs a single named checker.
func (h *Health) Check(ctx context.Context, name string) (HealthResult, error) {
	h.mu.RLock()
	c, ok := h.checkers[name]
	h.mu.RUnlock()
	if !ok {
		return HealthResult{}, fmt.Errorf("checker not registered: %s", name)
	}
	r := c.Check(ctx)
	r.Component = name
	return r, nil
}

// CheckAll runs every checker, sorted by name. The overall status is the
// worst individual one.
func (h *Health) CheckAll(ctx context.Context) ([]HealthResult, HealthStatus) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	overall := HealthHealthy
	results := make([]HealthResult, 0, len(names))
	for _, name := range names {
		r, err := h.Check(ctx, name)
		if err != nil {
			continue
		}
		results = append(results, r)
		switch r.Status {
		case HealthUnhealthy:
			overall = HealthUnhealthy
		case HealthDegraded:
			if overall == HealthHealthy {
				overall = HealthDegraded
			}
		}
	}
	return results, overall
}
