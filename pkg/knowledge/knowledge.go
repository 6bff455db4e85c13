// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package knowledge provides the key/value corpus consulted by agents, the
// factory and the delegator before every completion call.
//
// Retrieval is substring based: an entry matches a prompt when its key
// appears anywhere in the prompt, ignoring case. Matching values are joined
// with newlines in insertion order. Retrieval never fails from the caller's
// point of view; a broken backend degrades to an empty result.
package knowledge

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jllopis/mitosis/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NoInformation is returned by Query when no key matches the prompt.
const NoInformation = "No relevant information found in the knowledge base."

// DefaultLatency is the simulated lookup delay applied to every Query.
const DefaultLatency = 500 * time.Millisecond

// Entry is one key/value pair of the corpus.
type Entry struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Backend persists entries. Implementations must keep insertion order and
// must keep the original position of a key when it is overwritten.
type Backend interface {
	Put(ctx context.Context, e Entry) error
	List(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, key string) error
}

// ResponseKey is the reserved key under which an agent's latest successful
// response is written back.
func ResponseKey(agentID string) string {
	return "response:" + agentID
}

// Store is the knowledge corpus shared by one orchestrator session.
type Store struct {
	backend Backend
	latency time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures a Store.
type Option func(*Store)

// WithLatency sets the simulated lookup delay. Non-positive values keep the default.
func WithLatency(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.latency = d
		}
	}
}

// WithLogger sets the logger used to report degraded lookups.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a store on top of backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		latency: DefaultLatency,
		logger:  slog.Default(),
		tracer:  otel.Tracer("mitosis/knowledge"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemory creates a store backed by process memory.
func NewInMemory(opts ...Option) *Store {
	return New(NewMemoryBackend(), opts...)
}

// AddEntry inserts or overwrites key. Both key and value must be non-empty.
func (s *Store) AddEntry(ctx context.Context, key, value string) error {
	if key == "" || value == "" {
		return errors.NewInvalidInputError("knowledge entry requires a non-empty key and value").
			WithContext("key", key)
	}
	if err := s.backend.Put(ctx, Entry{Key: key, Value: value}); err != nil {
		return errors.NewKnowledgeRetrievalError("put", err).WithContext("key", key)
	}
	return nil
}

// Load upserts entries in order, skipping incomplete ones.
func (s *Store) Load(ctx context.Context, entries []Entry) (int, error) {
	n := 0
	for _, e := range entries {
		if e.Key == "" || e.Value == "" {
			continue
		}
		if err := s.AddEntry(ctx, e.Key, e.Value); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return errors.NewKnowledgeRetrievalError("delete", err).WithContext("key", key)
	}
	return nil
}

// Entries returns a copy of the corpus in insertion order.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	entries, err := s.backend.List(ctx)
	if err != nil {
		return nil, errors.NewKnowledgeRetrievalError("list", err)
	}
	return entries, nil
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return "", false, err
	}
	for _, e := range entries {
		if e.Key == key {
			return e.Value, true, nil
		}
	}
	return "", false, nil
}

// Query returns the newline-joined values of every entry whose key occurs
// in prompt, or NoInformation. It waits for the configured latency first
// and returns an empty string if the backend fails or ctx ends.
func (s *Store) Query(ctx context.Context, prompt string) string {
	ctx, span := s.tracer.Start(ctx, "Knowledge.Query")
	defer span.End()

	timer := time.NewTimer(s.latency)
	select {
	case <-ctx.Done():
		timer.Stop()
		span.SetStatus(codes.Error, "cancelled")
		return ""
	case <-timer.C:
	}

	entries, err := s.backend.List(ctx)
	if err != nil {
		kerr := errors.NewKnowledgeRetrievalError("query", err)
		span.RecordError(kerr)
		span.SetStatus(codes.Error, kerr.Message)
		s.logger.WarnContext(ctx, "knowledge.query.degraded", "error", kerr)
		return ""
	}

	text := Match(entries, prompt)
	span.SetAttributes(
		attribute.Int("knowledge.entries", len(entries)),
		attribute.Bool("knowledge.hit", text != NoInformation),
	)
	return text
}

// Match applies the retrieval rule to entries without any latency.
func Match(entries []Entry, prompt string) string {
	lower := strings.ToLower(prompt)
	var values []string
	for _, e := range entries {
		if strings.Contains(lower, strings.ToLower(e.Key)) {
			values = append(values, e.Value)
		}
	}
	if len(values) == 0 {
		return NoInformation
	}
	return strings.Join(values, "\n")
}
