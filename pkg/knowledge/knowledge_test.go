// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	merrors "github.com/jllopis/mitosis/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return NewInMemory(WithLatency(time.Millisecond))
}

func TestQueryMatchesSubstringCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	require.NoError(t, s.AddEntry(ctx, "Login", "Use OAuth2 with PKCE."))
	require.NoError(t, s.AddEntry(ctx, "database", "Postgres 16."))
	require.NoError(t, s.AddEntry(ctx, "flow", "Keep flows short."))

	got := s.Query(ctx, "Build a LOGIN flow")
	assert.Equal(t, "Use OAuth2 with PKCE.\nKeep flows short.", got)
}

func TestQueryNoMatchReturnsSentinel(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	require.NoError(t, s.AddEntry(ctx, "payments", "Stripe"))

	assert.Equal(t, NoInformation, s.Query(ctx, "build a login flow"))
	assert.Equal(t, NoInformation, newTestStore().Query(ctx, "anything"))
}

func TestQueryIsDeterministic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	require.NoError(t, s.AddEntry(ctx, "a", "one"))
	require.NoError(t, s.AddEntry(ctx, "b", "two"))

	first := s.Query(ctx, "a and b")
	second := s.Query(ctx, "a and b")
	assert.Equal(t, first, second)
}

func TestAddEntryOverwritesInPlace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	require.NoError(t, s.AddEntry(ctx, "first", "1"))
	require.NoError(t, s.AddEntry(ctx, "second", "2"))
	require.NoError(t, s.AddEntry(ctx, "first", "updated"))

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{"first", "updated"}, {"second", "2"}}, entries)
	assert.Equal(t, "updated\n2", s.Query(ctx, "first second"))
}

func TestAddEntryRequiresKeyAndValue(t *testing.T) {
	s := newTestStore()
	for _, tc := range []struct{ key, value string }{{"", "v"}, {"k", ""}} {
		err := s.AddEntry(context.Background(), tc.key, tc.value)
		assert.True(t, merrors.IsCode(err, merrors.CodeInvalidInput), "key=%q value=%q: %v", tc.key, tc.value, err)
	}
}

func TestRemoveAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	require.NoError(t, s.AddEntry(ctx, "a", "1"))
	require.NoError(t, s.AddEntry(ctx, "b", "2"))
	require.NoError(t, s.AddEntry(ctx, "c", "3"))

	require.NoError(t, s.Remove(ctx, "b"))
	require.NoError(t, s.Remove(ctx, "missing"))

	_, ok, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err := s.Get(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	require.NoError(t, s.AddEntry(ctx, "c", "33"))
	entries, _ := s.Entries(ctx)
	assert.Equal(t, []Entry{{"a", "1"}, {"c", "33"}}, entries)
}

type failingBackend struct{ *MemoryBackend }

func (failingBackend) List(context.Context) ([]Entry, error) {
	return nil, errors.New("backend offline")
}

func TestQueryDegradesToEmptyOnBackendFailure(t *testing.T) {
	s := New(failingBackend{NewMemoryBackend()}, WithLatency(time.Millisecond))
	assert.Equal(t, "", s.Query(context.Background(), "anything"))

	_, err := s.Entries(context.Background())
	assert.True(t, merrors.IsCode(err, merrors.CodeKnowledgeRetrieval))
}

func TestQuerySimulatesLatency(t *testing.T) {
	s := NewInMemory(WithLatency(20 * time.Millisecond))
	start := time.Now()
	s.Query(context.Background(), "x")
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueryHonoursCancellation(t *testing.T) {
	s := NewInMemory(WithLatency(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, "", s.Query(ctx, "x"))
}

func TestNonPositiveLatencyKeepsDefault(t *testing.T) {
	s := NewInMemory(WithLatency(0))
	assert.Equal(t, DefaultLatency, s.latency)
}

func TestResponseKey(t *testing.T) {
	assert.Equal(t, "response:abc", ResponseKey("abc"))
}

func TestParseSeed(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Entry
		wantErr bool
	}{
		{
			name:  "yaml mapping keeps order",
			input: "zeta: last letter\nalpha: first letter\n",
			want:  []Entry{{"zeta", "last letter"}, {"alpha", "first letter"}},
		},
		{
			name:  "json mapping",
			input: `{"login": "use oauth", "db": "postgres"}`,
			want:  []Entry{{"login", "use oauth"}, {"db", "postgres"}},
		},
		{
			name:  "list of entries",
			input: "- key: a\n  value: one\n- key: b\n  value: two\n",
			want:  []Entry{{"a", "one"}, {"b", "two"}},
		},
		{name: "empty", input: "  \n", want: nil},
		{name: "nested value", input: "a:\n  b: c\n", wantErr: true},
		{name: "scalar root", input: "just text", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSeed([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("login: use oauth\nempty: \"\"\n"), 0o600))

	s := newTestStore()
	n, err := s.LoadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "use oauth", s.Query(context.Background(), "login page"))
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: one\n"), 0o600))

	s := newTestStore()
	w, err := NewWatcher(s, path, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)

	reloaded := make(chan int, 4)
	w.OnReload(func(n int, err error) {
		if err != nil {
			return
		}
		select {
		case reloaded <- n:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("a: one\nb: two\n"), 0o600))

	select {
	case n := <-reloaded:
		assert.Equal(t, 2, n)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload the seed file")
	}

	v, ok, err := s.Get(context.Background(), "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", v)
}
