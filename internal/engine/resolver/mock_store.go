package resolver

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dsl-ob-poc/internal/engine/registry"
)

// MockRecord is a single in-memory record for MockStore, mirroring the
// columns a real backing table would expose.
type MockRecord struct {
	ID        uuid.UUID
	Name      string
	Code      string
	CreatedAt time.Time
}

// MockStore is an in-memory Store implementation, following the teacher's
// internal/mocks/mock_store.go adapter shape (a mutex-guarded in-memory
// map standing in for the Postgres-backed store) so the resolver can be
// exercised without a database in tests and in "mock mode" (§10.4, §6.3).
type MockStore struct {
	mu      sync.RWMutex
	records map[registry.RefType][]MockRecord
}

func NewMockStore() *MockStore {
	return &MockStore{records: make(map[registry.RefType][]MockRecord)}
}

// Seed adds a record for refType, for test setup.
func (s *MockStore) Seed(refType registry.RefType, rec MockRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[refType] = append(s.records[refType], rec)
}

func (s *MockStore) ExactByUUID(ctx context.Context, refType registry.RefType, id uuid.UUID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records[refType] {
		if rec.ID == id {
			return rec.Name, nil
		}
	}
	return "", sql.ErrNoRows
}

func (s *MockStore) ExactByCode(ctx context.Context, refType registry.RefType, code string) (uuid.UUID, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records[refType] {
		if strings.EqualFold(rec.Code, code) {
			return rec.ID, rec.Name, nil
		}
	}
	return uuid.Nil, "", sql.ErrNoRows
}

func (s *MockStore) FuzzyByName(ctx context.Context, refType registry.RefType, text string, threshold float64, maxSuggestions int) ([]SuggestedMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []SuggestedMatch
	for _, rec := range s.records[refType] {
		score := trigramSimilarity(strings.ToLower(rec.Name), strings.ToLower(text))
		if score >= threshold {
			matches = append(matches, SuggestedMatch{ID: rec.ID, Display: rec.Name, Similarity: score, CreatedAt: rec.CreatedAt})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	if len(matches) > maxSuggestions {
		matches = matches[:maxSuggestions]
	}
	return matches, nil
}

// trigramSimilarity is a dependency-free approximation of Postgres's
// pg_trgm similarity() used by MockStore (and by tests), following the
// shape of the teacher's hand-rolled calculateSimilarity/
// levenshteinDistance helpers in entity_resolver.go: exact match scores
// 1.0, substring match is boosted, otherwise trigram set overlap.
func trigramSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0
	}
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		if strings.Contains(a, b) || strings.Contains(b, a) {
			return 0.7
		}
		return 0
	}
	shared := 0
	seen := map[string]int{}
	for _, t := range ta {
		seen[t]++
	}
	for _, t := range tb {
		if seen[t] > 0 {
			shared++
			seen[t]--
		}
	}
	union := len(ta) + len(tb) - shared
	if union == 0 {
		return 0
	}
	score := float64(shared) / float64(union)
	if strings.Contains(a, b) || strings.Contains(b, a) {
		score *= 1.2
		if score > 1.0 {
			score = 1.0
		}
	}
	return score
}

func trigrams(s string) []string {
	padded := "  " + s + " "
	if len(padded) < 3 {
		return nil
	}
	out := make([]string, 0, len(padded)-2)
	for i := 0; i+3 <= len(padded); i++ {
		out = append(out, padded[i:i+3])
	}
	return out
}
