package facts

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Budgets bound how many facts a single scope may hold. Thread scope is the
// tightest since threads are short-lived; channel scope the loosest.
type Budgets struct {
	Thread  int
	Epic    int
	Channel int
}

func DefaultBudgets() Budgets {
	return Budgets{Thread: 64, Epic: 128, Channel: 256}
}

func (b Budgets) For(scope Scope) int {
	switch scope {
	case ScopeThread:
		return b.Thread
	case ScopeEpic:
		return b.Epic
	case ScopeChannel:
		return b.Channel
	}
	return b.Thread
}

// Service wraps a Store with canonical-id computation and budget eviction.
type Service struct {
	store   Store
	budgets Budgets
}

func NewService(store Store, budgets Budgets) *Service {
	return &Service{store: store, budgets: budgets}
}

// Record stores a claim, merging duplicates and evicting over-budget scopes.
// The returned bool is true when a genuinely new fact was created.
func (s *Service) Record(ctx context.Context, tenantID string, factType FactType, scope Scope, scopeID, text string, confidence float64, sourceTS time.Time) (bool, error) {
	f := &Fact{
		CanonicalID: CanonicalID(text, scope, factType),
		TenantID:    tenantID,
		Type:        factType,
		Scope:       scope,
		ScopeID:     scopeID,
		Text:        strings.TrimSpace(text),
		Confidence:  confidence,
		SourceTS:    sourceTS,
	}
	created, err := s.store.Upsert(ctx, f)
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}

	budget := s.budgets.For(scope)
	count, err := s.store.CountByScope(ctx, tenantID, scope, scopeID)
	if err != nil {
		// Eviction is best-effort: a failed count must not fail the write.
		log.Warn().Err(err).Str("scope", string(scope)).Str("scope_id", scopeID).Msg("fact budget check failed")
		return true, nil
	}
	if count > budget {
		removed, err := s.store.DeleteWeakest(ctx, tenantID, scope, scopeID, count-budget)
		if err != nil {
			log.Warn().Err(err).Str("scope", string(scope)).Str("scope_id", scopeID).Msg("fact eviction failed")
			return true, nil
		}
		log.Debug().Int("removed", removed).Str("scope", string(scope)).Str("scope_id", scopeID).Msg("evicted facts over budget")
	}
	return true, nil
}

type ranked struct {
	f     *Fact
	score float64
}

// FetchRelevant ranks a scope's facts against a query text: term overlap plus
// confidence and recency boosts. Used to pull the top-k facts into LLM
// context without ever shipping a whole transcript.
func (s *Service) FetchRelevant(ctx context.Context, tenantID string, scope Scope, scopeID, query string, limit int) ([]*Fact, error) {
	items, err := s.store.ListByScope(ctx, tenantID, scope, scopeID)
	if err != nil {
		return nil, err
	}

	terms := map[string]int{}
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) < 3 {
			continue
		}
		terms[w]++
	}

	var arr []ranked
	for _, it := range items {
		text := strings.ToLower(it.Text)
		score := 0.0
		for term, weight := range terms {
			if strings.Contains(text, term) {
				score += float64(weight)
			}
		}
		score += it.Confidence * 2.0
		if time.Since(it.UpdatedAt) < 24*time.Hour {
			score += 0.5
		}
		if score > 0 {
			arr = append(arr, ranked{f: it, score: score})
		}
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].score > arr[j].score })
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]*Fact, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, arr[i].f)
	}
	return out, nil
}
