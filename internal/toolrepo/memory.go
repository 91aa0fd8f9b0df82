// File: internal/toolrepo/memory.go
// Description: In-memory tool repository for local runs and tests. Similarity
// search is naive token overlap between the query and each description,
// which is enough to keep the retrieval path exercised without a database.

package toolrepo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xkilldash9x/strata-cli/api/schemas"
)

// MemoryRepo is a process-local schemas.ToolRepository.
type MemoryRepo struct {
	mu    sync.RWMutex
	tools map[string]schemas.Tool
}

// NewMemory creates an empty repository.
func NewMemory() *MemoryRepo {
	return &MemoryRepo{tools: make(map[string]schemas.Tool)}
}

func (r *MemoryRepo) Exists(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[id]
	return ok, nil
}

func (r *MemoryRepo) Add(_ context.Context, tool schemas.Tool) error {
	if tool.ID == "" {
		return fmt.Errorf("tool id must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.ID] = tool
	return nil
}

func (r *MemoryRepo) GetCode(_ context.Context, id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[id]
	if !ok {
		return "", fmt.Errorf("tool %q: %w", id, ErrToolNotFound)
	}
	return tool.Code, nil
}

func (r *MemoryRepo) GetDescription(_ context.Context, id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[id]
	if !ok {
		return "", fmt.Errorf("tool %q: %w", id, ErrToolNotFound)
	}
	return tool.Description, nil
}

// SimilaritySearch scores each tool by how many query tokens its description
// contains and returns the top k ids. Ties break lexicographically so results
// are stable.
func (r *MemoryRepo) SimilaritySearch(_ context.Context, query string, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}

	tokens := strings.Fields(strings.ToLower(query))

	type scored struct {
		id    string
		score int
	}

	r.mu.RLock()
	candidates := make([]scored, 0, len(r.tools))
	for id, tool := range r.tools {
		desc := strings.ToLower(tool.Description)
		score := 0
		for _, tok := range tokens {
			if strings.Contains(desc, tok) {
				score++
			}
		}
		if score > 0 {
			candidates = append(candidates, scored{id: id, score: score})
		}
	}
	r.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids, nil
}
