package location

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// ReplayProvider serves a fixed sequence of fixes, one per call, then reports ErrNoFix.
// It is used to simulate a drive from a recorded file.
type ReplayProvider struct {
	mu    sync.Mutex
	fixes []Fix
	next  int
}

// NewReplayProvider creates a provider over the given fixes.
func NewReplayProvider(fixes []Fix) *ReplayProvider {
	return &ReplayProvider{fixes: append([]Fix(nil), fixes...)}
}

// LoadReplayProvider reads a JSON array of fixes from path.
func LoadReplayProvider(path string) (*ReplayProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay file: %w", err)
	}
	var fixes []Fix
	if err := json.Unmarshal(data, &fixes); err != nil {
		return nil, fmt.Errorf("failed to decode replay file %s: %w", path, err)
	}
	return NewReplayProvider(fixes), nil
}

// GetLocation returns the next fix in the sequence.
func (r *ReplayProvider) GetLocation(ctx context.Context) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= len(r.fixes) {
		return Fix{}, ErrNoFix
	}
	fix := r.fixes[r.next]
	r.next++
	return fix, nil
}

// Remaining reports how many fixes are left before the sequence is exhausted.
func (r *ReplayProvider) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fixes) - r.next
}

// Close is a no-op.
func (r *ReplayProvider) Close() error {
	return nil
}
