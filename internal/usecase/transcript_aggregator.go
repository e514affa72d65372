package usecase

import (
	"sync"

	"livechat/internal/domain"
)

// transcriptAggregator merges incremental fragments from both speakers into
// turn-delimited entries.
type transcriptAggregator struct {
	mu      sync.Mutex
	entries []domain.TranscriptionEntry
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

// Add appends text to the last entry when it belongs to the same speaker and
// is still open, and starts a new entry otherwise.
func (a *transcriptAggregator) Add(fragment domain.TranscriptFragment) bool {
	if fragment.Text == "" {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.entries); n > 0 {
		last := &a.entries[n-1]
		if last.Speaker == fragment.Speaker && !last.IsFinal {
			last.Text += fragment.Text
			return true
		}
	}
	a.entries = append(a.entries, domain.TranscriptionEntry{
		Speaker: fragment.Speaker,
		Text:    fragment.Text,
	})
	return true
}

// CompleteTurn finalizes every entry, not only the last one.
func (a *transcriptAggregator) CompleteTurn() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.entries {
		a.entries[i].IsFinal = true
	}
}

func (a *transcriptAggregator) Entries() []domain.TranscriptionEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.TranscriptionEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

func (a *transcriptAggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = nil
}
