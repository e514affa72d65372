package usecase

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"livechat/internal/domain"
)

func TestTranscriptAggregatorMergesAndFinalizesTurns(t *testing.T) {
	t.Parallel()

	agg := newTranscriptAggregator()
	agg.Add(domain.TranscriptFragment{Speaker: domain.SpeakerUser, Text: "He"})
	agg.Add(domain.TranscriptFragment{Speaker: domain.SpeakerUser, Text: "llo"})
	agg.CompleteTurn()

	want := []domain.TranscriptionEntry{{Speaker: domain.SpeakerUser, Text: "Hello", IsFinal: true}}
	if diff := cmp.Diff(want, agg.Entries()); diff != "" {
		t.Fatalf("unexpected entries after turn (-want +got):\n%s", diff)
	}

	agg.Add(domain.TranscriptFragment{Speaker: domain.SpeakerModel, Text: "Hi"})
	want = append(want, domain.TranscriptionEntry{Speaker: domain.SpeakerModel, Text: "Hi"})
	if diff := cmp.Diff(want, agg.Entries()); diff != "" {
		t.Fatalf("unexpected entries after model fragment (-want +got):\n%s", diff)
	}
}

func TestTranscriptAggregatorStartsNewEntryOnSpeakerChange(t *testing.T) {
	t.Parallel()

	agg := newTranscriptAggregator()
	agg.Add(domain.TranscriptFragment{Speaker: domain.SpeakerUser, Text: "What "})
	agg.Add(domain.TranscriptFragment{Speaker: domain.SpeakerModel, Text: "Sure"})
	agg.Add(domain.TranscriptFragment{Speaker: domain.SpeakerUser, Text: "time?"})

	want := []domain.TranscriptionEntry{
		{Speaker: domain.SpeakerUser, Text: "What "},
		{Speaker: domain.SpeakerModel, Text: "Sure"},
		{Speaker: domain.SpeakerUser, Text: "time?"},
	}
	if diff := cmp.Diff(want, agg.Entries()); diff != "" {
		t.Fatalf("unexpected entries (-want +got):\n%s", diff)
	}
}

func TestTranscriptAggregatorCompleteTurnFinalizesWholeHistory(t *testing.T) {
	t.Parallel()

	agg := newTranscriptAggregator()
	agg.Add(domain.TranscriptFragment{Speaker: domain.SpeakerUser, Text: "a"})
	agg.Add(domain.TranscriptFragment{Speaker: domain.SpeakerModel, Text: "b"})
	agg.CompleteTurn()

	for i, entry := range agg.Entries() {
		if !entry.IsFinal {
			t.Fatalf("entry %d not finalized", i)
		}
	}

	agg.Add(domain.TranscriptFragment{Speaker: domain.SpeakerModel, Text: "c"})
	entries := agg.Entries()
	if len(entries) != 3 || entries[2].Text != "c" {
		t.Fatalf("expected a new entry after a final one, got %+v", entries)
	}
}

func TestTranscriptAggregatorIgnoresEmptyAndResets(t *testing.T) {
	t.Parallel()

	agg := newTranscriptAggregator()
	if agg.Add(domain.TranscriptFragment{Speaker: domain.SpeakerUser, Text: ""}) {
		t.Fatalf("expected empty fragment to be ignored")
	}
	agg.Add(domain.TranscriptFragment{Speaker: domain.SpeakerUser, Text: "x"})
	agg.Reset()
	if got := agg.Entries(); len(got) != 0 {
		t.Fatalf("expected empty after reset, got %+v", got)
	}
}

func TestTranscriptAggregatorEntriesIsSnapshot(t *testing.T) {
	t.Parallel()

	agg := newTranscriptAggregator()
	agg.Add(domain.TranscriptFragment{Speaker: domain.SpeakerUser, Text: "x"})
	snapshot := agg.Entries()
	snapshot[0].Text = "mutated"

	if got := agg.Entries()[0].Text; got != "x" {
		t.Fatalf("snapshot mutation leaked into aggregator: %q", got)
	}
}
