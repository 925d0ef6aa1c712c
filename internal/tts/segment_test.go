package tts

import (
	"strings"
	"testing"
)

func TestSegment_Empty(t *testing.T) {
	if got := Segment("", 2); len(got) != 0 {
		t.Errorf("Segment(empty) = %v", got)
	}
	if got := Segment("   \n  ", 2); len(got) != 0 {
		t.Errorf("Segment(whitespace) = %v", got)
	}
}

func TestSegment_ShortSingleSentence(t *testing.T) {
	got := Segment("Hello there.", 2)
	if len(got) != 1 || got[0] != "Hello there." {
		t.Errorf("Segment = %v", got)
	}
}

func TestSegment_PacksTwoSentences(t *testing.T) {
	got := Segment("One. Two. Three. Four.", 2)
	if len(got) != 2 {
		t.Fatalf("Segment = %v, want 2 segments", got)
	}
	if got[0] != "One. Two." || got[1] != "Three. Four." {
		t.Errorf("Segment = %v", got)
	}
}

func TestSegment_FlushesAtTokenTarget(t *testing.T) {
	// Each sentence is ~17 tokens, so one sentence per segment.
	s := strings.Repeat("word ", 13) + "end."
	got := Segment(s+" "+s, 2)
	if len(got) != 2 {
		t.Errorf("Segment = %d segments, want 2: %v", len(got), got)
	}
}

func TestSegment_LongSentenceSplitsAtWhitespace(t *testing.T) {
	// One long sentence, no internal terminator.
	s := strings.Repeat("verylongword ", 20) + "tail"
	got := Segment(s, 2)
	if len(got) < 2 {
		t.Fatalf("Segment = %v, want multiple", got)
	}
	for i, seg := range got {
		if len(seg) > maxSegmentTokens*charsPerToken {
			t.Errorf("segment %d too long (%d chars): %q", i, len(seg), seg)
		}
		if strings.HasPrefix(seg, " ") || strings.HasSuffix(seg, " ") {
			t.Errorf("segment %d not trimmed: %q", i, seg)
		}
	}
	// Nothing lost: rejoining covers every word.
	joined := strings.Join(got, " ")
	if strings.Count(joined, "verylongword") != 20 {
		t.Errorf("words lost in segmentation: %q", joined)
	}
}

func TestSegment_HardSplitWithoutWhitespace(t *testing.T) {
	s := strings.Repeat("x", 350)
	got := Segment(s, 2)
	if len(got) < 3 {
		t.Fatalf("Segment = %d segments, want at least 3", len(got))
	}
	total := 0
	for _, seg := range got {
		total += len(seg)
	}
	if total != 350 {
		t.Errorf("total chars = %d, want 350", total)
	}
}

func TestSegment_NewlineTerminates(t *testing.T) {
	got := Segment("First line\nSecond line\n", 1)
	if len(got) != 2 {
		t.Fatalf("Segment = %v", got)
	}
	if got[0] != "First line" || got[1] != "Second line" {
		t.Errorf("Segment = %v", got)
	}
}
