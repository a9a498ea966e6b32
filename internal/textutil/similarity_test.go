package textutil

import (
	"math"
	"testing"
)

func TestCosineSimilarityNil(t *testing.T) {
	tests := []struct {
		name string
		a    Fingerprint
		b    Fingerprint
	}{
		{"both nil", nil, nil},
		{"a nil", nil, NewFingerprint("hello world")},
		{"b nil", NewFingerprint("hello world"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); got != 0 {
				t.Errorf("CosineSimilarity() = %v, want 0", got)
			}
		})
	}
}

func TestCosineSimilarityIdentical(t *testing.T) {
	text := "A paper boat drifts across a moonlit pond"
	got := CosineSimilarity(NewFingerprint(text), NewFingerprint(text))
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("CosineSimilarity(identical) = %v, want 1.0", got)
	}
}

func TestCosineSimilarityDisjoint(t *testing.T) {
	got := CosineSimilarity(NewFingerprint("apple banana cherry"), NewFingerprint("dog elephant frog"))
	if got != 0 {
		t.Errorf("CosineSimilarity(different) = %v, want 0", got)
	}
}

func TestCosineSimilaritySymmetric(t *testing.T) {
	a := NewFingerprint("rocket launches over the desert at dawn")
	b := NewFingerprint("desert sunrise with a rocket")
	if ab, ba := CosineSimilarity(a, b), CosineSimilarity(b, a); math.Abs(ab-ba) > 1e-12 {
		t.Fatalf("expected symmetric similarity, got %v vs %v", ab, ba)
	}
}

func TestTokenizeNormalizesAndDropsShortTokens(t *testing.T) {
	got := Tokenize("Ｆｕｌｌ-width TEXT, an ox!")
	want := []string{"full", "width", "text"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tokenize = %v, want %v", got, want)
		}
	}
}

func TestNewFingerprintEmpty(t *testing.T) {
	if fp := NewFingerprint("a b ?"); fp != nil {
		t.Fatalf("expected nil fingerprint, got %+v", fp)
	}
	if NewFingerprint("").TokenCount() != 0 {
		t.Fatal("expected zero token count for nil fingerprint")
	}
}

func TestBestMatchPrefersOverlappingReference(t *testing.T) {
	refs := []string{
		"Cats chase a laser pointer around the kitchen",
		"A timelapse of clouds rolling over mountains",
		"Explainer on how volcanoes form",
	}
	match, ok := BestMatch("Clouds rolling across the mountains in timelapse", refs)
	if !ok {
		t.Fatal("expected a match")
	}
	if match.Index != 1 {
		t.Fatalf("expected reference 1, got %d (score %.3f)", match.Index, match.Score)
	}
	if match.Score <= 0.5 {
		t.Fatalf("expected a strong score, got %.3f", match.Score)
	}
	if _, ok := BestMatch("zebra quartz", refs); ok {
		t.Fatal("expected no match for disjoint text")
	}
}
