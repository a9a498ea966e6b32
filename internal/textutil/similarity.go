package textutil

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Fingerprint is a sparse term weight vector. A nil Fingerprint has no terms.
type Fingerprint map[string]float64

// Tokenize normalizes text and keeps words of three or more runes.
func Tokenize(text string) []string {
	words := strings.Fields(Normalize(text))
	kept := words[:0]
	for _, w := range words {
		if utf8.RuneCountInString(w) >= 3 {
			kept = append(kept, w)
		}
	}
	return kept
}

// NewFingerprint counts term occurrences in text. It returns nil when text
// has no usable terms.
func NewFingerprint(text string) Fingerprint {
	var fp Fingerprint
	for _, term := range Tokenize(text) {
		if fp == nil {
			fp = make(Fingerprint)
		}
		fp[term]++
	}
	return fp
}

// TokenCount returns the number of distinct terms.
func (f Fingerprint) TokenCount() int { return len(f) }

func (f Fingerprint) norm() float64 {
	var sum float64
	for _, w := range f {
		sum += w * w
	}
	return math.Sqrt(sum)
}

// weighted scales each term by idf[term]. Terms missing from idf keep their
// weight.
func (f Fingerprint) weighted(idf map[string]float64) Fingerprint {
	out := make(Fingerprint, len(f))
	for term, w := range f {
		if scale, ok := idf[term]; ok {
			w *= scale
		}
		out[term] = w
	}
	return out
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either is empty.
func CosineSimilarity(a, b Fingerprint) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for term, w := range a {
		dot += w * b[term]
	}
	if dot == 0 {
		return 0
	}
	return dot / (a.norm() * b.norm())
}

// Match is a scored reference document.
type Match struct {
	Index int
	Score float64
}

// BestMatch scores text against every reference using TF-IDF weights derived
// from the references plus the probe. It returns the highest scoring
// reference, or ok=false when nothing overlaps.
func BestMatch(text string, references []string) (Match, bool) {
	probe := NewFingerprint(text)
	if probe == nil || len(references) == 0 {
		return Match{}, false
	}
	docs := make([]Fingerprint, 0, len(references)+1)
	docs = append(docs, probe)
	for _, ref := range references {
		docs = append(docs, NewFingerprint(ref))
	}
	idf := inverseDocFrequency(docs)

	best := Match{Index: -1}
	query := probe.weighted(idf)
	for i, doc := range docs[1:] {
		if score := CosineSimilarity(query, doc.weighted(idf)); score > best.Score {
			best = Match{Index: i, Score: score}
		}
	}
	return best, best.Index >= 0
}

// inverseDocFrequency uses the smoothed form ln((N+1)/(df+1)) + 1 so terms
// shared by every document keep a non-zero weight. Empty documents count
// toward N.
func inverseDocFrequency(docs []Fingerprint) map[string]float64 {
	df := make(map[string]int)
	for _, doc := range docs {
		for term := range doc {
			df[term]++
		}
	}
	n := float64(len(docs))
	idf := make(map[string]float64, len(df))
	for term, count := range df {
		idf[term] = math.Log((n+1)/(float64(count)+1)) + 1
	}
	return idf
}
