package gaps

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"specforge/internal/textutil"
)

const keySeparator = "\x1f"

// Key derives the dedupe key for a gap. Equal normalized inputs always yield
// the same key, so independent verifications of similar ideas converge on
// one gap.
func Key(feature, reason, specVersion string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		textutil.Normalize(feature),
		textutil.Normalize(reason),
		strings.TrimSpace(specVersion),
	}, keySeparator)))
	return hex.EncodeToString(sum[:])
}

// Impact levels accepted for a gap.
const (
	ImpactLow    = "low"
	ImpactMedium = "medium"
	ImpactHigh   = "high"
)

// NormalizeImpact folds free-form impact text onto the known levels.
func NormalizeImpact(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case ImpactLow, "minor":
		return ImpactLow
	case ImpactHigh, "major", "critical", "blocking":
		return ImpactHigh
	default:
		return ImpactMedium
	}
}
