// Package votes normalizes raw governance ballot records into canonical
// outcomes. Upstream indexers disagree on how a ballot is encoded: some emit
// a support type, some only an amount, some nothing but a transaction hash.
package votes

import (
	"strconv"
	"strings"

	"github.com/daoscope/govmatrix/internal/model"
)

// typeSynonyms maps lower-cased support types to canonical outcomes.
var typeSynonyms = map[string]model.Outcome{
	"for":      model.OutcomeFor,
	"yes":      model.OutcomeFor,
	"support":  model.OutcomeFor,
	"approve":  model.OutcomeFor,
	"in_favor": model.OutcomeFor,
	"infavor":  model.OutcomeFor,
	"aye":      model.OutcomeFor,
	"1":        model.OutcomeFor,
	"true":     model.OutcomeFor,

	"against": model.OutcomeAgainst,
	"no":      model.OutcomeAgainst,
	"oppose":  model.OutcomeAgainst,
	"nay":     model.OutcomeAgainst,
	"0":       model.OutcomeAgainst,
	"false":   model.OutcomeAgainst,

	"abstain":    model.OutcomeAbstain,
	"abstention": model.OutcomeAbstain,
	"present":    model.OutcomeAbstain,
	"2":          model.OutcomeAbstain,
}

var (
	forWords     = []string{"support", "favor", "yes", "approve", "agree", "for"}
	againstWords = []string{"against", "oppose", "no", "disagree", "reject"}
	abstainWords = []string{"abstain", "neutral", "present"}
)

// Normalize classifies a single vote record. Signals are consulted in a
// fixed order: explicit support type, then voting power, then free-text
// reason, then transaction hash. A record carrying none of them is Unknown.
func Normalize(v model.Vote) model.Outcome {
	if t := strings.ToLower(strings.TrimSpace(v.Type)); t != "" {
		if outcome, ok := typeSynonyms[t]; ok {
			return outcome
		}
	}

	if amount(v.Amount) > 0 {
		return model.OutcomeFor
	}

	if reason := strings.ToLower(v.Reason); reason != "" {
		switch {
		case containsAny(reason, forWords):
			return model.OutcomeFor
		case containsAny(reason, againstWords):
			return model.OutcomeAgainst
		case containsAny(reason, abstainWords):
			return model.OutcomeAbstain
		}
	}

	// A transaction hash proves on-chain participation even when the
	// direction cannot be recovered.
	if v.TxHash != "" {
		return model.OutcomeVoted
	}

	return model.OutcomeUnknown
}

func amount(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
