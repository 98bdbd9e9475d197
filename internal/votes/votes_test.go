package votes

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/daoscope/govmatrix/internal/model"
)

func TestNormalize_TypeSynonyms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		vote model.Vote
		want model.Outcome
	}{
		{"for", model.Vote{Type: "for"}, model.OutcomeFor},
		{"yes", model.Vote{Type: "yes"}, model.OutcomeFor},
		{"aye uppercase", model.Vote{Type: "AYE"}, model.OutcomeFor},
		{"numeric one", model.Vote{Type: "1"}, model.OutcomeFor},
		{"boolean true", model.Vote{Type: "true"}, model.OutcomeFor},
		{"in_favor", model.Vote{Type: "in_favor"}, model.OutcomeFor},
		{"against", model.Vote{Type: "against"}, model.OutcomeAgainst},
		{"nay with whitespace", model.Vote{Type: "  nay  "}, model.OutcomeAgainst},
		{"numeric zero", model.Vote{Type: "0"}, model.OutcomeAgainst},
		{"boolean false", model.Vote{Type: "false"}, model.OutcomeAgainst},
		{"abstain", model.Vote{Type: "abstain"}, model.OutcomeAbstain},
		{"abstention", model.Vote{Type: "abstention"}, model.OutcomeAbstain},
		{"present", model.Vote{Type: "present"}, model.OutcomeAbstain},
		{"numeric two", model.Vote{Type: "2"}, model.OutcomeAbstain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.vote))
		})
	}
}

func TestNormalize_ExplicitTypeWinsOverAmount(t *testing.T) {
	t.Parallel()

	// A mapped type beats a positive amount even when they disagree.
	got := Normalize(model.Vote{Type: "against", Amount: "99999"})
	assert.Equal(t, model.OutcomeAgainst, got)
}

func TestNormalize_AmountInference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		vote model.Vote
		want model.Outcome
	}{
		{"positive amount", model.Vote{Amount: "500"}, model.OutcomeFor},
		{"fractional amount", model.Vote{Amount: "0.25"}, model.OutcomeFor},
		{"zero amount no other signal", model.Vote{Amount: "0"}, model.OutcomeUnknown},
		{"garbage amount no other signal", model.Vote{Amount: "lots"}, model.OutcomeUnknown},
		{"unmapped type falls through to amount", model.Vote{Type: "ballot", Amount: "10"}, model.OutcomeFor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.vote))
		})
	}
}

func TestNormalize_ReasonKeywords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		vote model.Vote
		want model.Outcome
	}{
		{"supportive reason", model.Vote{Reason: "I fully SUPPORT this proposal"}, model.OutcomeFor},
		{"opposing reason", model.Vote{Reason: "strongly oppose the treasury change"}, model.OutcomeAgainst},
		{"abstaining reason", model.Vote{Reason: "staying neutral on this one"}, model.OutcomeAbstain},
		{"for keywords checked before against", model.Vote{Reason: "I approve despite some reservations"}, model.OutcomeFor},
		{"unrelated reason no signal", model.Vote{Reason: "gm"}, model.OutcomeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.vote))
		})
	}
}

func TestNormalize_TxHashFallback(t *testing.T) {
	t.Parallel()

	assert.Equal(t, model.OutcomeVoted, Normalize(model.Vote{TxHash: "0xdeadbeef"}))
	assert.Equal(t, model.OutcomeVoted, Normalize(model.Vote{Reason: "gm", TxHash: "0xdeadbeef"}))
}

func TestNormalize_NoSignal(t *testing.T) {
	t.Parallel()

	assert.Equal(t, model.OutcomeUnknown, Normalize(model.Vote{ID: "v1", VoterAddress: "0xabc"}))
}
