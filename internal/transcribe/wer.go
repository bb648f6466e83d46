package transcribe

import (
	"strings"
	"unicode"
)

// WordErrors scores a transcript against a reference text.
type WordErrors struct {
	Rate          float64 // (Substitutions+Insertions+Deletions) / Reference
	Substitutions int
	Insertions    int
	Deletions     int
	Reference     int // words in the reference
}

// edit is one cell of the alignment table.
type edit struct {
	cost, subs, ins, dels int
}

// ScoreTranscript aligns hypothesis against reference with a word level edit
// distance. Both are lowercased, stripped of punctuation and speaker turn
// markers before comparison. An empty reference scores zero.
func ScoreTranscript(reference, hypothesis string) WordErrors {
	ref := words(reference)
	hyp := words(hypothesis)
	if len(ref) == 0 {
		return WordErrors{}
	}

	prev := make([]edit, len(hyp)+1)
	cur := make([]edit, len(hyp)+1)
	for j := range prev {
		prev[j] = edit{cost: j, ins: j}
	}
	for i := 1; i <= len(ref); i++ {
		cur[0] = edit{cost: i, dels: i}
		for j := 1; j <= len(hyp); j++ {
			if ref[i-1] == hyp[j-1] {
				cur[j] = prev[j-1]
				continue
			}
			best := prev[j-1]
			best.subs++
			if d := prev[j]; d.cost < best.cost {
				best = d
				best.dels++
			}
			if in := cur[j-1]; in.cost < best.cost {
				best = in
				best.ins++
			}
			best.cost++
			cur[j] = best
		}
		prev, cur = cur, prev
	}

	last := prev[len(hyp)]
	return WordErrors{
		Rate:          float64(last.cost) / float64(len(ref)),
		Substitutions: last.subs,
		Insertions:    last.ins,
		Deletions:     last.dels,
		Reference:     len(ref),
	}
}

func words(s string) []string {
	s = strings.ReplaceAll(s, "[SPEAKER_TURN]", " ")
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Fields(s)
}
