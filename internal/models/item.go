package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Difficulty is one of the three item bands
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Difficulties lists the bands in generation order
var Difficulties = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

func (d Difficulty) String() string { return string(d) }

// Valid reports whether d is one of the known bands
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// ParseDifficulty normalizes s and rejects unknown bands
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown difficulty %q", s)
	}
	return d, nil
}

// OptionLetters are the answer keys of a well-formed item
var OptionLetters = []string{"A", "B", "C", "D", "E"}

// Options maps an answer letter to its text
type Options map[string]string

// Keys returns the option letters in order
func (o Options) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether letter is an option key
func (o Options) Has(letter string) bool {
	_, ok := o[letter]
	return ok
}

// AnswerKey is either unverified (only the generator's claim is known) or
// verified (an authoritative answer is fixed). The zero value is unverified
// with no claim.
type AnswerKey struct {
	claimed  string
	verified string
	ok       bool
}

// Unverified builds an answer key carrying only the generator's claim
func Unverified(claimed string) AnswerKey {
	return AnswerKey{claimed: claimed}
}

// Verified builds an answer key whose authoritative answer is fixed
func Verified(claimed, answer string) AnswerKey {
	return AnswerKey{claimed: claimed, verified: answer, ok: true}
}

// Claimed returns the answer the generator asserted
func (k AnswerKey) Claimed() string { return k.claimed }

// IsVerified reports whether an authoritative answer is fixed
func (k AnswerKey) IsVerified() bool { return k.ok }

// VerifiedAnswer returns the authoritative answer when one is fixed
func (k AnswerKey) VerifiedAnswer() (string, bool) { return k.verified, k.ok }

// CorrectAnswer is the verified answer, or the claim while unverified
func (k AnswerKey) CorrectAnswer() string {
	if k.ok {
		return k.verified
	}
	return k.claimed
}

// ItemParams are the 3PL IRT parameters attached to an item
type ItemParams struct {
	B float64 `json:"b"`
	A float64 `json:"a"`
	C float64 `json:"c"`
}

// Item is one multiple-choice question
type Item struct {
	Question   string
	Options    Options
	Answer     AnswerKey
	Difficulty Difficulty
	Params     ItemParams
}

type itemJSON struct {
	Question       string     `json:"question"`
	Options        Options    `json:"options"`
	ClaimedAnswer  string     `json:"claimed_answer"`
	CorrectAnswer  string     `json:"correct_answer"`
	VerifiedAnswer *string    `json:"verified_answer"`
	IsVerified     bool       `json:"is_verified"`
	Difficulty     Difficulty `json:"difficulty"`
	B              float64    `json:"b"`
	A              float64    `json:"a"`
	C              float64    `json:"c"`
}

// MarshalJSON flattens the answer key into the stored field names
func (it Item) MarshalJSON() (result0 []byte, err error) {
	out := itemJSON{
		Question:      it.Question,
		Options:       it.Options,
		ClaimedAnswer: it.Answer.Claimed(),
		CorrectAnswer: it.Answer.CorrectAnswer(),
		IsVerified:    it.Answer.IsVerified(),
		Difficulty:    it.Difficulty,
		B:             it.Params.B,
		A:             it.Params.A,
		C:             it.Params.C,
	}
	if v, ok := it.Answer.VerifiedAnswer(); ok {
		out.VerifiedAnswer = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON rebuilds the answer key from the flat fields. A record flagged
// verified without a verified_answer falls back to correct_answer; a record
// missing claimed_answer uses correct_answer as the claim.
func (it *Item) UnmarshalJSON(data []byte) error {
	var in itemJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	claimed := in.ClaimedAnswer
	if claimed == "" {
		claimed = in.CorrectAnswer
	}
	switch {
	case in.IsVerified && in.VerifiedAnswer != nil:
		it.Answer = Verified(claimed, *in.VerifiedAnswer)
	case in.IsVerified:
		it.Answer = Verified(claimed, in.CorrectAnswer)
	default:
		it.Answer = Unverified(claimed)
	}
	it.Question = in.Question
	it.Options = in.Options
	it.Difficulty = in.Difficulty
	it.Params = ItemParams{B: in.B, A: in.A, C: in.C}
	return nil
}

// PublicItem is the client view of an item
type PublicItem struct {
	Question      string     `json:"question"`
	Options       Options    `json:"options"`
	CorrectAnswer string     `json:"correct_answer"`
	Difficulty    Difficulty `json:"difficulty"`
}

// Public returns the client view of it
func (it Item) Public() PublicItem {
	return PublicItem{
		Question:      it.Question,
		Options:       it.Options,
		CorrectAnswer: it.Answer.CorrectAnswer(),
		Difficulty:    it.Difficulty,
	}
}
