package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"mcqgen/internal/models"
	contextutils "mcqgen/internal/utils"
)

// leakedPlaceholders are template fragments that mean the model echoed the prompt
var leakedPlaceholders = []string{"Question", "<Insert your question>", "Generate a"}

var answerLetters = regexp.MustCompile(`\b[A-E]\b`)

// Validate reports why item is not servable. It checks shape only, never
// whether the answer is factually right.
func Validate(item models.Item) error {
	question := strings.TrimSpace(item.Question)
	if question == "" {
		return invalid("empty question")
	}
	for _, p := range leakedPlaceholders {
		if strings.Contains(question, p) {
			return invalid(fmt.Sprintf("question contains template text %q", p))
		}
	}

	if len(item.Options) != len(models.OptionLetters) {
		return invalid(fmt.Sprintf("expected %d options, got %d", len(models.OptionLetters), len(item.Options)))
	}
	seen := make(map[string]string, len(item.Options))
	for _, letter := range models.OptionLetters {
		text, ok := item.Options[letter]
		if !ok {
			return invalid("missing option " + letter)
		}
		norm := strings.ToLower(strings.TrimSpace(text))
		if norm == "" {
			return invalid("empty option " + letter)
		}
		if other, dup := seen[norm]; dup {
			return invalid(fmt.Sprintf("options %s and %s are identical", other, letter))
		}
		seen[norm] = letter
	}

	if !item.Options.Has(item.Answer.Claimed()) {
		return invalid(fmt.Sprintf("answer %q is not an option", item.Answer.Claimed()))
	}
	return nil
}

func invalid(details string) error {
	return contextutils.NewAppError(contextutils.ErrorCodeAIResponseInvalid, contextutils.SeverityWarn, "invalid item", details)
}

// CleanAnswer returns the distinct standalone letters A-E found in raw, sorted
func CleanAnswer(raw string) []string {
	found := answerLetters.FindAllString(strings.ToUpper(raw), -1)
	set := make(map[string]struct{}, len(found))
	out := make([]string, 0, len(found))
	for _, l := range found {
		if _, ok := set[l]; ok {
			continue
		}
		set[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// ClaimedAnswer is the first letter CleanAnswer finds, or "" when none
func ClaimedAnswer(raw string) string {
	if letters := CleanAnswer(raw); len(letters) > 0 {
		return letters[0]
	}
	return ""
}
