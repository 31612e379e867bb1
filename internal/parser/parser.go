// Package parser extracts multiple-choice items from free-form model output.
//
// Parsing is line oriented and never fails: segments that do not commit to a
// complete item (question, five options, answer among the options) are
// dropped, including an incomplete item at end of input.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"mcqgen/internal/models"
)

type state int

const (
	awaitingHeader state = iota
	awaitingQuestion
	inItem
)

var (
	echoMarkers = regexp.MustCompile(`(?i)</?s>|\[/?INST\]|</?INST>`)

	sectionHeader = regexp.MustCompile(`(?i)^(?:example|easy|medium|hard)?\s*\d*[:)]\s*$`)
	numberHeader  = regexp.MustCompile(`(?i)^(?:question\s*\d+[.:)]?|\d+[.:)])\s*$`)
	introLine     = regexp.MustCompile(`(?i)^the\b.*\blevel multiple-choice\b.*\bquestions?\b.*?\bis[:\-]?\s*(.+)?$`)

	inlineQuestion  = regexp.MustCompile(`(?i)^question\s*[:\-]?\s*(.+)`)
	inlineNumbered  = regexp.MustCompile(`^(?:[Qq]uestion\s*)?\d+[.:)]\s*(.+)`)
	bulletLine      = regexp.MustCompile(`^-\s*(.+)`)
	labelPrefix     = regexp.MustCompile(`(?i)^(?:question\s*\d*\s*[.:)\-]|\d+[.:)])\s*`)
	letterOption    = regexp.MustCompile(`^([A-Ea-e])[).:\-]\s+(.+)`)
	bareLetterStart = regexp.MustCompile(`^[A-Ea-e][).:\-]?\s+`)
	digitOption     = regexp.MustCompile(`^\(([1-5])\)[.:\-]?\s*(.+)`)
	answerLine      = regexp.MustCompile(`(?i)^(?:correct\s*)?answer\s*[:\-]?\s*\(?([A-E1-5])\)?(?:[).:\-]?\s+.*)?$`)
)

type draft struct {
	question string
	options  models.Options
	answer   string
}

func newDraft(question string) *draft {
	return &draft{question: question, options: models.Options{}}
}

func (d *draft) complete() bool {
	return d.question != "" && len(d.options) == len(models.OptionLetters) && d.options.Has(d.answer)
}

type machine struct {
	lines []string
	state state
	cur   *draft
	items []models.Item
}

// Parse returns every complete item in raw. A non-empty prompt is removed from
// raw first, since some backends echo it.
func Parse(prompt, raw string) []models.Item {
	if prompt != "" {
		raw = strings.ReplaceAll(raw, prompt, "")
	}
	raw = echoMarkers.ReplaceAllString(raw, "")

	m := &machine{cur: newDraft("")}
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			m.lines = append(m.lines, line)
		}
	}
	for i, line := range m.lines {
		m.step(i, line)
	}
	m.flush()
	return m.items
}

func (m *machine) flush() {
	if m.cur.complete() {
		m.items = append(m.items, models.Item{
			Question: cleanQuestion(m.cur.question),
			Options:  m.cur.options,
			Answer:   models.Unverified(m.cur.answer),
		})
	}
	m.cur = newDraft("")
	m.state = awaitingHeader
}

// reset commits whatever is in progress and starts a new item
func (m *machine) reset(question string, next state) {
	m.flush()
	m.cur = newDraft(question)
	m.state = next
}

func (m *machine) step(i int, line string) {
	line = strings.TrimSpace(strings.TrimLeft(line, "#"))
	if line == "" {
		return
	}
	if match := bulletLine.FindStringSubmatch(line); match != nil && letterOption.MatchString(match[1]) {
		line = match[1]
	}

	if isHeader(line) {
		m.reset("", awaitingQuestion)
		return
	}

	if match := introLine.FindStringSubmatch(line); match != nil {
		if q := strings.Trim(match[1], " .:"); q != "" {
			m.reset(q, inItem)
		} else {
			m.reset("", awaitingQuestion)
		}
		return
	}

	if m.state == awaitingQuestion {
		if !letterOption.MatchString(line) && !digitOption.MatchString(line) && !answerLine.MatchString(line) {
			if q := cleanQuestion(line); q != "" {
				m.cur.question = q
				m.state = inItem
			}
			return
		}
	}

	if match := inlineQuestion.FindStringSubmatch(line); match != nil {
		m.reset(cleanQuestion(match[1]), inItem)
		return
	}
	if match := inlineNumbered.FindStringSubmatch(line); match != nil {
		m.reset(cleanQuestion(match[1]), inItem)
		return
	}

	if match := bulletLine.FindStringSubmatch(line); match != nil && m.cur.question == "" {
		text := strings.Trim(match[1], " :")
		if !bareLetterStart.MatchString(text) {
			m.reset(cleanQuestion(text), inItem)
			return
		}
	}

	if match := letterOption.FindStringSubmatch(line); match != nil {
		if m.cur.complete() {
			m.flush()
		}
		if m.cur.question == "" {
			m.cur.question = m.backScan(i)
		}
		m.cur.options[strings.ToUpper(match[1])] = strings.TrimSpace(match[2])
		m.state = inItem
		return
	}

	if match := digitOption.FindStringSubmatch(line); match != nil {
		if m.cur.complete() {
			m.flush()
		}
		if m.cur.question == "" {
			m.cur.question = m.backScan(i)
		}
		m.cur.options[digitToLetter(match[1])] = strings.TrimSpace(match[2])
		m.state = inItem
		return
	}

	if match := answerLine.FindStringSubmatch(line); match != nil {
		m.cur.answer = normalizeAnswer(match[1])
		return
	}
}

// backScan recovers a question for an option that arrived without one
func (m *machine) backScan(i int) string {
	for j := i - 1; j >= 0; j-- {
		prev := m.lines[j]
		if bareLetterStart.MatchString(prev) || letterOption.MatchString(prev) || digitOption.MatchString(prev) ||
			answerLine.MatchString(prev) || isHeader(prev) {
			continue
		}
		return cleanQuestion(prev)
	}
	return ""
}

func isHeader(line string) bool {
	line = strings.TrimSpace(strings.TrimLeft(line, "#"))
	lower := strings.ToLower(line)
	return lower == "example" || lower == "example:" ||
		sectionHeader.MatchString(line) || numberHeader.MatchString(line)
}

// cleanQuestion strips a leading bullet, ordinal or "Question n:" label
func cleanQuestion(q string) string {
	q = strings.TrimLeft(q, "-# ")
	q = labelPrefix.ReplaceAllString(q, "")
	return strings.Trim(q, " .:")
}

func digitToLetter(d string) string {
	n, err := strconv.Atoi(d)
	if err != nil || n < 1 || n > len(models.OptionLetters) {
		return ""
	}
	return models.OptionLetters[n-1]
}

func normalizeAnswer(v string) string {
	v = strings.ToUpper(v)
	if l := digitToLetter(v); l != "" {
		return l
	}
	return v
}
