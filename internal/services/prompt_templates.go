package services

import (
	"embed"
	"strings"
	"text/template"

	"mcqgen/internal/models"
	contextutils "mcqgen/internal/utils"
)

//go:embed templates/*.tmpl
var promptTemplatesFS embed.FS

// Template names as constants
const (
	GenerationPromptTemplate        = "generation_prompt"
	VerificationPromptTemplate      = "verification_prompt"
	ExplanationPromptTemplate       = "explanation_prompt"
	ExplanationReviewPromptTemplate = "explanation_review_prompt"
	TopicCheckPromptTemplate        = "topic_check_prompt"
)

// ContextItem is one steering example rendered into the generation prompt
type ContextItem struct {
	Question   string
	Answer     string
	Cluster    string
	Difficulty models.Difficulty
}

// GenerationPromptData feeds the generation template
type GenerationPromptData struct {
	Count      int
	Difficulty models.Difficulty
	Subject    string
	Topic      string
	HasTheta   bool
	Theta      float64
	Context    []ContextItem
}

// OptionLine is one lettered option of the verification prompt
type OptionLine struct {
	Letter string
	Text   string
}

// VerificationPromptData feeds the verification template
type VerificationPromptData struct {
	Question string
	Options  []OptionLine
}

// ExplanationPromptData feeds the explanation, review and topic check templates
type ExplanationPromptData struct {
	Subject     string
	Question    string
	Options     []OptionLine
	Context     []ContextItem
	Answer      string
	Explanation string
}

// PromptTemplateManager renders the embedded prompt templates
type PromptTemplateManager struct {
	templates *template.Template
}

// NewPromptTemplateManager parses every embedded template
func NewPromptTemplateManager() (result0 *PromptTemplateManager, err error) {
	templates, err := template.New("").ParseFS(promptTemplatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to parse prompt templates: %w", err)
	}
	return &PromptTemplateManager{templates: templates}, nil
}

// RenderTemplate renders a named template with data
func (tm *PromptTemplateManager) RenderTemplate(templateName string, data interface{}) (result0 string, err error) {
	var buf strings.Builder
	if err := tm.templates.ExecuteTemplate(&buf, templateName, data); err != nil {
		return "", contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to render %s: %w", templateName, err)
	}
	return buf.String(), nil
}

// WrapInstruction wraps an instruction in the llama-2 chat markers
func WrapInstruction(instruction string) string {
	return "<s>[INST] " + strings.TrimSpace(instruction) + " [/INST]"
}

// RenderGenerationPrompt renders and wraps the generation prompt
func (tm *PromptTemplateManager) RenderGenerationPrompt(data GenerationPromptData) (string, error) {
	instruction, err := tm.RenderTemplate(GenerationPromptTemplate, data)
	if err != nil {
		return "", err
	}
	return WrapInstruction(instruction), nil
}

// RenderVerificationPrompt renders the forced-choice prompt. Every letter A-E
// is listed; a missing option renders empty.
func (tm *PromptTemplateManager) RenderVerificationPrompt(question string, options models.Options) (string, error) {
	return tm.RenderTemplate(VerificationPromptTemplate, VerificationPromptData{Question: question, Options: allOptionLines(options)})
}

func allOptionLines(options models.Options) []OptionLine {
	lines := make([]OptionLine, 0, len(models.OptionLetters))
	for _, letter := range models.OptionLetters {
		lines = append(lines, OptionLine{Letter: letter, Text: options[letter]})
	}
	return lines
}

// presentOptionLines lists only the options that exist, in letter order
func presentOptionLines(options models.Options) []OptionLine {
	lines := make([]OptionLine, 0, len(options))
	for _, letter := range options.Keys() {
		lines = append(lines, OptionLine{Letter: letter, Text: options[letter]})
	}
	return lines
}
