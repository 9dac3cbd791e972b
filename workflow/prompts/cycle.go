package prompts

import (
	"fmt"
	"strings"
)

const (
	// TargetSymbols is how many symbols are offered when no question is open.
	TargetSymbols = 5

	// VocabularySymbols is how many symbols are embedded as vocabulary.
	VocabularySymbols = 8

	// ReviewHeading opens every peer-review prompt.
	ReviewHeading = "Generated symbolic answer:"

	// OpenQuestionsHeading introduces the numbered list the review must end with.
	OpenQuestionsHeading = "Open questions:"
)

// GenerationPrompt returns the prompt for the generation step of a cycle.
// It targets the first open question when there is one, otherwise it asks
// to elaborate on one of the leading symbols. The leading symbols are always
// listed as key vocabulary.
func GenerationPrompt(symbols, questions []string) string {
	var target string
	if len(questions) > 0 {
		target = questions[0]
	} else {
		target = "Elaborate on one of the following concepts: " + strings.Join(head(symbols, TargetSymbols), ", ")
	}

	return fmt.Sprintf("Answer rigorously and symbolically the question: '%s'. Use the key symbols: %s.",
		target, strings.Join(head(symbols, VocabularySymbols), ", "))
}

// ReviewPrompt returns the peer-review prompt for a generated answer and the
// text of the sources fetched for it.
func ReviewPrompt(generated string, sources []string) string {
	var sb strings.Builder

	sb.WriteString(ReviewHeading + "\n")
	sb.WriteString(generated)
	sb.WriteString("\n\nRelated web sources:\n")
	if len(sources) == 0 {
		sb.WriteString("(none)\n")
	}
	for i, src := range sources {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, src)
	}

	sb.WriteString(`
Write a symbolic peer review of the answer:
- identify weak points and unsupported claims
- suggest concrete improvements
- propose new research questions

Finish by listing every question or doubt that remains, under the heading "` + OpenQuestionsHeading + `",
as a numbered list (1., 2., ...), one question per line.`)

	return sb.String()
}

// IsReviewPrompt reports whether prompt was built by ReviewPrompt.
func IsReviewPrompt(prompt string) bool {
	return strings.HasPrefix(prompt, ReviewHeading)
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
