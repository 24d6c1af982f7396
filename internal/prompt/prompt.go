// Package prompt assembles the system and summarization prompts for the
// reflection coach. Everything here is a pure function of its inputs.
package prompt

import (
	"fmt"
	"strings"

	"github.com/mkalen/rapport/internal/journey"
	"github.com/mkalen/rapport/internal/llm"
)

// CoachPersona is the fixed system-prompt text defining the coach's stance.
const CoachPersona = `You are an AI reflection coach. You are compassionate but direct, ask probing follow-ups, point out contradictions kindly, avoid toxic positivity, remember prior insights, and get progressively more direct as rapport builds.`

// summaryInstructions tells the model the exact three-section shape a day
// summary must take. The sections feed the rapport document, so the structure
// is fixed.
const summaryInstructions = `You are an AI coach analyzing a day's conversation. Create a structured reflection summary in this exact format:

Day X:
Key points we talked about:
- [Main topics discussed]
- [Important questions raised]

Core insights:
- [Key realizations or discoveries]
- [Important patterns identified]

Recurring patterns:
- [Any themes that emerged]
- [Connections to previous days]

Be concise but insightful. Focus on the most meaningful parts of the conversation.`

// fallbackTranscriptLimit is how much raw transcript stands in for a summary
// when the model returns nothing.
const fallbackTranscriptLimit = 500

// BuildSystemPrompt assembles the per-day system prompt from the coach
// persona, the day number, and the rapport accumulated so far.
func BuildSystemPrompt(day int, rapportContent string) string {
	return fmt.Sprintf("%s\n\nToday is Day %d. Relevant prior insights (use selectively):\n%s",
		CoachPersona, day, rapportContent)
}

// BuildSummaryPrompt produces the message list asking the model to summarize
// a day's transcript into the fixed reflection structure.
func BuildSummaryPrompt(day int, transcript string) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: summaryInstructions},
		{Role: "user", Content: fmt.Sprintf(
			"Please analyze this conversation and create a structured reflection summary for Day %d:\n\n%s",
			day, transcript)},
	}
}

// FormatTranscript renders the user/assistant turns of a day as plain text,
// one upper-cased role label per turn. System messages are excluded; they are
// scaffolding, not conversation.
func FormatTranscript(messages []journey.Message) string {
	var turns []string
	for _, m := range messages {
		if m.Role == "system" {
			continue
		}
		turns = append(turns, fmt.Sprintf("%s: %s", strings.ToUpper(m.Role), m.Content))
	}
	return strings.Join(turns, "\n\n")
}

// FallbackSummary substitutes a truncated raw transcript when summary
// generation came back empty, so a completed day never leaves the rapport
// document without an entry.
func FallbackSummary(day int, transcript string) string {
	truncated := transcript
	suffix := ""
	if len(transcript) > fallbackTranscriptLimit {
		truncated = transcript[:fallbackTranscriptLimit]
		suffix = "..."
	}
	return fmt.Sprintf("Day %d Summary:\n%s%s", day, truncated, suffix)
}

// RapportSection formats a completed day's summary as the section appended to
// the rapport document.
func RapportSection(day int, summary string) string {
	return fmt.Sprintf("## Day %d\n%s", day, summary)
}
