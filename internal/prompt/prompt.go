// Package prompt builds the provider-agnostic message list for one request:
// system prompt first, then optional search context, then conversation
// history, then the current turn.
package prompt

import (
	"fmt"
	"strings"

	"github.com/pixlens/pixlens-gateway/internal/llm"
)

// DefaultImageInstruction is the user text substituted when an image
// arrives with no accompanying message.
const DefaultImageInstruction = "Analyze the image and answer any question it contains."

// ImageAnalysisPrompt is the fixed system prompt for the scan endpoint.
const ImageAnalysisPrompt = `You are an expert image analyst. Analyze the following image and describe everything you can observe, including:
- Objects and their relationships
- Text (if any) and what it says
- Scene context or possible setting
- Any notable or unusual details
- Possible purpose or meaning behind the image
Be clear and concise, but include as much detail as possible.`

// Policy selects the system prompt for a chat request depending on whether
// prior conversation turns exist.
type Policy struct {
	// Fresh is used when the request opens a conversation.
	Fresh string
	// Continuing is used when history is present; empty falls back to Fresh.
	Continuing string
}

// Select returns the system prompt for the request.
func (p Policy) Select(hasHistory bool) string {
	if hasHistory && p.Continuing != "" {
		return p.Continuing
	}
	return p.Fresh
}

// Turn is the current user turn.
type Turn struct {
	Text      string
	ImageData []byte
	ImageMIME string
}

// Empty reports whether the turn carries neither text nor image. Callers
// reject empty turns before building messages.
func (t Turn) Empty() bool {
	return strings.TrimSpace(t.Text) == "" && len(t.ImageData) == 0
}

// Build assembles the ordered message list. searchContext may be a zero
// Message, in which case it is skipped.
func Build(systemPrompt string, searchContext llm.Message, history []llm.Message, turn Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+3)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Text: systemPrompt})

	if searchContext.Text != "" {
		messages = append(messages, searchContext)
	}

	messages = append(messages, history...)

	current := llm.Message{Role: llm.RoleUser, Text: turn.Text}
	if len(turn.ImageData) > 0 {
		current.ImageData = turn.ImageData
		current.ImageMIME = turn.ImageMIME
		if strings.TrimSpace(current.Text) == "" {
			current.Text = DefaultImageInstruction
		}
	}
	messages = append(messages, current)
	return messages
}

// SearchContext summarizes ranked results into one system message with
// explicit instructions not to echo raw URLs to the user.
func SearchContext(results []llm.Source) llm.Message {
	if len(results) == 0 {
		return llm.Message{}
	}

	var b strings.Builder
	b.WriteString("Live web search results relevant to the user's question, ranked by relevance:\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	b.WriteString("\nUse these results to ground your answer. Do not quote the raw URLs back to the user; refer to sources by name.")

	return llm.Message{Role: llm.RoleSystem, Text: b.String(), Sources: results}
}

// SearchUnavailable is the disclaimer inserted when augmentation was
// requested but the search call failed. Search failures never pretend the
// search happened.
func SearchUnavailable() llm.Message {
	return llm.Message{
		Role: llm.RoleSystem,
		Text: "Live web search is currently unavailable for this request. Answer from your own knowledge and say so if the question needs current information.",
	}
}
