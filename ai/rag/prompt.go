package rag

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/guildsage/guildsage/ai"
)

// answerInstructions is the system prompt for question answering. The model
// is told to answer strictly from the excerpts so it cannot invent community
// knowledge that was never written.
const answerInstructions = `You are a helpful assistant answering questions about a community chat server.

You will be given excerpts from past conversations. Each excerpt is a fragment of a discussion, in chronological order, with the author and time of every message.

Rules:
- Answer using only the information in the excerpts.
- When the excerpts do not contain enough information to answer, say so plainly instead of guessing.
- When it helps, mention who said something and roughly when.
- Keep the answer short and direct.`

// BuildAnswerMessages renders the question and its assembled context into
// chat messages. The rendering is deterministic: identical inputs produce an
// identical prompt.
func BuildAnswerMessages(question string, excerpts []*Excerpt) []ai.Message {
	var sb strings.Builder
	sb.WriteString("Conversation excerpts:\n\n")
	sb.WriteString(renderExcerpts(excerpts))
	sb.WriteString("\nQuestion: ")
	sb.WriteString(strings.TrimSpace(question))

	return []ai.Message{
		ai.SystemPrompt(answerInstructions),
		ai.UserMessage(sb.String()),
	}
}

func renderExcerpts(excerpts []*Excerpt) string {
	var sb strings.Builder
	for i, excerpt := range excerpts {
		fmt.Fprintf(&sb, "### Excerpt %d (relevance %.2f)\n", i+1, excerpt.Score)
		for _, msg := range excerpt.Messages {
			if msg.ParentID != "" {
				sb.WriteString("  ↳ ")
			}
			fmt.Fprintf(&sb, "[%s] %s: %s", formatTimestamp(msg.PostedTs), displayAuthor(msg.Author), msg.Text)
			if summary := reactionSummary(msg.Reactions); summary != "" {
				sb.WriteString(" ")
				sb.WriteString(summary)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// reactionSummary renders reactions strongest first. In support channels
// reactions often mark the accepted answer, so the model should see them.
func reactionSummary(reactions map[string]int) string {
	if len(reactions) == 0 {
		return ""
	}
	emojis := make([]string, 0, len(reactions))
	for emoji := range reactions {
		emojis = append(emojis, emoji)
	}
	sort.Slice(emojis, func(i, j int) bool {
		if reactions[emojis[i]] != reactions[emojis[j]] {
			return reactions[emojis[i]] > reactions[emojis[j]]
		}
		return emojis[i] < emojis[j]
	})

	parts := make([]string, len(emojis))
	for i, emoji := range emojis {
		parts[i] = fmt.Sprintf("%s x%d", emoji, reactions[emoji])
	}
	return "(reactions: " + strings.Join(parts, ", ") + ")"
}

func formatTimestamp(ts int64) string {
	if ts <= 0 {
		return "unknown time"
	}
	return time.UnixMilli(ts).UTC().Format("2006-01-02 15:04")
}

func displayAuthor(author string) string {
	if author == "" {
		return "unknown"
	}
	return author
}
