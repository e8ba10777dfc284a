package workflow

import (
	"strings"

	"github.com/zhouzirui/heartline/backend/internal/model/chat"
)

// BuildContext assembles the per-turn context message. It is pure: the same inputs always
// produce the same text, and nothing outside the arguments is read.
func BuildContext(profile chat.UserProfile, workingEmotion string, turns []chat.Turn, snippet string) string {
	var b strings.Builder
	b.WriteString("User profile: ")
	b.WriteString(profile.Summary())
	b.WriteString("\nCurrent emotional state: ")
	b.WriteString(strings.TrimSpace(workingEmotion))
	b.WriteString("\nRecent conversation history:")
	if len(turns) == 0 {
		b.WriteString(" none")
	}
	for _, turn := range turns {
		b.WriteString("\nUser: ")
		b.WriteString(turn.Input)
		b.WriteString("\nAgent: ")
		b.WriteString(turn.Reply)
	}
	b.WriteString("\nRelevant psychological information:\n")
	b.WriteString(snippet)
	return b.String()
}
