package provider

import (
	"strings"

	"nexusd/pkg/types"
)

// FlattenChat renders a conversation as a plain prompt for backends that only
// accept raw text. Generic instruction format: role-labelled blocks with a
// trailing "Assistant:" marker for the next reply.
func FlattenChat(messages []types.ChatMessage) string {
	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			b.WriteString("System: " + msg.Content + "\n")
		case "assistant":
			b.WriteString("Assistant: " + msg.Content + "\n")
		default:
			b.WriteString("User: " + msg.Content + "\n")
		}
	}
	b.WriteString("Assistant:")
	return b.String()
}
