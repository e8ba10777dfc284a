package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/heartline/backend/internal/model/chat"
	"github.com/zhouzirui/heartline/backend/internal/model/persona"
)

const preambleTemplate = `You are {name}, a {title}, skilled at listening, empathizing and giving appropriate advice.

Speaking style: {tone}
Guidance: {hint}

User profile: {profile}
User emotional state: {emotion}

Additional context: {context}

Respond with empathy and professionalism. Focus on understanding the user's needs and providing appropriate support.`

const greetingTemplate = `This is a new conversation with user {user_name}.
Based on their profile information: {profile} and their stated problem: {problem},
provide a warm, empathetic greeting that establishes rapport and invites them to share more.
Introduce yourself as {name}. Keep your response concise but supportive.`

// Prompts renders the system preamble and the greeting request.
type Prompts struct {
	preamble prompt.ChatTemplate
	greeting prompt.ChatTemplate
}

func NewPrompts() *Prompts {
	return &Prompts{
		preamble: prompt.FromMessages(schema.FString, schema.SystemMessage(preambleTemplate)),
		greeting: prompt.FromMessages(schema.FString, schema.UserMessage(greetingTemplate)),
	}
}

// Preamble builds the session's first system message from the persona, the profile and
// the turns seeded from history.
func (p *Prompts) Preamble(ctx context.Context, who persona.Persona, profile chat.UserProfile, seed []chat.Turn) (chat.Message, error) {
	history := "None"
	if len(seed) > 0 {
		lines := make([]string, 0, len(seed)*2)
		for _, turn := range seed {
			lines = append(lines, "User: "+turn.Input, "Agent: "+turn.Reply)
		}
		history = strings.Join(lines, "\n")
	}

	content, err := render(ctx, p.preamble, map[string]any{
		"name":    who.Name,
		"title":   who.Title,
		"tone":    who.Tone,
		"hint":    who.PromptHint,
		"profile": profile.Summary(),
		"emotion": "neutral",
		"context": "Previous conversation history:\n" + history,
	})
	if err != nil {
		return chat.Message{}, err
	}
	return chat.SystemMessage(content), nil
}

// Greeting builds the one-off request that asks the model to open the conversation.
func (p *Prompts) Greeting(ctx context.Context, who persona.Persona, profile chat.UserProfile) (chat.Message, error) {
	content, err := render(ctx, p.greeting, map[string]any{
		"user_name": profile.Name,
		"profile":   profile.Summary(),
		"problem":   profile.Problem,
		"name":      who.Name,
	})
	if err != nil {
		return chat.Message{}, err
	}
	return chat.UserMessage(content), nil
}

func render(ctx context.Context, tpl prompt.ChatTemplate, vars map[string]any) (string, error) {
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("ai: render prompt: %w", err)
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("ai: prompt rendered no messages")
	}
	return msgs[0].Content, nil
}
