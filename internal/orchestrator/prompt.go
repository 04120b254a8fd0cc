package orchestrator

import (
	"fmt"
	"strings"

	"guesthouse-sms-agent/internal/domain"
)

// MaxHistory is the number of prior messages replayed to the model.
const MaxHistory = 10

func buildPromptMessages(in Input) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: buildPolicyPrompt()},
		{Role: domain.RoleSystem, Content: buildContextPrompt(in)},
	}

	history := in.History
	if len(history) > MaxHistory {
		history = history[len(history)-MaxHistory:]
	}
	for _, m := range history {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		messages = append(messages, domain.ChatMessage{Role: domain.RoleFor(m.Direction), Content: text})
	}

	messages = append(messages, domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: strings.TrimSpace(in.Text),
	})
	return messages
}

func buildPolicyPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You are the SMS front desk assistant of a small guesthouse in Korea.",
		"",
		"Task:",
		"Classify the guest's latest message into one of the listed intents,",
		"track any multi-turn flow, and draft a short reply in Korean.",
		"",
		"Behavior Rules:",
		behaviorRules(),
		"",
		"Output Contract:",
		outputContract(),
	}, "\n")
}

func behaviorRules() string {
	return strings.Join([]string{
		"1) Reply only to the latest guest message; earlier turns are context.",
		"2) Use only the guest state, intent list and knowledge provided in this request.",
		"3) Keep replies polite and under 300 characters.",
		"4) If the answer is not in the knowledge, say a staff member will follow up and set need_followup=true.",
		"5) Set is_complaint=true when the guest is unhappy, reports damage or asks for a refund.",
		"6) Set end_flow=true when the current flow has collected everything it needs or the guest closes the topic.",
	}, "\n")
}

func outputContract() string {
	return "Return one JSON object only with keys " +
		"reply_text (string), intent (string, one of the listed intent names), " +
		"flow_type (string or null), slots (object of extracted fields, {} when none), " +
		"need_followup (boolean), end_flow (boolean). " +
		"Optionally include is_complaint (boolean) and confidence (number between 0 and 1)."
}

func buildContextPrompt(in Input) string {
	state := strings.TrimSpace(in.GuestState)
	if state == "" {
		state = domain.GuestStateUnknown
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Guest State: %s\n\nIntents:\n", state)
	if len(in.Intents) == 0 {
		fmt.Fprintf(&b, "- %s\n", domain.IntentGeneric)
	}
	for _, intent := range in.Intents {
		desc := normalizePromptInput(intent.Description)
		if desc == "" {
			fmt.Fprintf(&b, "- %s\n", intent.Name)
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", intent.Name, desc)
	}

	b.WriteString("\nKnowledge:\n")
	if len(in.Knowledge) == 0 {
		b.WriteString("(none)\n")
	}
	for _, k := range in.Knowledge {
		fmt.Fprintf(&b, "[%s] %s: %s\n", k.Category, normalizePromptInput(k.Title), normalizePromptInput(k.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
