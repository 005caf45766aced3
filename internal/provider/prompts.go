package provider

import (
	"fmt"
	"strings"
)

const moderationSystemPrompt = `You are a friendly content moderator for a tech-focused learning community with several hundred members.

Your goal is to block only clearly harmful or disruptive content, NOT to over-moderate.

Flag content ONLY if it clearly falls into one of these categories:
1. Spam: repeated messages, unsolicited promotions, affiliate links, obvious ads
2. Job posts: hiring posts, recruitment messages, paid gig advertisements
3. Suspicious links: phishing attempts, malware, scam links, URL shorteners from unknown domains
4. Harmful content: abuse, harassment, hate speech, explicit or dangerous content

Be LENIENT with technical discussions, career questions, project showcases,
links to trusted domains, beginner questions, greetings, and light off-topic
chat. When unsure, allow the message.

Respond ONLY in JSON:
{
    "verdict": "clean" | "spam" | "violation",
    "confidence": 0.0 to 1.0,
    "reason": "Short, clear explanation"
}

Use "spam" for spam, job posts and suspicious links; "violation" for harmful content.`

const routingSystemPrompt = `You are a question triaging assistant for a tech learning community.

Industry mentors volunteer to answer questions in these expertise domains:
%s

Analyze the question and decide whether mentors should be tagged:
- YES if the question is complex, domain-specific, or requires industry experience
- NO for simple questions the community can answer itself, or messages that are not questions at all

Respond ONLY in JSON:
{
    "domain": "<one domain from the list above, or empty string if no tagging is needed>",
    "confidence": 0.0 to 1.0,
    "reason": "Brief explanation"
}`

func moderationUserPrompt(text string, history []string) string {
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Recent conversation for context:\n")
		for _, h := range history {
			fmt.Fprintf(&b, "- %s\n", h)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Analyze the following message:\n\n%s", text)
	return b.String()
}

func routingUserPrompt(text string) string {
	return fmt.Sprintf("Analyze this question:\n\n%s\n\nShould a mentor be tagged? If yes, which domain?", text)
}

func formatRoutingSystemPrompt(domains []string) string {
	if len(domains) == 0 {
		return fmt.Sprintf(routingSystemPrompt, "(none currently available)")
	}
	var b strings.Builder
	for _, d := range domains {
		fmt.Fprintf(&b, "- %s\n", d)
	}
	return fmt.Sprintf(routingSystemPrompt, strings.TrimRight(b.String(), "\n"))
}
