package notify

import (
	"fmt"
	"strings"

	"github.com/pankaj-dahiya-devops/guardrail/internal/models"
)

// Payload is a Slack incoming-webhook message.
type Payload struct {
	Text   string  `json:"text"`
	Blocks []Block `json:"blocks"`
}

// Block is a single Block Kit layout block.
type Block struct {
	Type   string       `json:"type"`
	Text   *TextObject  `json:"text,omitempty"`
	Fields []TextObject `json:"fields,omitempty"`
}

// TextObject is a Block Kit text element.
type TextObject struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

func header(text string) Block {
	return Block{Type: "header", Text: &TextObject{Type: "plain_text", Text: text, Emoji: true}}
}

func section(markdown string) Block {
	return Block{Type: "section", Text: &TextObject{Type: "mrkdwn", Text: markdown}}
}

func fields(markdown ...string) Block {
	b := Block{Type: "section"}
	for _, m := range markdown {
		b.Fields = append(b.Fields, TextObject{Type: "mrkdwn", Text: m})
	}
	return b
}

func divider() Block { return Block{Type: "divider"} }

// IsolationAlert announces that instanceID was quarantined because of f.
func IsolationAlert(f models.Finding, instanceID, region string, original models.Membership) Payload {
	severity := "Unknown"
	if f.Severity > 0 {
		severity = fmt.Sprintf("%g", f.Severity)
	}

	return Payload{
		Text: fmt.Sprintf("🚨 EC2 Instance Isolated: %s", instanceID),
		Blocks: []Block{
			header("🚨 Security Alert: EC2 Instance Isolated"),
			fields(
				fmt.Sprintf("*Instance ID:*\n`%s`", instanceID),
				fmt.Sprintf("*Severity:*\n%s/10", severity),
				fmt.Sprintf("*Finding Type:*\n%s", orDefault(f.Type, "Unknown")),
				fmt.Sprintf("*Region:*\n%s", region),
			),
			section(fmt.Sprintf("*Title:* %s\n\n*Description:* %s",
				orDefault(f.Title, "Security Finding"),
				orDefault(f.Description, "No description available"),
			)),
			divider(),
			section(fmt.Sprintf("*Action Taken:* Instance has been isolated from network access. Original security groups: `%s`",
				strings.Join(original, ", "),
			)),
		},
	}
}

// FailureAlert reports an isolation that did not complete. instanceID may be
// empty when the failure happened before the target was known.
func FailureAlert(instanceID string, err error) Payload {
	msg := fmt.Sprintf("*Error in GuardDuty isolation:*\n```%s```", err)
	if instanceID != "" {
		msg = fmt.Sprintf("*Error isolating* `%s`*:*\n```%s```", instanceID, err)
	}
	return Payload{
		Text:   "❌ Isolation Error",
		Blocks: []Block{section(msg)},
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
