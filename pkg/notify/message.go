package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var terminalEmoji = map[string]string{
	"merged":    ":white_check_mark:",
	"abandoned": ":x:",
}

var terminalLabel = map[string]string{
	"merged":    "Pipeline Merged",
	"abandoned": "Pipeline Abandoned",
}

func pipelineURL(pipelineID, dashboardURL string) string {
	return fmt.Sprintf("%s/pipelines/%s", dashboardURL, pipelineID)
}

func buildStartedMessage(input PipelineStartedInput, dashboardURL string) []goslack.Block {
	url := pipelineURL(input.PipelineID, dashboardURL)
	text := fmt.Sprintf(
		":arrows_counterclockwise: *%s* routed as *%s* (`%s`).\n<%s|View in Dashboard>",
		input.IssueRef, input.Category, input.Action, url,
	)
	return []goslack.Block{
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false), nil, nil),
	}
}

func buildTerminalMessage(input PipelineTerminalInput, dashboardURL string) []goslack.Block {
	emoji := terminalEmoji[input.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := terminalLabel[input.Status]
	if label == "" {
		label = "Pipeline " + input.Status
	}

	headerText := fmt.Sprintf("%s *%s* — %s", emoji, label, input.IssueRef)
	if input.Error != "" {
		headerText += fmt.Sprintf("\n\n*Error:*\n%s", truncateForSlack(input.Error))
	}

	url := pipelineURL(input.PipelineID, dashboardURL)
	buttonText := "View Pipeline"
	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, buttonText, false, false))
	btn.URL = url

	return []goslack.Block{
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false), nil, nil),
		goslack.NewActionBlock("", btn),
	}
}

func buildEscalationMessage(input EscalationInput, dashboardURL string) []goslack.Block {
	url := pipelineURL(input.PipelineID, dashboardURL)
	text := fmt.Sprintf(
		":rotating_light: *Escalated to human review* — %s\n*Reason:* %s\n<%s|View in Dashboard>",
		input.IssueRef, truncateForSlack(input.Reason), url,
	)
	return []goslack.Block{
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false), nil, nil),
	}
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated — view full details in dashboard)_"
}
