package conversation

import (
	"fmt"
	"strconv"
	"strings"
)

// OutboundMessage is one reply for the transport. Markdown marks text that
// uses Markdown formatting; everything else is sent as plain text.
type OutboundMessage struct {
	Text     string
	Markdown bool
}

func plain(text string) OutboundMessage { return OutboundMessage{Text: text} }

const (
	usageText = "Commands:\n" +
		"/keywords - top keywords for a topic, ranked by content gap score\n" +
		"/trending - fast-growing keywords for a topic\n" +
		"/hashtags - popular hashtags right now\n" +
		"/music - popular tracks for a region\n" +
		"/reset - cancel the current request\n" +
		"/help - show this message"

	welcomeText  = "Hi! I look up TikTok Creative Center trends and turn them into video ideas.\n\n" + usageText
	resetText    = "Request cancelled. Send a command to start again."
	idleText     = "Send a command to start.\n\n" + usageText
	keywordText  = "Enter a keyword or topic."
	regionText   = "Which region? For example: United States."
	busyText     = "All browser sessions are busy right now. Please try again in a minute."
	failureText  = "Sorry, something went wrong while collecting data. Please try again later."
	verifyText   = "TikTok asked for a human verification check, so the data is unavailable right now. Please try again later."
	noIdeaText   = "Sorry, I could not generate an idea right now. Please try again later."
	noAnswerText = "Sorry, I could not prepare the analysis right now. Please try again later."
	noChatText   = "Sorry, I could not answer right now. Please try again later."
	storeText    = "Sorry, I could not load your conversation. Please try again."
)

func unknownCommandText(cmd string) string {
	return fmt.Sprintf("Unknown command %s.\n\n%s", cmd, usageText)
}

func periodText(periods []int) string {
	parts := make([]string, len(periods))
	for i, p := range periods {
		parts[i] = strconv.Itoa(p)
	}
	return fmt.Sprintf("Choose a period in days: %s.", strings.Join(parts, ", "))
}

func invalidPeriodText(periods []int) string {
	return "That is not one of the offered periods. " + periodText(periods)
}

func selectionText(n int) string {
	return fmt.Sprintf("Reply with a number from 1 to %d, or /reset to cancel.", n)
}

func noDataText(topic string) string {
	return fmt.Sprintf("No data found for %q. Here is a video idea instead:", topic)
}
