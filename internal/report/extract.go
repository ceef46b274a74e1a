// Package report reconstructs the final Markdown report from the text an
// agent produced over the course of a run.
//
// The agent writes intermediate reasoning during research and the report
// itself at the end, possibly split over several messages. Extract walks a
// fixed cascade of strategies, from the most specific (one message is the
// whole report) to the most permissive (everything the agent said).
package report

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	strictMinLength  = 1000
	relaxedMinLength = 500
	headingMinLength = 300
	resultMinLength  = 200

	maxWindow       = 7
	maxResultWindow = 4
)

type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyResult
	StrategySingleMessage
	StrategyMessageWindow
	StrategyHeadingScan
	StrategyResultWindow
	StrategyRelaxedSingleMessage
	StrategyRelaxedMessageWindow
	StrategyEverything
)

func (s Strategy) String() string {
	switch s {
	case StrategyResult:
		return "result"
	case StrategySingleMessage:
		return "single_message"
	case StrategyMessageWindow:
		return "message_window"
	case StrategyHeadingScan:
		return "heading_scan"
	case StrategyResultWindow:
		return "result_window"
	case StrategyRelaxedSingleMessage:
		return "relaxed_single_message"
	case StrategyRelaxedMessageWindow:
		return "relaxed_message_window"
	case StrategyEverything:
		return "everything"
	default:
		return "none"
	}
}

var (
	h1Pattern       = regexp.MustCompile(`(?m)^# .+`)
	h2Pattern       = regexp.MustCompile(`(?m)^## .+`)
	titledH1Pattern = regexp.MustCompile(`(?mi)^# .*(?:market|research|brief|report|analysis|overview|executive)`)
)

const separator = "\n\n"

// LooksLikeReport reports whether text has a top-level heading, a
// second-level heading and more than minLength characters.
func LooksLikeReport(text string, minLength int) bool {
	return h1Pattern.MatchString(text) &&
		h2Pattern.MatchString(text) &&
		utf8.RuneCountInString(text) > minLength
}

// HasTitledHeading reports whether text has a top-level heading naming a
// report-like subject (market, research, brief, ...).
func HasTitledHeading(text string) bool {
	return titledH1Pattern.MatchString(text)
}

// Extract returns the best-effort report found in the agent output. It never
// fails; the result is empty only when every input is empty.
func Extract(terminalResult string, messageTexts []string) string {
	text, _ := ExtractWithStrategy(terminalResult, messageTexts)
	return text
}

// ExtractWithStrategy is Extract that also reports which strategy matched.
func ExtractWithStrategy(terminalResult string, messageTexts []string) (string, Strategy) {
	if terminalResult != "" && LooksLikeReport(terminalResult, strictMinLength) {
		return strings.TrimSpace(terminalResult), StrategyResult
	}
	if text, ok := latestMessage(messageTexts, strictMinLength); ok {
		return text, StrategySingleMessage
	}
	if text, ok := trailingWindow(messageTexts, strictMinLength); ok {
		return text, StrategyMessageWindow
	}

	fullText := strings.Join(messageTexts, separator)
	if terminalResult != "" {
		fullText += separator + terminalResult
	}
	if text, ok := fromFirstHeading(fullText); ok {
		return text, StrategyHeadingScan
	}

	if utf8.RuneCountInString(terminalResult) > resultMinLength {
		limit := min(maxResultWindow, len(messageTexts))
		for n := 1; n <= limit; n++ {
			combined := joinLast(messageTexts, n) + separator + terminalResult
			if LooksLikeReport(combined, relaxedMinLength) {
				return strings.TrimSpace(combined), StrategyResultWindow
			}
		}
	}

	if text, ok := latestMessage(messageTexts, relaxedMinLength); ok {
		return text, StrategyRelaxedSingleMessage
	}
	if text, ok := trailingWindow(messageTexts, relaxedMinLength); ok {
		return text, StrategyRelaxedMessageWindow
	}

	if trimmed := strings.TrimSpace(fullText); trimmed != "" {
		return trimmed, StrategyEverything
	}
	return terminalResult, StrategyNone
}

func latestMessage(messageTexts []string, minLength int) (string, bool) {
	for i := len(messageTexts) - 1; i >= 0; i-- {
		if LooksLikeReport(messageTexts[i], minLength) {
			return strings.TrimSpace(messageTexts[i]), true
		}
	}
	return "", false
}

func trailingWindow(messageTexts []string, minLength int) (string, bool) {
	limit := min(maxWindow, len(messageTexts))
	for n := 2; n <= limit; n++ {
		combined := joinLast(messageTexts, n)
		if LooksLikeReport(combined, minLength) {
			return strings.TrimSpace(combined), true
		}
	}
	return "", false
}

// fromFirstHeading prefers a titled heading and falls back to the first
// top-level heading of any kind. A stray "# Notes" in earlier reasoning can
// win the fallback; that is accepted behavior.
func fromFirstHeading(fullText string) (string, bool) {
	loc := titledH1Pattern.FindStringIndex(fullText)
	if loc == nil {
		loc = h1Pattern.FindStringIndex(fullText)
	}
	if loc == nil {
		return "", false
	}
	portion := strings.TrimSpace(fullText[loc[0]:])
	if utf8.RuneCountInString(portion) > headingMinLength {
		return portion, true
	}
	return "", false
}

func joinLast(messageTexts []string, n int) string {
	return strings.Join(messageTexts[len(messageTexts)-n:], separator)
}
