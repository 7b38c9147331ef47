package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// style is an ANSI SGR parameter.
type style int

const (
	colorBold   style = 1
	colorRed    style = 31
	colorGreen  style = 32
	colorYellow style = 33
	colorCyan   style = 36
)

// feedback receives CLI status lines; stdout stays free for data.
var feedback io.Writer = os.Stderr

func colorize(s style, text string) string {
	if noColor {
		return text
	}
	return fmt.Sprintf("\033[%dm%s\033[0m", s, text)
}

type noticeKind int

const (
	noticeSuccess noticeKind = iota
	noticeError
	noticeWarning
	noticeStep
)

var notices = [...]struct {
	glyph string
	color style
}{
	noticeSuccess: {"✓", colorGreen},
	noticeError:   {"✗", colorRed},
	noticeWarning: {"⚠", colorYellow},
	noticeStep:    {"→", colorCyan},
}

// notify writes one glyph-prefixed line to feedback.
func notify(k noticeKind, format string, args ...any) {
	n := notices[k]
	fmt.Fprintln(feedback, colorize(n.color, n.glyph+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notify(noticeSuccess, format, args...) }
func printError(format string, args ...any) { notify(noticeError, format, args...) }
func printWarning(format string, args ...any) { notify(noticeWarning, format, args...) }
func printStep(format string, args ...any) { notify(noticeStep, format, args...) }

// printStatus writes an indented "label: value" line.
func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(feedback, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

// quietLogger is for library code run from one-shot commands: it reports
// warnings on the feedback stream and drops info chatter.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(feedback, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
