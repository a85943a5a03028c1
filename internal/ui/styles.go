package ui

import "fmt"

// ANSI256 color codes.
const (
	colorAccent = 74  // blue
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorWarn   = 179 // amber
	colorFail   = 167 // red
)

var noColor bool

func render(color int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", color, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderStatus colors a health or component status word: "ok" green,
// "degraded" amber, anything else red.
func RenderStatus(status string) string {
	switch status {
	case "ok", "SERVING":
		return render(colorOK, status)
	case "degraded":
		return render(colorWarn, status)
	default:
		return render(colorFail, status)
	}
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
