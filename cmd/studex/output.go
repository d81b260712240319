package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/studex/studex/internal/notify"
	"github.com/studex/studex/internal/remote"
)

var (
	colorGreen  = newColor(color.FgGreen)
	colorRed    = newColor(color.FgRed)
	colorYellow = newColor(color.FgYellow)
	colorCyan   = newColor(color.FgCyan)
	colorBold   = newColor(color.Bold)
	colorFaint  = newColor(color.Faint)
)

// newColor ignores color's own terminal detection; --no-color decides.
func newColor(attr color.Attribute) *color.Color {
	c := color.New(attr)
	c.EnableColor()
	return c
}

func colorize(c *color.Color, text string) string {
	if noColor {
		return text
	}
	return c.Sprint(text)
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(w io.Writer, label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(w, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// printNotification renders one toast the way the status helpers do.
func printNotification(n notify.Notification) {
	text := n.Title
	if n.Body != "" {
		text += ": " + strings.ReplaceAll(n.Body, "\n", "; ")
	}
	switch n.Kind {
	case notify.Success:
		printSuccess("%s", text)
	case notify.Error:
		printError("%s", text)
	case notify.Warning:
		printWarning("%s", text)
	default:
		printStep("%s", text)
	}
}

func printServices(w io.Writer, services []remote.Service, total int) {
	if len(services) == 0 {
		fmt.Fprintln(w, "No services found.")
		return
	}
	for _, s := range services {
		fmt.Fprintf(w, "%s  %s  %s\n",
			colorize(colorCyan, fmt.Sprintf("%-6s", s.ID)),
			colorize(colorBold, s.Title),
			colorize(colorFaint, fmt.Sprintf("[%s] ₦%.0f by %s", s.Category, s.Price, s.FreelancerName)),
		)
	}
	if total > len(services) {
		fmt.Fprintf(w, "(%d of %d)\n", len(services), total)
	}
}

func printJobs(w io.Writer, jobs []remote.Job, total int) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found.")
		return
	}
	for _, j := range jobs {
		deadline := ""
		if j.Deadline != "" {
			deadline = ", due " + j.Deadline
		}
		fmt.Fprintf(w, "%s  %s  %s\n",
			colorize(colorCyan, fmt.Sprintf("%-6s", j.ID)),
			colorize(colorBold, j.Title),
			colorize(colorFaint, fmt.Sprintf("[%s] budget ₦%d%s", j.Category, j.Budget, deadline)),
		)
	}
	if total > len(jobs) {
		fmt.Fprintf(w, "(%d of %d)\n", len(jobs), total)
	}
}
