// Package output renders load test progress and results for humans and CI.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/volleyload/volley/internal/load/config"
	"github.com/volleyload/volley/internal/load/engine"
)

// Cursor control for the live display
const (
	cursorUp   = "\033[%dA"
	clearLine  = "\033[2K"
	hideCursor = "\033[?25l"
	showCursor = "\033[?25h"
)

// Box drawing and progress bar characters
const (
	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"
)

// printer formats counts with thousands separators.
var printer = message.NewPrinter(language.English)

// StatusSource supplies live run state. *engine.Engine satisfies it.
type StatusSource interface {
	Status() *engine.Status
}

// Console manages console output during and after a run.
//
// On a terminal the live display is redrawn in place; otherwise one status
// line is printed every LineInterval so CI logs stay readable.
type Console struct {
	writer         io.Writer
	colors         *ColorScheme
	isTTY          bool
	quiet          bool
	updateInterval time.Duration
	lineInterval   time.Duration
	totalDuration  time.Duration

	mu          sync.Mutex
	linesOutput int
	lastLine    time.Time
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer         io.Writer
	Quiet          bool
	NoColor        bool
	ForceColors    bool
	ForceTTY       bool
	UpdateInterval time.Duration
	LineInterval   time.Duration
}

// NewConsole creates a new console output handler.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = time.Second
	}
	if cfg.LineInterval <= 0 {
		cfg.LineInterval = 10 * time.Second
	}

	isTTY := cfg.ForceTTY || isTerminal(cfg.Writer)

	var colors *ColorScheme
	switch {
	case cfg.NoColor:
		colors = NoColorScheme()
	case cfg.ForceColors || (isTTY && supportsColors()):
		colors = ForcedColorScheme()
	default:
		colors = NoColorScheme()
	}

	return &Console{
		writer:         cfg.Writer,
		colors:         colors,
		isTTY:          isTTY,
		quiet:          cfg.Quiet,
		updateInterval: cfg.UpdateInterval,
		lineInterval:   cfg.LineInterval,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the test name, target and scenario timeline.
func (c *Console) PrintHeader(cfg *config.TestConfig, baseURL string) error {
	entries, err := cfg.Timeline()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.totalDuration = config.TotalDuration(entries)
	c.mu.Unlock()

	if c.quiet {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.colors.Rule.Sprint(strings.Repeat(boxHorizontal, 64))
	c.writeln(rule)
	c.writeln(c.colors.Title.Sprintf("%s - Running", cfg.Name))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("Target:    %s", c.colors.Value.Sprint(baseURL)))
	c.writeln(fmt.Sprintf("Scenarios: %d, max duration %s (incl. graceful stop)", len(entries), formatDuration(c.totalDuration)))
	c.writeln("")
	c.write(Timeline(entries, cfg.Scenarios))
	c.writeln("")
	return nil
}

// Timeline renders the static schedule of a test, one scenario per line.
func Timeline(entries []config.TimelineEntry, scenarios config.Scenarios) string {
	var sb strings.Builder
	for _, e := range entries {
		desc := e.Executor
		if sc, ok := scenarios.Get(e.Name); ok {
			desc = sc.Describe()
		}
		fmt.Fprintf(&sb, "  %-14s start %-8s %-22s %s\n",
			e.Name, formatDuration(e.Start), "["+e.Executor+"]", desc)
	}
	return sb.String()
}

// Watch redraws the live display until ctx is done.
func (c *Console) Watch(ctx context.Context, src StatusSource) {
	if c.quiet {
		return
	}
	if c.isTTY {
		c.write(hideCursor)
		defer c.write(showCursor)
	}

	ticker := time.NewTicker(c.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Update(src.Status())
		}
	}
}

// Update renders one status. On a terminal the previous display is replaced;
// otherwise a line is printed at most once per line interval.
func (c *Console) Update(st *engine.Status) {
	if c.quiet || st == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isTTY {
		if time.Since(c.lastLine) < c.lineInterval {
			return
		}
		c.lastLine = time.Now()
		c.writeln(c.statusLine(st))
		return
	}

	c.clearLive()
	lines := c.renderLive(st)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// PrintStatusLine prints a one-line status regardless of the line interval.
func (c *Console) PrintStatusLine(st *engine.Status) {
	if c.quiet || st == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeln(c.statusLine(st))
}

func (c *Console) statusLine(st *engine.Status) string {
	return printer.Sprintf("[%s] %3.0f%% | phase %s | VUs %d | reqs %d | rps %.1f | failed %d (%.1f%%) | dropped %d | p95 %s",
		formatDuration(st.Elapsed),
		st.Progress*100,
		st.Phase,
		st.ActiveVUs,
		st.Requests,
		st.RPS,
		st.Failed,
		st.ErrorRate*100,
		st.Dropped,
		formatDurationShort(st.P95))
}

// renderLive renders the live statistics display.
func (c *Console) renderLive(st *engine.Status) []string {
	var lines []string

	total := c.totalDuration
	if total < st.Elapsed {
		total = st.Elapsed
	}
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colors.Pass.Sprint(renderProgressBar(st.Progress, 40)),
		c.colors.Title.Sprintf("%.0f%%", st.Progress*100),
		c.colors.Dim.Sprintf("%s / %s", formatDuration(st.Elapsed), formatDuration(total))))
	lines = append(lines, fmt.Sprintf("Phase:    %s", c.colors.Phase.Sprint(st.Phase)))
	lines = append(lines, "")

	const boxWidth = 64
	lines = append(lines, c.colors.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	lines = append(lines, c.formatBoxRow(
		fmt.Sprintf("VUs:      %s", c.colors.Value.Sprint(st.ActiveVUs)),
		fmt.Sprintf("Requests: %s", c.colors.Value.Sprint(formatNumber(st.Requests))),
		boxWidth))

	errColor := c.colors.ErrorRate(st.ErrorRate)
	lines = append(lines, c.formatBoxRow(
		fmt.Sprintf("RPS:      %s", c.colors.Pass.Sprintf("%.1f", st.RPS)),
		fmt.Sprintf("Failed:   %s (%s)", errColor.Sprint(formatNumber(st.Failed)), errColor.Sprintf("%.1f%%", st.ErrorRate*100)),
		boxWidth))

	lines = append(lines, c.formatBoxRow(
		fmt.Sprintf("P95:      %s", c.colors.Latency.Sprint(formatDurationShort(st.P95))),
		fmt.Sprintf("Dropped:  %s", c.colors.Value.Sprint(formatNumber(st.Dropped))),
		boxWidth))

	lines = append(lines, c.colors.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))

	for _, sc := range st.Scenarios {
		state := c.colors.Dim.Sprintf("waiting (starts at %s)", formatDuration(sc.StartOffset))
		if sc.Started {
			state = fmt.Sprintf("%s %3.0f%%", renderProgressBar(sc.Progress, 20), sc.Progress*100)
			if sc.Stats != nil {
				state += fmt.Sprintf("  VUs %d  iters %s", sc.Stats.ActiveVUs, formatNumber(sc.Stats.Iterations))
				if sc.Stats.DroppedIterations > 0 {
					state += c.colors.Warn.Sprintf("  dropped %s", formatNumber(sc.Stats.DroppedIterations))
				}
			}
		}
		lines = append(lines, fmt.Sprintf("  %-14s %s", sc.Name, state))
	}

	return lines
}

// formatBoxRow formats a row inside the stats box with two columns.
func (c *Console) formatBoxRow(left, right string, boxWidth int) string {
	colWidth := (boxWidth - 4) / 2

	leftPadding := colWidth - visibleWidth(left)
	if leftPadding < 0 {
		leftPadding = 0
	}
	rightPadding := colWidth - visibleWidth(right)
	if rightPadding < 0 {
		rightPadding = 0
	}

	border := c.colors.Dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s%s %s%s %s",
		border,
		left, strings.Repeat(" ", leftPadding),
		border,
		right, strings.Repeat(" ", rightPadding),
		border)
}

// clearLive erases the previous live display. Callers hold c.mu.
func (c *Console) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

// PrintSummary prints the end-of-test summary.
func (c *Console) PrintSummary(result *engine.TestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		if result.Passed {
			c.writeln(c.colors.Pass.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Fail.Sprint("FAILED"))
		}
		return
	}

	if c.isTTY {
		c.clearLive()
	}
	c.write(Summary(result, c.colors))
}

// write writes to the output without a newline.
func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

// writeln writes to the output with a newline.
func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// renderProgressBar renders a progress bar.
func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a latency in a short format.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a count with thousands separators.
func formatNumber(n int64) string {
	return printer.Sprintf("%d", n)
}

// formatBytes formats a byte count with a binary unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// visibleWidth is the number of runes s occupies once ANSI codes are removed.
func visibleWidth(s string) int {
	return len([]rune(stripANSI(s)))
}

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') {
				inEscape = false
			}
			continue
		}
		result.WriteByte(s[i])
	}

	return result.String()
}
