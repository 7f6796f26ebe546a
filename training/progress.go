package training

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	metricStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	labelStyle  = lipgloss.NewStyle().Bold(true)
)

// ProgressBar provides tqdm-style progress for one epoch, with the running
// loss averages as a postfix.
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	showRate    bool
	showETA     bool
	interactive bool
	metrics     map[string]float64
}

// NewProgressBar creates a progress bar writing to out. When out is a
// terminal the line is redrawn in place and styled; otherwise only the
// finished line is written.
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	interactive := false
	width := 40
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		interactive = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 100 {
			width = min(70, w-60)
		}
	}

	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       width,
		showRate:    true,
		showETA:     true,
		interactive: interactive,
		metrics:     make(map[string]float64),
	}
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	if pb.interactive {
		fmt.Fprint(pb.out, "\r"+pb.line())
	}
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	if pb.interactive {
		fmt.Fprint(pb.out, "\r"+pb.line()+"\n")
		return
	}
	fmt.Fprintln(pb.out, pb.line())
}

// line renders the current state without a carriage return.
func (pb *ProgressBar) line() string {
	percentage := 1.0
	if pb.total > 0 {
		percentage = min(float64(pb.current)/float64(pb.total), 1.0)
	}

	filled := min(int(percentage*float64(pb.width)), pb.width)
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			eta = time.Duration(float64(elapsed)/percentage) - elapsed
		}
	}

	description := pb.description
	if pb.interactive {
		description = labelStyle.Render(description)
		bar = barStyle.Render(bar)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %3.0f%%|%s| %d/%d", description, percentage*100, bar, pb.current, pb.total)

	if pb.showETA && eta > 0 {
		fmt.Fprintf(&b, " [%s<%s", formatDuration(elapsed), formatDuration(eta))
	} else {
		fmt.Fprintf(&b, " [%s<00:00", formatDuration(elapsed))
	}

	if pb.showRate && rate > 0 && !math.IsInf(rate, 0) {
		fmt.Fprintf(&b, ", %.2fit/s", rate)
	}

	names := make([]string, 0, len(pb.metrics))
	for name := range pb.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		metric := fmt.Sprintf("%s=%.3f", name, pb.metrics[name])
		if pb.interactive {
			metric = metricStyle.Render(metric)
		}
		b.WriteString(", " + metric)
	}

	b.WriteString("]")
	return b.String()
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
