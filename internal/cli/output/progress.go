package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// ProgressBar draws a byte-count progress bar on one terminal line.
type ProgressBar struct {
	mu      sync.Mutex
	w       io.Writer
	title   string
	total   int64
	current int64
	width   int
}

// NewProgressBar creates a progress bar writing to w, usually stderr.
func NewProgressBar(w io.Writer, title string) *ProgressBar {
	return &ProgressBar{w: w, title: title, width: 30}
}

// Update sets the progress. Its signature matches the storage progress
// callbacks.
func (p *ProgressBar) Update(current, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current, p.total = current, total
	p.render()
}

// Finish marks the bar complete and ends the line.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total > 0 {
		p.current = p.total
	}
	p.render()
	fmt.Fprintln(p.w)
}

func (p *ProgressBar) render() {
	if p.total <= 0 {
		fmt.Fprintf(p.w, "\r%s %s", p.title, formatBytes(p.current))
		return
	}
	frac := float64(p.current) / float64(p.total)
	if frac > 1 {
		frac = 1
	}
	filled := int(float64(p.width) * frac)
	fmt.Fprintf(p.w, "\r%s [%s%s] %3.0f%% (%s/%s)",
		p.title,
		strings.Repeat("#", filled),
		strings.Repeat(".", p.width-filled),
		frac*100,
		formatBytes(p.current),
		formatBytes(p.total),
	)
}

// formatBytes formats a byte count with binary units.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
