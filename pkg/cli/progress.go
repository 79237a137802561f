package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressReporter reports progress for bulk operations.
type ProgressReporter interface {
	Start(total int64)
	Increment()
	Fail(err error)
	Finish()
}

// barWidth is the number of cells in the progress bar.
const barWidth = 30

// SimpleProgress renders a single updating line.
type SimpleProgress struct {
	mu      sync.Mutex
	writer  io.Writer
	unit    string
	total   int64
	done    int64
	failed  int64
	started time.Time
	now     func() time.Time
}

// NewProgressReporter creates a reporter that writes to w, counting items
// named unit. A nil w writes to os.Stderr.
func NewProgressReporter(w io.Writer, unit string) *SimpleProgress {
	if w == nil {
		w = os.Stderr
	}
	if unit == "" {
		unit = "items"
	}
	return &SimpleProgress{writer: w, unit: unit, now: time.Now}
}

// Start resets the reporter for total items.
func (p *SimpleProgress) Start(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.done = 0
	p.failed = 0
	p.started = p.now()
	p.render()
}

// Increment records one successful item.
func (p *SimpleProgress) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	p.render()
}

// Fail records one failed item and prints err on its own line.
func (p *SimpleProgress) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	p.failed++
	fmt.Fprintf(p.writer, "\r\033[K✗ %v\n", err)
	p.render()
}

// Finish prints the summary line.
func (p *SimpleProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.render()
	elapsed := p.now().Sub(p.started).Round(time.Millisecond)
	fmt.Fprintf(p.writer, "\n%d %s processed, %d failed in %s\n", p.done, p.unit, p.failed, elapsed)
}

// Counts returns the processed and failed totals.
func (p *SimpleProgress) Counts() (done, failed int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.failed
}

func (p *SimpleProgress) render() {
	if p.total <= 0 {
		return
	}

	filled := int(int64(barWidth) * min(p.done, p.total) / p.total)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	fmt.Fprintf(p.writer, "\r[%s] %d/%d %s", bar, p.done, p.total, p.unit)
}
