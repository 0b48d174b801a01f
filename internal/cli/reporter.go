package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vartec-chs/filecrypt/internal/util"
)

// Reporter renders engine.ProgressFunc callbacks as a single
// overwritten terminal line, and doubles as the Ctrl+C cancellation
// target for the context passed into engine/batch operations.
type Reporter struct {
	mu        sync.Mutex
	status    string
	progress  float32
	info      string
	quiet     bool
	cancelled atomic.Bool
	cancel    context.CancelFunc
	start     time.Time
	lastLine  int // Length of last printed line (for clearing)
}

// NewReporter creates a new CLI progress reporter. If quiet is true,
// only errors are printed. cancel is called (in addition to marking
// IsCancelled) when Cancel is invoked.
func NewReporter(quiet bool, cancel context.CancelFunc) *Reporter {
	return &Reporter{
		quiet:  quiet,
		cancel: cancel,
		start:  time.Now(),
	}
}

// Progress adapts engine.ProgressFunc's (processed, total int64) shape
// to the reporter's bar/percentage/throughput/ETA display, built on
// internal/util's Statify/Sizeify/Timeify.
func (r *Reporter) Progress(processed, total int64) {
	if total <= 0 {
		r.SetProgress(0, "")
		r.Update()
		return
	}
	fraction, speedMiBps, eta := util.Statify(processed, total, r.start)
	info := fmt.Sprintf("%s / %s at %.2f MiB/s (ETA %s)", util.Sizeify(processed), util.Sizeify(total), speedMiBps, eta)
	r.SetProgress(fraction, info)
	r.Update()
}

// BatchProgress adapts internal/batch's aggregate (itemsDone, itemsTotal,
// bytesDone, bytesTotal) callback shape to the same display.
func (r *Reporter) BatchProgress(itemsDone, itemsTotal int, bytesDone, bytesTotal int64) {
	fraction, speedMiBps, eta := util.Statify(bytesDone, bytesTotal, r.start)
	info := fmt.Sprintf("item %d/%d, %s / %s at %.2f MiB/s (ETA %s)",
		itemsDone, itemsTotal, util.Sizeify(bytesDone), util.Sizeify(bytesTotal), speedMiBps, eta)
	r.SetProgress(fraction, info)
	r.Update()
}

// SetStatus updates the status message.
func (r *Reporter) SetStatus(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = text
}

// SetProgress updates the progress bar and info text.
func (r *Reporter) SetProgress(fraction float32, info string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = fraction
	r.info = info
}

// SetCanCancel enables/disables cancellation (no-op for CLI, always cancellable via Ctrl+C).
func (r *Reporter) SetCanCancel(can bool) {
	// No-op for CLI - cancellation is handled via OS signals
}

// Update triggers a UI refresh - prints current status to terminal.
func (r *Reporter) Update() {
	if r.quiet {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Build progress bar
	barWidth := 30
	filled := min(int(r.progress*float32(barWidth)), barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	// Format: [███████░░░░░░░░░░░░░░░░░░░░░░░] 25.00% | 1.00 MiB / 4.00 MiB at 150.00 MiB/s (ETA 00:00:05) | Encrypting
	line := fmt.Sprintf("\r[%s] %.2f%% | %s | %s", bar, r.progress*100, r.info, r.status)

	// Clear previous line if it was longer
	if len(line) < r.lastLine {
		line += strings.Repeat(" ", r.lastLine-len(line))
	}
	r.lastLine = len(line)

	fmt.Fprint(os.Stderr, line)
}

// IsCancelled checks if the operation was cancelled.
func (r *Reporter) IsCancelled() bool {
	return r.cancelled.Load()
}

// Cancel marks the operation as cancelled and cancels the associated
// context, if one was supplied to NewReporter.
func (r *Reporter) Cancel() {
	r.cancelled.Store(true)
	if r.cancel != nil {
		r.cancel()
	}
}

// Finish prints a newline to move past the progress line.
func (r *Reporter) Finish() {
	if !r.quiet {
		fmt.Fprintln(os.Stderr)
	}
}

// PrintError prints an error message.
func (r *Reporter) PrintError(format string, args ...any) {
	// Move to new line if we were showing progress
	if !r.quiet && r.lastLine > 0 {
		fmt.Fprintln(os.Stderr)
	}
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// PrintSuccess prints a success message.
func (r *Reporter) PrintSuccess(format string, args ...any) {
	if r.quiet {
		return
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
