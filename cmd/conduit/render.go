package main

import (
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"

	"github.com/kbukum/conduit/job"
	"github.com/kbukum/conduit/stream"
)

var (
	bold  = color.New(color.Bold)
	red   = color.New(color.FgRed)
	faint = color.New(color.Faint)
)

// renderPreview writes r as a table followed by a row count line.
func renderPreview(w io.Writer, chain string, r *stream.Raster) error {
	_, _ = bold.Fprintf(w, "%s\n", chain)

	table := tablewriter.NewWriter(w)
	header := make([]any, len(r.Columns))
	for i, c := range r.Columns {
		header[i] = string(c)
	}
	table.Header(header...)
	for _, row := range r.Rows {
		cells := make([]any, len(row))
		for i, v := range row {
			cells[i] = cell(v)
		}
		if err := table.Append(cells...); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := faint.Fprintf(w, "%d rows\n", r.Len())
	return err
}

const maxCellWidth = 60

func cell(v stream.Value) string {
	if v.IsInvalid() {
		return red.Sprint(v.String())
	}
	s := v.String()
	if utf8.RuneCountInString(s) > maxCellWidth {
		return string([]rune(s)[:maxCellWidth-3]) + "..."
	}
	return s
}

const (
	progressSteps    = 1000
	progressThrottle = 65 * time.Millisecond
)

// progressObserver mirrors a job's progress onto a progress bar.
type progressObserver struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

var _ job.Observer = (*progressObserver)(nil)

func newProgressObserver(w io.Writer, description string) *progressObserver {
	return &progressObserver{bar: progressbar.NewOptions(progressSteps,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionThrottle(progressThrottle),
	)}
}

func (p *progressObserver) JobProgressed(_ *job.Job, progress float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := int(progress * progressSteps); n > 0 {
		_ = p.bar.Set(n)
	}
}

func (p *progressObserver) JobCancelled(*job.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar.Describe("cancelled")
}

// finish completes and clears the bar.
func (p *progressObserver) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.bar.Finish()
}
