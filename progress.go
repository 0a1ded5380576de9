package capbatch

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Progress counts terminal outcomes for a run and draws a progress bar. It is
// safe for concurrent use, items call Complete as they finish in any order.
type Progress struct {
	total     int
	done      atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64

	bar *progressbar.ProgressBar
}

// NewProgress returns a tracker for total items drawing to w. A nil w
// disables the bar.
func NewProgress(total int, w io.Writer) *Progress {
	p := &Progress{total: total}
	if w == nil || total <= 0 {
		return p
	}

	p.bar = progressbar.NewOptions(
		total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Captioning"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionFullWidth(),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
	)
	return p
}

// Complete records one terminal outcome, err is nil for a success.
func (p *Progress) Complete(err error) {
	if err != nil {
		p.failed.Add(1)
	} else {
		p.succeeded.Add(1)
	}
	p.done.Add(1)

	if p.bar != nil {
		p.bar.Add(1)
	}
}

func (p *Progress) Total() int     { return p.total }
func (p *Progress) Done() int      { return int(p.done.Load()) }
func (p *Progress) Succeeded() int { return int(p.succeeded.Load()) }
func (p *Progress) Failed() int    { return int(p.failed.Load()) }

func (p *Progress) Finish() {
	if p.bar != nil {
		p.bar.Finish()
	}
}
