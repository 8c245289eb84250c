package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"

	"github.com/gittest/gittest/internal/model"
)

// WorkerStatus renders one line per worker slot, showing the commit it is
// currently testing behind a spinner when the terminal supports it, and as
// a plain status line otherwise. An idle slot gets no line of its own.
type WorkerStatus struct {
	mu       sync.Mutex
	spinners map[int]*spinner.Spinner
	symbols  ProgressSymbols
	caps     TerminalCapabilities
	out      io.Writer
}

// NewWorkerStatus returns a WorkerStatus for jobs worker slots.
func NewWorkerStatus(out io.Writer, jobs int) *WorkerStatus {
	caps := DetectTerminalCapabilities()
	ws := &WorkerStatus{
		spinners: make(map[int]*spinner.Spinner, jobs),
		symbols:  SelectSymbols(caps),
		caps:     caps,
		out:      out,
	}
	return ws
}

// Start begins showing worker id as testing commit.
func (w *WorkerStatus) Start(id int, commit model.CommitID) {
	label := fmt.Sprintf(" worker %d: testing %s", id, commit)
	if !w.caps.IsTTY {
		fmt.Fprintln(w.out, label)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	s := spinner.New(spinner.CharSets[w.symbols.SpinnerSet], 100*time.Millisecond)
	s.Suffix = label
	s.Writer = w.out
	s.Start()
	w.spinners[id] = s
}

// Done stops worker id's spinner and prints its final icon.
func (w *WorkerStatus) Done(id int, commit model.CommitID, status model.TestStatus) {
	icon := w.symbols.Checkmark
	if status.Bucket() != model.BucketPassed {
		icon = w.symbols.Failure
	}

	w.mu.Lock()
	s, ok := w.spinners[id]
	if ok {
		delete(w.spinners, id)
	}
	w.mu.Unlock()

	if s != nil {
		s.Stop()
	}
	if !ok && w.caps.IsTTY {
		return
	}
	fmt.Fprintf(w.out, " %s worker %d: %s\n", icon, id, commit)
}

// StopAll halts every in-flight spinner, used when the scheduler aborts or
// the run completes with workers still spinning.
func (w *WorkerStatus) StopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, s := range w.spinners {
		s.Stop()
		delete(w.spinners, id)
	}
}
