package app

import (
	"fmt"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/brensch/deccp/internal/orchestrator"
	"github.com/brensch/deccp/internal/work"
)

// Bridge turns orchestrator progress callbacks into UI messages.
// Every callback blocks until the UI has received the message or done is closed;
// after that the messages are dropped so the run can drain without a reader.
type Bridge struct {
	tag     string
	out     chan<- tea.Msg
	done    <-chan struct{}
	total   int64
	current atomic.Int64
}

// NewBridge returns a Bridge sending on out until done is closed.
func NewBridge(tag string, out chan<- tea.Msg, done <-chan struct{}) *Bridge {
	return &Bridge{tag: tag, out: out, done: done}
}

func (b *Bridge) send(msg tea.Msg) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.out <- msg:
		return true
	case <-b.done:
		return false
	}
}

func (b *Bridge) Planned(total int, skipped []string, queued int) {
	b.total = int64(queued)
	if !b.send(NewProgress(b.tag, 0, b.total, fmt.Sprintf("%d entries, %d skipped", total, len(skipped)))) {
		return
	}
	for _, name := range skipped {
		if !b.send(NewFileProgress(name, name, StatusSkipped, 0, "")) {
			return
		}
	}
}

func (b *Bridge) Started(name string) {
	b.send(NewFileProgress(name, name, StatusDecompiling, 0, ""))
}

func (b *Bridge) Applied(o work.Outcome) {
	current := b.current.Add(1)
	status := StatusComplete
	if o.Failed() {
		status = StatusError
	}
	if b.send(NewFileProgress(o.Name, o.Name, status, o.Elapsed, o.Err)) {
		b.send(NewProgress(b.tag, current, b.total, o.Name))
	}
}

func (b *Bridge) Finished(orchestrator.Summary) {}
