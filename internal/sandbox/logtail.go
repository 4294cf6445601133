package sandbox

import (
	"context"
	"strings"
	"sync"
	"time"
)

// TailLog reads the last maxLines lines of path inside the sandbox via an
// in-sandbox tail command, then truncates the result to maxChars characters
// keeping the tail (spec.md §4.3 "Log tail reader"). Missing files read as
// empty rather than erroring, since a log may not exist yet during the
// earliest moments of a stage.
func TailLog(ctx context.Context, sb Sandbox, path string, maxLines, maxChars int) (string, error) {
	res, err := sb.Exec(ctx, []string{"sh", "-c", "tail -n " + itoa(maxLines) + " " + shQuote(path) + " 2>/dev/null || true"}, 10*time.Second)
	if err != nil {
		return "", err
	}
	return truncateTail(res.Stdout, maxChars), nil
}

// truncateTail keeps only the trailing maxChars characters of s.
func truncateTail(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[len(r)-maxChars:])
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func itoa(n int) string {
	if n <= 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// LogStreamer polls a log file on an interval and reports only the content
// appended since the last poll, by diffing against the last known trailing
// line (spec.md §4.3 "The streamer diffs against the last known trailing
// line to emit only new content"). It is a child task with an explicit stop
// signal, per spec.md §9.
type LogStreamer struct {
	sb       Sandbox
	path     string
	interval time.Duration
	maxLines int
	maxChars int
	onNew    func(string)

	mu       sync.Mutex
	lastSeen string
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewLogStreamer(sb Sandbox, path string, interval time.Duration, maxLines, maxChars int, onNew func(string)) *LogStreamer {
	return &LogStreamer{
		sb: sb, path: path, interval: interval, maxLines: maxLines, maxChars: maxChars,
		onNew: onNew, stopCh: make(chan struct{}), doneCh: make(chan struct{}),
	}
}

// Start begins polling in a background goroutine; Stop must be called to
// release it.
func (l *LogStreamer) Start(ctx context.Context) {
	go func() {
		defer close(l.doneCh)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			case <-ticker.C:
				l.poll(ctx)
			}
		}
	}()
}

func (l *LogStreamer) poll(ctx context.Context) {
	tail, err := TailLog(ctx, l.sb, l.path, l.maxLines, l.maxChars)
	if err != nil || tail == "" {
		return
	}
	l.mu.Lock()
	prev := l.lastSeen
	var fresh string
	switch {
	case prev == "":
		fresh = tail
	case strings.HasPrefix(tail, prev):
		fresh = tail[len(prev):]
	default:
		// The tail rotated past what we last saw (e.g. truncation); surface
		// the whole new tail rather than guessing at an overlap.
		fresh = tail
	}
	l.lastSeen = tail
	l.mu.Unlock()

	fresh = strings.Trim(fresh, "\n")
	if fresh != "" {
		l.onNew(fresh)
	}
}

// Stop halts the poller and waits for its goroutine to exit.
func (l *LogStreamer) Stop() {
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
	<-l.doneCh
}
