package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/kitt/internal/session"
)

// barWidth is the number of cells in the console level bar.
const barWidth = 32

// Console is the terminal front-end. Enter toggles listening, q quits. The
// state label, a level bar for the active source and error alerts are drawn
// to out.
type Console struct {
	hub  *Hub
	ctrl Controller
	in   io.Reader
	out  io.Writer

	mu sync.Mutex // guards out
}

// NewConsole creates a Console reading keys from in and drawing to out.
func NewConsole(hub *Hub, ctrl Controller, in io.Reader, out io.Writer) *Console {
	return &Console{hub: hub, ctrl: ctrl, in: in, out: out}
}

// Run draws events until ctx is cancelled, in reaches EOF, or the user types
// q. It returns nil in every case; it has no failure of its own.
func (c *Console) Run(ctx context.Context) error {
	sub := c.hub.Subscribe(DefaultBuffer)
	defer sub.Close()

	lines := make(chan string)
	// The reader goroutine stays blocked on in until the process exits when
	// in is a terminal.
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	c.printf("KITT online. Enter: VOICE COMMAND / END TRANSMISSION, q: quit\n")
	var turns sync.WaitGroup
	defer turns.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || line == "q" || line == "quit" {
				c.printf("\n")
				return nil
			}
			turns.Add(1)
			go func() {
				defer turns.Done()
				c.toggle(ctx)
			}()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			c.draw(ev)
		}
	}
}

func (c *Console) toggle(ctx context.Context) {
	// Turn failures arrive through the hub as error events.
	err := c.ctrl.Toggle(ctx)
	if errors.Is(err, session.ErrTurnInFlight) || errors.Is(err, session.ErrNotListening) {
		c.printf("\r\033[K(busy, try again when READY)\n")
	}
}

func (c *Console) draw(ev Event) {
	switch ev.Type {
	case EventState:
		c.printf("\r\033[K[%s]\n", stateLabel(ev.State))
		if ev.State == session.StateIdle.String() {
			c.printStats()
		}
	case EventLevel:
		if ev.Level != nil {
			c.printf("\r\033[K%-7s %s", ev.Source, levelBar(*ev.Level))
		}
	case EventError:
		c.printf("\r\033[K! %s\n", ev.Message)
	case EventTurn:
		c.printf("\r\033[K> %s\nKITT: %s\n", ev.Transcript, ev.Reply)
	}
}

func (c *Console) printStats() {
	snap := c.hub.Stats().Snapshot()
	if snap.Turns == 0 {
		return
	}
	c.printf("  turns %d  errors %d  p50 %s  p95 %s\n",
		snap.Turns, snap.Errors,
		snap.Latency.P50.Round(10*time.Millisecond),
		snap.Latency.P95.Round(10*time.Millisecond),
	)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// stateLabel returns the status text shown for a wire state name.
func stateLabel(state string) string {
	switch state {
	case session.StateListening.String():
		return "VOICE INPUT ACTIVE"
	case session.StateProcessing.String():
		return "PROCESSING..."
	case session.StateSpeaking.String():
		return "KITT SPEAKING"
	default:
		return "READY"
	}
}

// levelBar renders level (clamped to [0,1]) as a fixed-width bar.
func levelBar(level float64) string {
	level = max(0, min(1, level))
	n := int(level*barWidth + 0.5)
	return "[" + strings.Repeat("█", n) + strings.Repeat("·", barWidth-n) + fmt.Sprintf("] %3.0f%%", level*100)
}
