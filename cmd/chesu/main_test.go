package main

import (
	"context"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samueldurantes/chesu-client/internal/gamesync"
)

type stubSession struct {
	view  gamesync.View
	moves []string
}

func (s *stubSession) View() gamesync.View { return s.view }

func (s *stubSession) AttemptMove(_ context.Context, san string) error {
	s.moves = append(s.moves, san)
	return nil
}

func TestSignalTerminal(t *testing.T) {
	ch := make(chan struct{}, 1)

	signalTerminal(ch, gamesync.View{Phase: gamesync.PhaseSynced})
	if len(ch) != 0 {
		t.Fatal("signaled before the game was decided")
	}

	signalTerminal(ch, gamesync.View{Phase: gamesync.PhaseTerminal})
	if len(ch) != 1 {
		t.Fatal("terminal phase not signaled")
	}

	// A full channel must not block the change callback.
	signalTerminal(ch, gamesync.View{Phase: gamesync.PhaseTerminal})
	if len(ch) != 1 {
		t.Fatal("signal should be dropped when one is already pending")
	}
}

func TestRunInputLoop_TerminalHandledWhileIdle(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	terminal := make(chan struct{}, 2)
	terminal <- struct{}{}

	var fired atomic.Int32
	done := make(chan struct{})
	go func() {
		runInputLoop(context.Background(), &stubSession{}, pr, terminal, func() {
			fired.Add(1)
		})
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("terminal state never handled while input was idle")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A second signal must not re-run the handler; EOF ends the loop.
	terminal <- struct{}{}
	_ = pw.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on input EOF")
	}
	if got := fired.Load(); got != 1 {
		t.Fatalf("terminal handler ran %d times", got)
	}
}

func TestRunInputLoop_QuitAndMoves(t *testing.T) {
	session := &stubSession{}
	terminal := make(chan struct{}, 1)

	done := make(chan struct{})
	go func() {
		runInputLoop(context.Background(), session, strings.NewReader("e4\n/quit\n"), terminal, func() {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on /quit")
	}
	if len(session.moves) != 1 || session.moves[0] != "e4" {
		t.Fatalf("moves = %v", session.moves)
	}
}
