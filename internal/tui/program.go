package tui

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rshade/regscan/internal/engine/batch"
	"github.com/rshade/regscan/internal/logging"
)

// ProgressProgram runs a ProgressModel in the background while a scan executes.
type ProgressProgram struct {
	program *tea.Program
	done    chan struct{}
	final   ProgressModel
	err     error
}

// StartProgress launches the progress program on out. Quitting the program
// calls cancel so the scan stops between chunks. Extra options are passed to
// tea.NewProgram.
func StartProgress(
	ctx context.Context,
	out io.Writer,
	devices []string,
	cancel context.CancelFunc,
	opts ...tea.ProgramOption,
) *ProgressProgram {
	model := NewProgressModel(sortedDevices(devices), cancel)
	opts = append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithOutput(out)}, opts...)
	p := &ProgressProgram{
		program: tea.NewProgram(model, opts...),
		done:    make(chan struct{}),
	}

	go func() {
		defer close(p.done)
		final, err := p.program.Run()
		if m, ok := final.(ProgressModel); ok {
			p.final = m
		}
		if err != nil {
			logging.FromContext(ctx).Debug().Err(err).Msg("progress program stopped")
			p.err = fmt.Errorf("running progress view: %w", err)
		}
	}()
	return p
}

// Update forwards a snapshot to the program. It is safe to call from several
// scanning goroutines.
func (p *ProgressProgram) Update(s batch.ProgressSnapshot) {
	p.program.Send(ProgressMsg(s))
}

// Finish marks the scan as done and waits for the program to exit.
func (p *ProgressProgram) Finish(err error) error {
	p.program.Send(DoneMsg{Err: err})
	<-p.done
	return p.err
}

// Cancelled reports whether the user quit the view before the scan finished.
// Valid only after Finish returns.
func (p *ProgressProgram) Cancelled() bool {
	return p.final.State() == StateCancelled
}
