package debugger

import (
	"fmt"
	"strings"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

// GUI represents the graphical user interface for the debugger
type GUI struct {
	Debugger *Debugger
	App      fyne.App
	Window   fyne.Window

	// View panels
	InstructionView *widget.TextGrid
	RegisterView    *widget.TextGrid
	StackView       *widget.TextGrid
	ConsoleOutput   *widget.TextGrid
	StatusLabel     *widget.Label

	Toolbar *widget.Toolbar

	// Console output buffer
	consoleBuffer strings.Builder
	consoleMutex  sync.Mutex
}

// guiWriter redirects VM output to the GUI console
type guiWriter struct {
	gui *GUI
}

// Write implements io.Writer interface
func (w *guiWriter) Write(p []byte) (n int, err error) {
	w.gui.consoleMutex.Lock()
	defer w.gui.consoleMutex.Unlock()

	w.gui.consoleBuffer.Write(p)
	w.gui.updateConsole()
	return len(p), nil
}

// RunGUI runs the graphical debugger
func RunGUI(dbg *Debugger) error {
	gui := newGUI(dbg)
	gui.Window.ShowAndRun()
	return nil
}

// newGUI creates a new graphical user interface
func newGUI(debugger *Debugger) *GUI {
	myApp := app.New()
	myWindow := myApp.NewWindow("basm Debugger")

	gui := &GUI{
		Debugger: debugger,
		App:      myApp,
		Window:   myWindow,
	}

	gui.initializeViews()
	gui.buildLayout()

	// Program output goes to the console pane.
	debugger.VM.Output = &guiWriter{gui: gui}

	gui.refresh()
	myWindow.Resize(fyne.NewSize(1000, 700))

	return gui
}

func (g *GUI) initializeViews() {
	g.InstructionView = widget.NewTextGrid()
	g.RegisterView = widget.NewTextGrid()
	g.StackView = widget.NewTextGrid()
	g.ConsoleOutput = widget.NewTextGrid()
	g.StatusLabel = widget.NewLabel("")

	g.Toolbar = widget.NewToolbar(
		widget.NewToolbarAction(theme.MediaPlayIcon(), func() {
			g.command(func() error { return g.Debugger.Continue() })
		}),
		widget.NewToolbarAction(theme.MediaSkipNextIcon(), func() {
			g.command(func() error { return g.Debugger.Step() })
		}),
		widget.NewToolbarAction(theme.MediaReplayIcon(), func() {
			g.Debugger.Reset()
			g.refresh()
		}),
	)
}

func (g *GUI) buildLayout() {
	left := container.NewVSplit(
		container.NewScroll(g.InstructionView),
		container.NewScroll(g.ConsoleOutput),
	)
	left.SetOffset(0.65)

	right := container.NewVSplit(
		container.NewScroll(g.RegisterView),
		container.NewScroll(g.StackView),
	)
	right.SetOffset(0.55)

	body := container.NewHSplit(left, right)
	body.SetOffset(0.6)

	g.Window.SetContent(container.NewBorder(g.Toolbar, g.StatusLabel, nil, nil, body))
}

// command runs a debugger action and refreshes the views; faults stay
// visible through the status line.
func (g *GUI) command(action func() error) {
	if err := action(); err != nil {
		g.StatusLabel.SetText(fmt.Sprintf("error: %v", err))
	}
	g.refresh()
}

// refresh redraws every state pane from the VM. Panes switched off in the
// config show "(hidden)".
func (g *GUI) refresh() {
	cfg := g.Debugger.Config
	g.InstructionView.SetText(g.Debugger.FormatInstructions(10))
	if cfg.Debugger.ShowRegisters {
		g.RegisterView.SetText(g.Debugger.FormatRegisters() + "\n" + g.Debugger.FormatFlags())
	} else {
		g.RegisterView.SetText("(hidden)")
	}
	if cfg.Debugger.ShowStack {
		g.StackView.SetText(g.Debugger.FormatStack())
	} else {
		g.StackView.SetText("(hidden)")
	}
	g.StatusLabel.SetText(g.Debugger.FormatStatus())
}

// updateConsole pushes the buffered program output into the console pane.
// Caller must hold consoleMutex.
func (g *GUI) updateConsole() {
	g.ConsoleOutput.SetText(g.consoleBuffer.String())
}
