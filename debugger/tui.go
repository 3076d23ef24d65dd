package debugger

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// TUI represents the text user interface for the debugger
type TUI struct {
	Debugger *Debugger
	App      *tview.Application

	// Layout containers
	MainLayout *tview.Flex
	LeftPanel  *tview.Flex
	RightPanel *tview.Flex

	// View panels
	InstructionView *tview.TextView
	RegisterView    *tview.TextView
	StackView       *tview.TextView
	OutputView      *tview.TextView
	StatusView      *tview.TextView
	CommandInput    *tview.InputField
}

// NewTUI creates a new text user interface
func NewTUI(debugger *Debugger) *TUI {
	tui := &TUI{
		Debugger: debugger,
		App:      tview.NewApplication(),
	}

	tui.initializeViews()
	tui.buildLayout()
	tui.setupKeyBindings()

	// Program output goes to the output pane instead of stdout.
	debugger.VM.Output = tui.OutputView

	return tui
}

// Run starts the TUI event loop; it returns when the user quits.
func (t *TUI) Run() error {
	t.refresh()
	return t.App.SetRoot(t.MainLayout, true).SetFocus(t.CommandInput).Run()
}

func (t *TUI) initializeViews() {
	t.InstructionView = tview.NewTextView().SetDynamicColors(false)
	t.InstructionView.SetBorder(true).SetTitle(" Instructions ")

	t.RegisterView = tview.NewTextView()
	t.RegisterView.SetBorder(true).SetTitle(" Registers ")

	t.StackView = tview.NewTextView()
	t.StackView.SetBorder(true).SetTitle(" Stack ")

	t.OutputView = tview.NewTextView().SetChangedFunc(func() {
		t.App.Draw()
	})
	t.OutputView.SetBorder(true).SetTitle(" Output ")

	t.StatusView = tview.NewTextView()
	t.StatusView.SetBorder(true).SetTitle(" Status ")

	t.CommandInput = tview.NewInputField().SetLabel("(basm) ")
	t.CommandInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		t.runCommand(t.CommandInput.GetText())
		t.CommandInput.SetText("")
	})
	t.CommandInput.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyUp:
			if cmd := t.Debugger.History.Previous(); cmd != "" {
				t.CommandInput.SetText(cmd)
			}
			return nil
		case tcell.KeyDown:
			t.CommandInput.SetText(t.Debugger.History.Next())
			return nil
		}
		return event
	})
}

func (t *TUI) buildLayout() {
	t.LeftPanel = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(t.InstructionView, 0, 3, false).
		AddItem(t.OutputView, 0, 2, false)

	t.RightPanel = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(t.RegisterView, 0, 3, false).
		AddItem(t.StackView, 0, 2, false)

	body := tview.NewFlex().
		AddItem(t.LeftPanel, 0, 2, false).
		AddItem(t.RightPanel, 0, 1, false)

	t.MainLayout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, false).
		AddItem(t.StatusView, 3, 0, false).
		AddItem(t.CommandInput, 1, 0, true)
}

// setupKeyBindings wires the function keys: F5 continue, F10 step, F2
// restart, Ctrl-C quit.
func (t *TUI) setupKeyBindings() {
	t.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF5:
			t.runCommand("continue")
			return nil
		case tcell.KeyF10:
			t.runCommand("step")
			return nil
		case tcell.KeyF2:
			t.runCommand("reset")
			return nil
		case tcell.KeyCtrlC:
			t.App.Stop()
			return nil
		}
		return event
	})
}

func (t *TUI) runCommand(cmdLine string) {
	if cmdLine == "quit" || cmdLine == "q" {
		t.App.Stop()
		return
	}

	output, err := t.Debugger.ExecuteCommand(cmdLine)
	if err != nil {
		fmt.Fprintf(t.OutputView, "error: %v\n", err)
	} else if output != "" {
		fmt.Fprintln(t.OutputView, output)
	}
	t.refresh()
}

// refresh redraws every state pane from the VM. Panes switched off in the
// config show "(hidden)".
func (t *TUI) refresh() {
	cfg := t.Debugger.Config
	t.InstructionView.SetText(t.Debugger.FormatInstructions(8))
	if cfg.Debugger.ShowRegisters {
		t.RegisterView.SetText(t.Debugger.FormatRegisters() + "\n" + t.Debugger.FormatFlags())
	} else {
		t.RegisterView.SetText("(hidden)")
	}
	if cfg.Debugger.ShowStack {
		t.StackView.SetText(t.Debugger.FormatStack())
	} else {
		t.StackView.SetText("(hidden)")
	}
	t.StatusView.SetText(t.Debugger.FormatStatus())
}

// RunTUI runs the TUI debugger over the given debugger core.
func RunTUI(dbg *Debugger) error {
	return NewTUI(dbg).Run()
}
