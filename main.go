package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Quan1umMango/basm/assembler"
	"github.com/Quan1umMango/basm/config"
	"github.com/Quan1umMango/basm/debugger"
	"github.com/Quan1umMango/basm/loader"
	"github.com/Quan1umMango/basm/parser"
	"github.com/Quan1umMango/basm/vm"
)

// Version information - can be overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"     // Version number (set by git tag at build time)
	Commit  = "unknown" // Git commit hash
	Date    = "unknown" // Build date
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help information")
		debugMode   = flag.Bool("debug", false, "Start the TUI debugger")
		guiMode     = flag.Bool("gui", false, "Start the graphical debugger")
		emitPath    = flag.String("emit", "", "Assemble to a bytecode file instead of running")
		rawMode     = flag.Bool("raw", false, "Treat the input file as bytecode (implied by a .bc extension)")
		maxCycles   = flag.Uint64("max-cycles", 0, "Maximum executed instructions before fault (0 = unlimited)")
		enableTrace = flag.Bool("trace", false, "Enable execution trace")
		traceFile   = flag.String("trace-file", "", "Trace output file (default: trace.log in log dir)")
		enableStats = flag.Bool("stats", false, "Collect execution statistics")
		statsFile   = flag.String("stats-file", "", "Statistics output file (default: summary on stderr)")
		dumpLabels  = flag.Bool("dump-labels", false, "Print the resolved label table and exit")
		verboseMode = flag.Bool("verbose", false, "Verbose output")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("basm %s\n", Version)
		if Commit != "unknown" {
			fmt.Printf("Commit: %s\n", Commit)
		}
		if Date != "unknown" {
			fmt.Printf("Built: %s\n", Date)
		}
		os.Exit(0)
	}

	if *showHelp || flag.NArg() == 0 {
		printHelp()
		if *showHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	// Config file supplies defaults; explicit flags win.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using defaults\n", err)
		cfg = config.DefaultConfig()
	}
	if *maxCycles == 0 {
		*maxCycles = cfg.Execution.MaxCycles
	}
	if !*enableTrace {
		*enableTrace = cfg.Execution.EnableTrace
	}

	sourceFile := flag.Arg(0)
	if _, err := os.Stat(sourceFile); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: File not found: %s\n", sourceFile)
		os.Exit(1)
	}

	machine, err := buildMachine(sourceFile, *rawMode, *verboseMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	machine.CycleLimit = *maxCycles
	switch cfg.Display.FloatFormat {
	case "g", "e", "f":
		machine.FloatFormat = cfg.Display.FloatFormat[0]
	}

	if *dumpLabels {
		dumpLabelTable(machine)
		os.Exit(0)
	}

	if *emitPath != "" {
		if err := loader.WriteBytecodeFile(machine, *emitPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing bytecode: %v\n", err)
			os.Exit(1)
		}
		if *verboseMode {
			fmt.Printf("Wrote %s\n", *emitPath)
		}
		os.Exit(0)
	}

	if *enableTrace {
		tracePath := *traceFile
		if tracePath == "" {
			tracePath = cfg.Execution.TraceFile
			if !filepath.IsAbs(tracePath) {
				tracePath = filepath.Join(config.GetLogPath(), tracePath)
			}
		}
		traceWriter, err := os.Create(tracePath) // #nosec G304 -- user-specified trace output path
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating trace file: %v\n", err)
			os.Exit(1)
		}
		defer func() {
			if err := traceWriter.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close trace file: %v\n", err)
			}
		}()

		machine.Trace = vm.NewExecutionTrace(traceWriter)
		machine.Trace.Start()
		if *verboseMode {
			fmt.Printf("Execution trace enabled: %s\n", tracePath)
		}
	}

	if *enableStats {
		machine.Stats = vm.NewStatistics()
		machine.Stats.Start()
	}

	if *debugMode || *guiMode {
		dbg := debugger.NewDebugger(machine, cfg)
		var err error
		if *guiMode {
			err = debugger.RunGUI(dbg)
		} else {
			err = debugger.RunTUI(dbg)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Debugger error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	runErr := machine.Run()
	if machine.Stats != nil {
		machine.Stats.Stop()
		if err := writeStats(machine, *statsFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing statistics: %v\n", err)
		}
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "%v\n", runErr)
		os.Exit(1)
	}
	os.Exit(0)
}

// writeStats dumps execution statistics: JSON into a file if one was
// given, otherwise a summary on stderr.
func writeStats(machine *vm.VM, path string) error {
	if path == "" {
		fmt.Fprint(os.Stderr, machine.Stats.Summary())
		return nil
	}
	f, err := os.Create(path) // #nosec G304 -- user-specified stats output path
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close stats file: %v\n", err)
		}
	}()
	return machine.Stats.WriteJSON(f)
}

// buildMachine assembles a source file or loads a bytecode file into a
// fresh VM.
func buildMachine(path string, rawMode, verbose bool) (*vm.VM, error) {
	if rawMode || strings.HasSuffix(path, ".bc") {
		machine := vm.NewVM()
		if err := loader.LoadBytecodeFile(machine, path); err != nil {
			return nil, err
		}
		if verbose {
			fmt.Printf("Loaded %d instructions from bytecode\n", machine.LastCommand())
		}
		return machine, nil
	}

	program, err := parser.ParseFile(path)
	if err != nil {
		return nil, err
	}
	machine, err := assembler.Assemble(program)
	if err != nil {
		return nil, err
	}
	if verbose {
		fmt.Printf("Assembled %d instructions, %d labels\n",
			machine.LastCommand(), len(machine.Labels()))
	}
	return machine, nil
}

// dumpLabelTable prints the resolved label table sorted by start index.
func dumpLabelTable(machine *vm.VM) {
	type entry struct {
		name  string
		label *vm.Label
	}
	var entries []entry
	for name, label := range machine.Labels() {
		entries = append(entries, entry{name, label})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].label.Start < entries[j].label.Start })

	fmt.Printf("%-24s %8s %8s\n", "LABEL", "START", "END")
	for _, e := range entries {
		end := "-"
		if e.label.Closed {
			end = fmt.Sprintf("%d", e.label.End)
		}
		fmt.Printf("%-24s %8d %8s\n", e.name, e.label.Start, end)
	}
}

func printHelp() {
	fmt.Println("basm - assembler and virtual machine for the basm language")
	fmt.Println()
	fmt.Println("Usage: basm [options] <file.basm|file.bc>")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  basm program.basm             Assemble and run a source file")
	fmt.Println("  basm -emit out.bc prog.basm   Assemble to a bytecode file")
	fmt.Println("  basm out.bc                   Run a bytecode file")
	fmt.Println("  basm -debug program.basm      Step through in the TUI debugger")
	fmt.Println("  basm -trace program.basm      Run with an execution trace")
}
