// Package xvm is the CLI front end for the xvm toolchain: assembler,
// linker, loader and interpreter wired together behind an urfave/cli
// command tree (per-command flags, cli.Exit for process exit codes).
package xvm

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	cli "github.com/urfave/cli/v2"

	"github.com/maxrt101/xvm-go/internal/assemble"
	"github.com/maxrt101/xvm-go/internal/bus"
	"github.com/maxrt101/xvm-go/internal/config"
	"github.com/maxrt101/xvm-go/internal/isa"
	"github.com/maxrt101/xvm-go/internal/link"
	"github.com/maxrt101/xvm-go/internal/load"
	"github.com/maxrt101/xvm-go/internal/object"
	"github.com/maxrt101/xvm-go/internal/repl"
	"github.com/maxrt101/xvm-go/internal/syscall"
	"github.com/maxrt101/xvm-go/internal/vm"
	"github.com/maxrt101/xvm-go/internal/xlog"
)

// Version is the xvm toolchain's own version string, independent of the
// `version` field stamped into object/executable containers.
const Version = "0.1.0"

// New builds the urfave/cli application.
func New() *cli.App {
	store := config.New()
	var log *xlog.Logger

	app := &cli.App{
		Name:    "xvm",
		Usage:   "assembler, linker, loader and interpreter for the xvm stack machine",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "s", Usage: "set a config key, KEY=VALUE (repeatable)"},
			&cli.StringFlag{Name: "o", Usage: "output file path (compile/link)"},
			&cli.StringSliceFlag{Name: "i", Usage: "assembler include search directory (repeatable)"},
		},
		Before: func(c *cli.Context) error {
			for _, kv := range c.StringSlice("s") {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return cli.Exit(fmt.Sprintf("bad -s value %q, want KEY=VALUE", kv), -1)
				}
				store.Set(parts[0], parts[1])
			}
			log = xlog.New(store.Bool("color", isTerminal(os.Stdout)))
			return nil
		},
		Commands: []*cli.Command{
			versionCommand(),
			compileCommand(store, &log),
			linkCommand(store, &log),
			runCommand(store, &log, false),
			runCommand(store, &log, true),
			dumpCommand(store, &log),
		},
	}
	return app
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print the xvm toolchain version",
		Action: func(c *cli.Context) error {
			fmt.Println("xvm", Version)
			return nil
		},
	}
}

func asmOptions(store *config.Store, c *cli.Context) assemble.Options {
	return assemble.Options{
		PIC:            store.Bool("pic", true),
		IncludeSymbols: store.Bool("include-symbols", true),
		IncludeDirs:    c.StringSlice("i"),
	}
}

func compileCommand(store *config.Store, log **xlog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "compile",
		Usage:     "assemble source file(s) into an object file",
		ArgsUsage: "FILE [FILE...]",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 1 {
				return cli.Exit("compile: at least one source file required", -1)
			}
			var objs []object.Executable
			for _, f := range c.Args().Slice() {
				src, err := os.ReadFile(f)
				if err != nil {
					return cli.Exit(fmt.Sprintf("compile: %v", err), 1)
				}
				exe, err := assemble.Assemble(src, f, asmOptions(store, c))
				if err != nil {
					(*log).Err(err)
					return cli.Exit("compile: assembly failed", 1)
				}
				objs = append(objs, exe)
			}
			exe := objs[0]
			if len(objs) > 1 {
				linked, err := link.Link(objs, link.Options{PIC: store.Bool("pic", true)})
				if err != nil {
					(*log).Err(err)
					return cli.Exit("compile: link failed", 1)
				}
				exe = linked
			}
			out := c.String("o")
			if out == "" {
				out = defaultOutput(c.Args().First(), ".obj")
			}
			if err := os.WriteFile(out, exe.ToBytes(), 0644); err != nil {
				return cli.Exit(fmt.Sprintf("compile: %v", err), 1)
			}
			(*log).Okf("wrote %s", out)
			return nil
		},
	}
}

func linkCommand(store *config.Store, log **xlog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "link",
		Usage:     "merge object files into an executable",
		ArgsUsage: "FILE [FILE...]",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 1 {
				return cli.Exit("link: at least one object file required", -1)
			}
			var objs []object.Executable
			for _, f := range c.Args().Slice() {
				data, err := os.ReadFile(f)
				if err != nil {
					return cli.Exit(fmt.Sprintf("link: %v", err), 1)
				}
				exe, err := object.FromBytes(data)
				if err != nil {
					return cli.Exit(fmt.Sprintf("link: %s: %v", f, err), 1)
				}
				objs = append(objs, exe)
			}
			merged, err := link.Link(objs, link.Options{PIC: store.Bool("pic", true)})
			if err != nil {
				(*log).Err(err)
				return cli.Exit("link: failed", 1)
			}
			out := c.String("o")
			if out == "" {
				out = defaultOutput(c.Args().First(), ".out")
			}
			if err := os.WriteFile(out, merged.ToBytes(), 0644); err != nil {
				return cli.Exit(fmt.Sprintf("link: %v", err), 1)
			}
			(*log).Okf("wrote %s", out)
			return nil
		},
	}
}

// runCommand builds either `run` (load a linked executable) or, when
// fromSource is true, `runsrc` (compile, link, and run in one step).
func runCommand(store *config.Store, log **xlog.Logger, fromSource bool) *cli.Command {
	name, usage, argsUsage := "run", "load and run a linked executable", "FILE"
	if fromSource {
		name, usage, argsUsage = "runsrc", "compile, link, and run source file(s) in one step", "FILE [FILE...]"
	}
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: argsUsage,
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 1 {
				return cli.Exit(name+": at least one file required", -1)
			}

			var exe object.Executable
			if fromSource {
				var objs []object.Executable
				for _, f := range c.Args().Slice() {
					src, err := os.ReadFile(f)
					if err != nil {
						return cli.Exit(fmt.Sprintf("%s: %v", name, err), 1)
					}
					o, err := assemble.Assemble(src, f, asmOptions(store, c))
					if err != nil {
						(*log).Err(err)
						return cli.Exit(name+": assembly failed", 1)
					}
					objs = append(objs, o)
				}
				linked, err := link.Link(objs, link.Options{PIC: store.Bool("pic", true)})
				if err != nil {
					(*log).Err(err)
					return cli.Exit(name+": link failed", 1)
				}
				exe = linked
			} else {
				data, err := os.ReadFile(c.Args().First())
				if err != nil {
					return cli.Exit(fmt.Sprintf("%s: %v", name, err), 1)
				}
				exe, err = object.FromBytes(data)
				if err != nil {
					return cli.Exit(fmt.Sprintf("%s: %v", name, err), 1)
				}
			}

			return execute(store, *log, exe)
		},
	}
}

// execute loads exe into a fresh VM (RAM plus the console's one-byte port
// on the bus, full syscall surface) and runs it to completion, wiring the
// breakpoint REPL when the `debug`/`breakpoint` config keys request it.
func execute(store *config.Store, log *xlog.Logger, exe object.Executable) error {
	ramSize := store.Int("ram-size", 2048)
	b := bus.New()
	ram := bus.NewRAM(0, ramSize)
	if err := b.Bind(0, uint32(ramSize), ram, true); err != nil {
		return cli.Exit(fmt.Sprintf("run: %v", err), 1)
	}

	symbols, err := load.Load(exe, ram)
	if err != nil {
		log.Err(err)
		return cli.Exit("run: load failed", 1)
	}

	var shell *repl.Shell
	var onBreak = func(v *vm.VM) error { return nil }
	if bp := store.GetOr("breakpoint", ""); bp != "" || store.Int("debug", 0) > 0 {
		shell = repl.New(parseBreakpoints(bp, symbols))
		onBreak = shell.Hook()
	}

	host := syscall.NewHost(os.Stdout, os.Stdin, onBreak)
	defer host.Close()

	// The console's byte port sits immediately after RAM, so `ram-size` is
	// also the port address a program store8/load8's against. Keeping it
	// adjacent bounds the bus extent: a runaway ip falls off the end after
	// at most one port read.
	if err := b.Bind(uint32(ramSize), 1, host.Console(), false); err != nil {
		return cli.Exit(fmt.Sprintf("run: %v", err), 1)
	}

	machine := vm.New(b, host.Table())
	machine.Symbols = symbols

	if store.Int("debug", 0) > 0 {
		machine.Trace = os.Stderr
	}

	if err := runMachine(machine, shell); err != nil {
		log.Err(err)
		return cli.Exit("run: runtime error", 1)
	}
	return nil
}

// runMachine drives the VM to completion. With a debugger shell attached it
// single-steps so seeded breakpoints (and the shell's own step command,
// whether issued here or from a BREAKPOINT syscall pause) stop the machine
// before the next instruction executes; otherwise the VM's own dispatch
// loop runs uninterrupted.
func runMachine(machine *vm.VM, shell *repl.Shell) error {
	if shell == nil {
		return machine.Run()
	}
	machine.Start()
	for machine.Running() && machine.IP < machine.Bus.Max() {
		if shell.TakeStep() {
			if err := shell.Pause(machine, fmt.Sprintf("step at 0x%x", machine.IP)); err != nil {
				return err
			}
		} else if shell.ShouldBreak(machine.IP) {
			if err := shell.Pause(machine, fmt.Sprintf("breakpoint at 0x%x", machine.IP)); err != nil {
				return err
			}
		}
		if !machine.Running() {
			break
		}
		if err := machine.Step(); err != nil {
			machine.Halt()
			return err
		}
	}
	return nil
}

// parseBreakpoints resolves a comma-separated list of `label` or `0xADDR`
// tokens (the `breakpoint` config key) against syms.
func parseBreakpoints(spec string, syms object.SymbolTable) []uint32 {
	if spec == "" {
		return nil
	}
	var addrs []uint32
	for _, tok := range strings.Split(spec, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if strings.HasPrefix(tok, "0x") {
			if n, err := strconv.ParseUint(tok[2:], 16, 32); err == nil {
				addrs = append(addrs, uint32(n))
				continue
			}
		}
		if sym, ok := syms.ByLabel(tok); ok {
			addrs = append(addrs, uint32(sym.Address))
		}
	}
	return addrs
}

func dumpCommand(store *config.Store, log **xlog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "dump",
		Usage:     "print sections/symbols/disassembly of an object or executable",
		ArgsUsage: "FILE",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 1 {
				return cli.Exit("dump: file required", -1)
			}
			data, err := os.ReadFile(c.Args().First())
			if err != nil {
				return cli.Exit(fmt.Sprintf("dump: %v", err), 1)
			}
			exe, err := object.FromBytes(data)
			if err != nil {
				return cli.Exit(fmt.Sprintf("dump: %v", err), 1)
			}
			printDump(*log, exe)
			return nil
		},
	}
}

func printDump(log *xlog.Logger, exe object.Executable) {
	fmt.Printf("magic=0x%x version=%d flags=0x%x sections=%d\n", exe.Magic, exe.Version, exe.Flags, len(exe.Sections))
	for _, s := range exe.Sections {
		fmt.Println(log.Dimf("-- section %s (%s, %d bytes, checksum 0x%x)", s.Label, s.Type, len(s.Data), s.Checksum))
		switch s.Type {
		case object.SectionSymbols:
			table, err := object.SymbolTableFromSection(s)
			if err != nil {
				continue
			}
			for _, sym := range table.Symbols {
				fmt.Printf("  0x%08x  flags=0x%02x  size=%-4d  %s\n", uint32(sym.Address), sym.Flags, sym.Size, sym.Label)
			}
		case object.SectionRelocations:
			table, err := object.RelocationTableFromSection(s)
			if err != nil {
				continue
			}
			for _, r := range table.Relocations {
				fmt.Printf("  %s: %d mention(s)\n", r.Label, len(r.Mentions))
			}
		case object.SectionCode:
			offset := 0
			for offset < len(s.Data) {
				line, next := isa.DisassembleOne(s.Data, offset)
				fmt.Println("  " + line)
				if next <= offset {
					break
				}
				offset = next
			}
		}
	}
}

func defaultOutput(input, ext string) string {
	base := input
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return base + ext
}
