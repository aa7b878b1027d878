package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"fifolower/internal/config"
	"fifolower/internal/diag"
	"fifolower/internal/frontend"
	"fifolower/internal/ir"
	"fifolower/internal/objectfifo"
	"fifolower/internal/passes"
	"fifolower/internal/validate"
)

// diagOutput receives diagnostics and usage text.
var diagOutput io.Writer = os.Stderr

func main() {
	defer klog.Flush()
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		klog.Flush()
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printGlobalUsage()
		return errors.New("missing command")
	}

	switch args[0] {
	case "lower":
		return runLower(args[1:])
	case "lint":
		return runLint(args[1:])
	case "size":
		return runSize(args[1:])
	default:
		printGlobalUsage()
		return errors.Errorf("unknown command: %s", args[0])
	}
}

func printGlobalUsage() {
	fmt.Fprintf(diagOutput, "fifolower: object fifo lowering for tiled dataflow arrays\n\n")
	fmt.Fprintf(diagOutput, "Usage:\n")
	fmt.Fprintf(diagOutput, "  fifolower <command> [options] design.yaml...\n\n")
	fmt.Fprintf(diagOutput, "Commands:\n")
	fmt.Fprintf(diagOutput, "  lower      Lower object fifos into buffers, locks and DMA chains\n")
	fmt.Fprintf(diagOutput, "  lint       Run validation-only checks\n")
	fmt.Fprintf(diagOutput, "  size       Report the depth each fifo would get on each tile\n")
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(diagOutput)
	klog.InitFlags(fs)
	return fs
}

func runLower(args []string) error {
	fs := newFlagSet("lower")
	emit := fs.String("emit", "ir", "output format (ir|summary)")
	output := fs.String("o", "", "output file path (stdout when omitted)")
	targetPath := fs.String("config", "", "target description in TOML (AIE1 limits when omitted)")
	diagFormat := fs.String("diag-format", "text", "diagnostic output format (text|json)")
	verify := fs.Bool("verify", true, "verify the lowered design")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("lower requires at least one design file")
	}
	if *emit != "ir" && *emit != "summary" {
		return errors.Errorf("unknown emit format: %s", *emit)
	}

	target, err := loadTarget(*targetPath)
	if err != nil {
		return err
	}
	design, reporter, err := prepareDesign(fs.Args(), *diagFormat)
	if err != nil {
		return err
	}

	lowering := objectfifo.NewStatefulTransform(target, reporter)
	passMgr := passes.NewManager()
	passMgr.Add(lowering)
	if *verify {
		passMgr.Add(passes.NewLoweredVerifier(target, reporter))
	}
	if err := passMgr.Run(design); err != nil {
		return err
	}

	switch *emit {
	case "summary":
		return withOutputWriter(*output, func(w io.Writer) error {
			return writeSummary(w, lowering.Report())
		})
	default:
		return emitIRDesign(design, *output)
	}
}

func runLint(args []string) error {
	fs := newFlagSet("lint")
	targetPath := fs.String("config", "", "target description in TOML (AIE1 limits when omitted)")
	diagFormat := fs.String("diag-format", "text", "diagnostic output format (text|json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("lint requires at least one design file")
	}

	target, err := loadTarget(*targetPath)
	if err != nil {
		return err
	}
	design, reporter, err := prepareDesign(fs.Args(), *diagFormat)
	if err != nil {
		return err
	}
	return validate.CheckDesign(design, target, reporter)
}

func runSize(args []string) error {
	fs := newFlagSet("size")
	output := fs.String("o", "", "output file path (stdout when omitted)")
	diagFormat := fs.String("diag-format", "text", "diagnostic output format (text|json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("size requires at least one design file")
	}

	design, _, err := prepareDesign(fs.Args(), *diagFormat)
	if err != nil {
		return err
	}
	return withOutputWriter(*output, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FIFO\tTILE\tROLE\tMAX ACQUIRE\tDEPTH")
		for _, e := range objectfifo.Sizes(design) {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", e.Fifo, e.Tile, e.Role, e.MaxAcquire, e.Depth)
		}
		return tw.Flush()
	})
}

func loadTarget(path string) (config.Target, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func prepareDesign(sources []string, diagFormat string) (*ir.Design, *diag.Reporter, error) {
	reporter := diag.NewReporter(diagOutput, diagFormat)
	design, err := frontend.LoadDesign(frontend.LoadConfig{Sources: sources})
	if err != nil {
		reporter.Errorf("%v", err)
		return nil, reporter, errors.New("errors reported while loading the design")
	}
	return design, reporter, nil
}

func writeSummary(w io.Writer, report *objectfifo.Report) error {
	if report == nil {
		return errors.New("no lowering report available")
	}
	for _, f := range report.Fifos {
		kind := "shared"
		if f.Split {
			kind = "split"
		}
		if f.Parent != "" {
			kind += " from " + f.Parent
		}
		fmt.Fprintf(w, "fifo %s on %s: depth %d, %s, buffers [%s], locks %v\n",
			f.Name, f.Tile, f.Depth, kind, strings.Join(f.Buffers, " "), f.LockIDs)
	}
	for _, l := range report.Loops {
		mode := "partial"
		if l.Full {
			mode = "full"
		}
		fmt.Fprintf(w, "loop on %s: %s unroll by %d, %d trip(s), %d peeled\n",
			l.Tile, mode, l.Factor, l.TripCount, l.Remainder)
	}
	return nil
}

func emitIRDesign(design *ir.Design, outputPath string) error {
	if design == nil {
		return errors.New("no IR design available to emit")
	}
	return withOutputWriter(outputPath, func(w io.Writer) error {
		ir.Dump(design, w)
		return nil
	})
}

func withOutputWriter(path string, fn func(io.Writer) error) error {
	w, cleanup, err := outputWriter(path)
	if err != nil {
		return err
	}
	if cleanup == nil {
		return fn(w)
	}
	err = fn(w)
	if closeErr := cleanup(); err == nil && closeErr != nil {
		err = closeErr
	}
	return err
}

func outputWriter(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
