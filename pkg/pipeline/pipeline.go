// Package pipeline drives a full patch run: load the image, resolve
// symbols, select targets, patch them and write the output.
package pipeline

import (
	"bytes"
	"context"
	"debug/elf"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/symstub/patch-tool/pkg/image"
	"github.com/symstub/patch-tool/pkg/logflags"
	"github.com/symstub/patch-tool/pkg/materialize"
	"github.com/symstub/patch-tool/pkg/patch"
	"github.com/symstub/patch-tool/pkg/scan"
	"github.com/symstub/patch-tool/pkg/symbols"
	"github.com/symstub/patch-tool/pkg/targets"
)

// State is a step of a run. A run moves through the states in order and
// takes exactly one of Patched and NoTargetsAdvisory.
type State uint8

const (
	Loaded State = iota
	SymbolsResolved
	TargetsSelected
	Patched
	NoTargetsAdvisory
	Materialized
)

func (s State) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case SymbolsResolved:
		return "symbols-resolved"
	case TargetsSelected:
		return "targets-selected"
	case Patched:
		return "patched"
	case NoTargetsAdvisory:
		return "no-targets-advisory"
	case Materialized:
		return "materialized"
	}
	return "unknown"
}

// Options configures a run.
type Options struct {
	Input string
	// Output defaults to materialize.DefaultOutput(Input).
	Output string

	Provider symbols.Provider
	Selector *targets.Selector
	Engine   *patch.Engine
	// Patterns are searched for and reported only.
	Patterns []string

	// AdvisoryOnly skips writing the output when no target was found.
	AdvisoryOnly bool
	// ManualSymbols are named in the manual patching guidance.
	ManualSymbols []string
	// RecordsPath, if set, receives the applied patch records as YAML.
	RecordsPath string
}

// Result describes a completed run.
type Result struct {
	Input  string
	Output string
	Size   int
	// Machine is the ELF machine of the input, empty if it is not ELF.
	Machine string

	Symbols *symbols.Table
	// SymbolErr is set when symbol resolution failed; the run continues
	// without automatic targets.
	SymbolErr error

	Targets     []targets.Target
	Occurrences []scan.Occurrences
	Records     []patch.Record
	// Skipped lists targets that were not patched.
	Skipped []error

	// Written is false only in advisory-only mode without targets.
	Written bool
	// PermErr is set when the output permissions could not be copied.
	PermErr error
	// RecordsErr is set when the records file could not be written.
	RecordsErr error

	States []State
}

func (r *Result) enter(s State, log logflags.Logger) {
	r.States = append(r.States, s)
	log.Debugf("state %s", s)
}

// Advisory reports whether the run fell back to manual guidance.
func (r *Result) Advisory() bool {
	return len(r.Targets) == 0 || len(r.Records) == 0
}

// Run executes the pipeline. The returned error is non-nil only for fatal
// conditions (missing input, output write failure); recoverable problems
// are logged and recorded in the Result.
func Run(ctx context.Context, opts Options) (*Result, error) {
	log := logflags.PipelineLogger()
	if opts.Output == "" {
		opts.Output = materialize.DefaultOutput(opts.Input)
	}
	if opts.Selector == nil {
		opts.Selector = targets.NewSelector()
	}
	if opts.Patterns == nil {
		opts.Patterns = scan.DefaultPatterns
	}
	if opts.Engine == nil {
		e, err := patch.NewEngine(patch.DefaultArch, patch.DefaultStubs())
		if err != nil {
			return nil, err
		}
		opts.Engine = e
	}
	if opts.Provider == nil {
		opts.Provider = symbols.ELFProvider{}
	}

	img, err := image.Load(opts.Input)
	if err != nil {
		return nil, err
	}
	log.Debugf("loaded %s: %d bytes, mode %v", opts.Input, img.Len(), img.Mode)
	r := &Result{Input: opts.Input, Output: opts.Output, Size: img.Len()}
	r.enter(Loaded, log)
	r.Machine = checkMachine(img, opts.Engine.Arch, log)

	r.Symbols, r.SymbolErr = opts.Provider.Symbols(ctx, opts.Input)
	if r.Symbols == nil {
		r.Symbols = symbols.NewTable()
	}
	if r.SymbolErr != nil {
		log.Warnf("continuing without symbols: %v", r.SymbolErr)
	}
	r.enter(SymbolsResolved, log)

	r.Targets = opts.Selector.Select(r.Symbols)
	r.enter(TargetsSelected, log)

	r.Occurrences = scan.All(img.Bytes(), opts.Patterns)
	if logflags.Scan() {
		slog := logflags.ScanLogger()
		for _, o := range r.Occurrences {
			slog.Debugf("%s: %d matches", o.Pattern, len(o.Offsets))
		}
	}

	if len(r.Targets) > 0 {
		r.Records, r.Skipped = opts.Engine.Apply(img, r.Targets)
		r.enter(Patched, log)
	} else {
		r.enter(NoTargetsAdvisory, log)
		if opts.AdvisoryOnly {
			log.Debugf("advisory only, not writing %s", opts.Output)
			return r, nil
		}
	}

	if err := materialize.Write(opts.Output, img.Bytes(), opts.Input); err != nil {
		if !errors.Is(err, materialize.ErrPermissionCopy) {
			return r, err
		}
		r.PermErr = err
	}
	r.Written = true
	r.enter(Materialized, log)

	if opts.RecordsPath != "" && len(r.Records) > 0 {
		if err := writeRecords(opts, r); err != nil {
			log.Warnf("could not write patch records: %v", err)
			r.RecordsErr = err
		}
	}
	return r, nil
}

func writeRecords(opts Options, r *Result) error {
	var buf bytes.Buffer
	err := patch.WriteRecords(&buf, &patch.RecordFile{
		Input:   opts.Input,
		Output:  opts.Output,
		Arch:    opts.Engine.Arch,
		Created: time.Now().UTC().Truncate(time.Second),
		Records: r.Records,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(opts.RecordsPath, buf.Bytes(), 0644)
}

// checkMachine returns the ELF machine of img and warns when the stub was
// built for a different architecture.
func checkMachine(img *image.Image, arch string, log logflags.Logger) string {
	f, err := elf.NewFile(bytes.NewReader(img.Bytes()))
	if err != nil {
		return ""
	}
	defer f.Close()
	if want := patch.ArchForMachine(f.Machine); want != "" && want != arch {
		log.Warnf("%s is %s but the %s stub will be written", img.Path, f.Machine, arch)
	}
	return f.Machine.String()
}
