package pipeline

import (
	"fmt"
	"io"
	"strings"

	"github.com/symstub/patch-tool/pkg/patch"
)

const rule = "============================================================"

// WriteReport prints the human readable report of r to w.
func WriteReport(w io.Writer, r *Result, opts Options) {
	arch := patch.DefaultArch
	var stub patch.Stub
	if opts.Engine != nil {
		arch, stub = opts.Engine.Arch, opts.Engine.Stub
	} else {
		stub = patch.DefaultStubs()[arch]
	}

	fmt.Fprintf(w, "Analyzing: %s\n", r.Input)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "File size: %d bytes\n", r.Size)
	if r.Machine != "" {
		fmt.Fprintf(w, "Machine: %s\n", r.Machine)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Analyzing symbols...")
	if r.SymbolErr != nil {
		fmt.Fprintf(w, "  Warning: could not analyze symbols: %v\n", r.SymbolErr)
	}
	for _, t := range r.Targets {
		fmt.Fprintf(w, "  Found potential target: %s at %#x\n", t.Name, t.Offset)
	}
	if len(r.Targets) == 0 {
		fmt.Fprintln(w, "  No obvious targets found in symbols")
	}
	for _, c := range r.Symbols.Collisions {
		fmt.Fprintf(w, "  Warning: duplicate symbol %s\n", c)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Searching for string constants...")
	for _, o := range r.Occurrences {
		if len(o.Offsets) > 0 {
			fmt.Fprintf(w, "  %s\n", o)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s patch instructions:\n", arch)
	fmt.Fprintln(w, "  To make a function return true (1):")
	writeStubLayout(w, arch, stub, "  ")
	fmt.Fprintln(w)

	if len(r.Targets) > 0 {
		fmt.Fprintln(w, "Applying patches...")
		for _, rec := range r.Records {
			fmt.Fprintf(w, "  Patching %s at %#x\n", rec.Name, rec.Offset)
			fmt.Fprintf(w, "    Original: %s%s\n", rec.Original, decoded(arch, rec.Original))
			fmt.Fprintf(w, "    Patched:  %s%s\n", rec.Patch, decoded(arch, rec.Patch))
		}
		for _, err := range r.Skipped {
			fmt.Fprintf(w, "  Skipped: %v\n", err)
		}
		fmt.Fprintln(w)
	}

	if !r.Advisory() {
		if r.Written {
			fmt.Fprintf(w, "✓ Patched library saved to: %s\n", r.Output)
		}
		if r.PermErr != nil {
			fmt.Fprintf(w, "  Warning: %v\n", r.PermErr)
		}
		if opts.RecordsPath != "" && r.RecordsErr == nil {
			fmt.Fprintf(w, "  Patch records saved to: %s\n", opts.RecordsPath)
		}
	} else {
		fmt.Fprintln(w, "⚠ No functions were automatically patched")
		fmt.Fprintln(w, "  Manual analysis with a disassembler recommended")
		fmt.Fprintln(w)
		WriteManualInstructions(w, r.Input, arch, stub, opts.ManualSymbols)
		if r.Written {
			fmt.Fprintln(w)
			fmt.Fprintf(w, "Unmodified copy saved to: %s\n", r.Output)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Analysis complete!")
}

// WriteManualInstructions prints the steps an operator follows to apply
// stub by hand.
func WriteManualInstructions(w io.Writer, input, arch string, stub patch.Stub, names []string) {
	fmt.Fprintln(w, "Manual patching instructions:")
	fmt.Fprintf(w, "  1. Open %s in a disassembler\n", input)
	if len(names) > 0 {
		fmt.Fprintln(w, "  2. Find functions:")
		for _, n := range names {
			fmt.Fprintf(w, "     - %s\n", n)
		}
	} else {
		fmt.Fprintln(w, "  2. Find the license and entitlement check functions")
	}
	fmt.Fprintln(w, "  3. Note the file offset of each function")
	fmt.Fprintf(w, "  4. Replace first %d bytes with: %s\n", patch.StubSize, strings.ToUpper(stub.String()))
	writeStubLayout(w, arch, stub, "     ")
	fmt.Fprintln(w, "  5. Save the patched file")
}

func writeStubLayout(w io.Writer, arch string, stub patch.Stub, indent string) {
	insts := patch.Describe(arch, stub[:])
	perWord := len(insts) == patch.StubSize/4
	for off := 0; off < patch.StubSize; off += 4 {
		fmt.Fprintf(w, "%sOffset +%d: %s", indent, off, strings.ToUpper(hexWord(stub[off:off+4])))
		if perWord {
			fmt.Fprintf(w, "  (%s)", insts[off/4])
		}
		fmt.Fprintln(w)
	}
	if !perWord && len(insts) > 0 {
		fmt.Fprintf(w, "%s(%s)\n", indent, strings.Join(insts, "; "))
	}
}

func hexWord(b []byte) string {
	parts := make([]string, len(b))
	for i := range b {
		parts[i] = fmt.Sprintf("%02x", b[i])
	}
	return strings.Join(parts, " ")
}

func decoded(arch string, s patch.Stub) string {
	insts := patch.Describe(arch, s[:])
	if len(insts) == 0 {
		return ""
	}
	return "  (" + strings.Join(insts, "; ") + ")"
}
