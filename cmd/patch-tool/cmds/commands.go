package cmds

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/symstub/patch-tool/cmd/patch-tool/cmds/helphelpers"
	"github.com/symstub/patch-tool/pkg/config"
	"github.com/symstub/patch-tool/pkg/image"
	"github.com/symstub/patch-tool/pkg/logflags"
	"github.com/symstub/patch-tool/pkg/materialize"
	"github.com/symstub/patch-tool/pkg/patch"
	"github.com/symstub/patch-tool/pkg/pipeline"
	"github.com/symstub/patch-tool/pkg/symbols"
	"github.com/symstub/patch-tool/pkg/targets"
	"github.com/symstub/patch-tool/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// configPath overrides the config file location.
	configPath string
	// arch selects the stub architecture.
	arch string
	// keywords replace the configured target keywords.
	keywords []string
	// patterns replace the configured search patterns.
	patterns []string
	// staticSymbols are name=offset pairs used instead of a symbol source.
	staticSymbols []string
	// symbolSource is auto, tool or elf.
	symbolSource string
	// symbolTool is the symbol dumper command line.
	symbolTool string
	// toolTimeout bounds the symbol dumper.
	toolTimeout time.Duration
	// advisoryOnly suppresses the output file when nothing is patched.
	advisoryOnly bool
	// recordsPath receives the applied patch records.
	recordsPath string

	// showDefaultConfig prints the config template.
	showDefaultConfig bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command
)

const patchToolLongDesc = `patch-tool rewrites the entry of license and entitlement check functions
in a native shared library so that they always return true.

Symbols whose name contains one of the configured keywords (by default
"check", "licence" and "license") are looked up in the library's symbol table
and the first 8 bytes of each are replaced with a stub that returns 1. The
result is written to output-file, <input-file>.patched by default, with the
permission bits of the input. When no symbol matches, manual patching
instructions are printed instead.`

// New returns an initialized command tree.
func New() *cobra.Command {
	rootCommand = &cobra.Command{
		Use:   "patch-tool <input-file> [output-file]",
		Short: "Patch license check functions of a native library to return true.",
		Long:  patchToolLongDesc,
		Args:  cobra.MaximumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(patchCmd(cmd, args))
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'patch-tool help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'patch-tool help log').")
	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default $PATCH_TOOL_CONFIG or $XDG_CONFIG_HOME/patch-tool/config.yml).")

	rootCommand.Flags().StringVar(&arch, "arch", patch.DefaultArch, "Architecture of the return-true stub (arm64, amd64, riscv64 or a configured stub).")
	rootCommand.Flags().StringArrayVarP(&keywords, "keyword", "k", nil, "Case-insensitive name fragment selecting targets; repeatable, replaces the configured keywords.")
	rootCommand.Flags().StringArrayVarP(&patterns, "pattern", "p", nil, "String searched for in the library and reported; repeatable, replaces the configured patterns.")
	rootCommand.Flags().StringArrayVarP(&staticSymbols, "symbol", "s", nil, "Use name=offset as a symbol instead of reading the symbol table; repeatable.")
	rootCommand.Flags().StringVar(&symbolSource, "symbol-source", config.SourceAuto, "Where symbols come from: auto, tool or elf.")
	rootCommand.Flags().StringVar(&symbolTool, "symbol-tool", "readelf -W -s", "Symbol table dump command, the input path is appended.")
	rootCommand.Flags().DurationVar(&toolTimeout, "tool-timeout", symbols.DefaultToolTimeout, "Maximum time the symbol tool may run.")
	rootCommand.Flags().BoolVar(&advisoryOnly, "advisory-only", false, "Do not write an output file when no target is found.")
	rootCommand.Flags().StringVar(&recordsPath, "records", "", "Write the applied patches to this file, for use with 'patch-tool restore'.")

	// 'restore' subcommand.
	restoreCommand := &cobra.Command{
		Use:   "restore <patched-file> <records-file> [output-file]",
		Short: "Undo the patches listed in a records file.",
		Long: `Writes the original bytes saved in a records file (see --records) back into
a patched library. Every recorded region must still hold the patch bytes,
otherwise nothing is written. The output defaults to <patched-file>.restored.`,
		Args: cobra.RangeArgs(2, 3),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(restoreCmd(cmd, args))
		},
	}
	rootCommand.AddCommand(restoreCommand)

	// 'config' subcommand.
	configCommand := &cobra.Command{
		Use:   "config [option]",
		Short: "Print the effective configuration.",
		Long: `Prints every configuration option with its effective value, or only the
named option (for example 'patch-tool config symbol-tool').`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(configCmd(cmd, args))
		},
	}
	configCommand.Flags().BoolVar(&showDefaultConfig, "default", false, "Print a commented configuration file template instead.")
	rootCommand.AddCommand(configCommand)

	// 'version' subcommand.
	var buildInfo bool
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "patch-tool\n%s\n", version.PatchToolVersion)
			if buildInfo {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&buildInfo, "verbose", "v", false, "print build info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:

	symbols		Log symbol table loading and parsing
	scan		Log string search results
	patch		Log every byte written
	materialize	Log output file handling
	pipeline	Log state transitions (default)
	all		All of the above

Warnings are printed whether or not --log is given.

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})
	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// loadConfig returns the configuration file contents with the flags that
// were set on the command line applied on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("arch") {
		conf.Arch = arch
	}
	if flags.Changed("keyword") {
		conf.Keywords = keywords
	}
	if flags.Changed("pattern") {
		conf.Patterns = patterns
	}
	if flags.Changed("symbol-source") {
		conf.SymbolSource = symbolSource
	}
	if flags.Changed("symbol-tool") {
		conf.SymbolTool = symbolTool
	}
	if flags.Changed("tool-timeout") {
		conf.ToolTimeout = toolTimeout
	}
	if flags.Changed("advisory-only") {
		conf.AdvisoryOnly = advisoryOnly
	}
	return conf, conf.Validate()
}

func newProvider(conf *config.Config) (symbols.Provider, error) {
	if len(staticSymbols) > 0 {
		p := symbols.StaticProvider{}
		for _, s := range staticSymbols {
			i := strings.LastIndexByte(s, '=')
			if i <= 0 {
				return nil, errors.Errorf("invalid --symbol %q, want name=offset", s)
			}
			off, err := strconv.ParseUint(s[i+1:], 0, 64)
			if err != nil {
				return nil, errors.Errorf("invalid offset in --symbol %q: %v", s, err)
			}
			p[s[:i]] = off
		}
		return p, nil
	}
	tool := symbols.NewToolProvider(config.SplitQuotedFields(conf.SymbolTool), conf.ToolTimeout)
	switch conf.SymbolSource {
	case config.SourceTool:
		return tool, nil
	case config.SourceELF:
		return symbols.ELFProvider{}, nil
	}
	return symbols.ChainProvider{tool, symbols.ELFProvider{}}, nil
}

func patchCmd(cmd *cobra.Command, args []string) int {
	stdout := cmd.OutOrStdout()
	if len(args) == 0 {
		cmd.SetOut(stdout)
		cmd.Usage()
		return 1
	}

	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	conf, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	stubs := patch.DefaultStubs()
	if err := stubs.Merge(conf.Stubs); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	engine, err := patch.NewEngine(conf.Arch, stubs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	provider, err := newProvider(conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	opts := pipeline.Options{
		Input:         args[0],
		Provider:      provider,
		Selector:      targets.NewSelector(conf.Keywords...),
		Engine:        engine,
		Patterns:      conf.Patterns,
		AdvisoryOnly:  conf.AdvisoryOnly,
		ManualSymbols: conf.ManualSymbols,
		RecordsPath:   recordsPath,
	}
	if len(args) > 1 {
		opts.Output = args[1]
	}

	r, err := pipeline.Run(context.Background(), opts)
	if err != nil {
		if errors.Is(err, image.ErrInputNotFound) {
			fmt.Fprintf(os.Stderr, "Error: File not found: %s\n", args[0])
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	pipeline.WriteReport(stdout, r, opts)
	return 0
}

func restoreCmd(cmd *cobra.Command, args []string) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	patched, recordsFile := args[0], args[1]
	output := patched + ".restored"
	if len(args) > 2 {
		output = args[2]
	}

	img, err := image.Load(patched)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	rf, err := readRecordFile(recordsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	n, skipped := patch.Restore(img, rf.Records)
	if len(skipped) > 0 {
		fmt.Fprintf(os.Stderr, "Error: %d of %d records could not be restored, nothing written\n", len(skipped), len(rf.Records))
		return 1
	}
	if err := materialize.Write(output, img.Bytes(), patched); err != nil && !errors.Is(err, materialize.ErrPermissionCopy) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restored %d patches, saved to: %s\n", n, output)
	return 0
}

func readRecordFile(path string) (*patch.RecordFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return patch.ReadRecords(f)
}

func configCmd(cmd *cobra.Command, args []string) int {
	out := cmd.OutOrStdout()
	if showDefaultConfig {
		if err := config.WriteDefaultConfig(out); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(args) > 0 {
		line := config.ConfigureListByName(conf, args[0], "yaml")
		if line == "" {
			fmt.Fprintf(os.Stderr, "Error: unknown option %q\n", args[0])
			return 1
		}
		fmt.Fprint(out, line)
		return 0
	}
	config.ConfigureList(out, conf, "yaml")
	return 0
}
