package symbols

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/symstub/patch-tool/pkg/logflags"
)

// DefaultToolTimeout bounds a symbol tool invocation when no timeout is
// configured.
const DefaultToolTimeout = 30 * time.Second

// ToolProvider runs an external symbol table dumper and parses its output.
type ToolProvider struct {
	// Command is the tool argv; the binary path is appended to it.
	Command []string
	// Format selects the output parser.
	Format Format
	// Timeout bounds the tool invocation. Expiry is treated like any other
	// tool failure.
	Timeout time.Duration
	// Translate converts reported virtual addresses to file offsets using
	// the ELF program headers of the input, when it has any.
	Translate bool
}

// NewToolProvider returns a provider running command, guessing the output
// format from the tool name.
func NewToolProvider(command []string, timeout time.Duration) *ToolProvider {
	return &ToolProvider{
		Command:   command,
		Format:    FormatForTool(command),
		Timeout:   timeout,
		Translate: true,
	}
}

// FormatForTool returns FormatNm for nm-like tools (nm, llvm-nm,
// aarch64-linux-android-nm, ...) and FormatReadelf otherwise.
func FormatForTool(command []string) Format {
	if len(command) == 0 {
		return FormatReadelf
	}
	base := filepath.Base(command[0])
	if base == "nm" || strings.HasSuffix(base, "-nm") {
		return FormatNm
	}
	return FormatReadelf
}

func (p *ToolProvider) Name() string {
	if len(p.Command) == 0 {
		return "tool"
	}
	return filepath.Base(p.Command[0])
}

func (p *ToolProvider) Symbols(ctx context.Context, path string) (*Table, error) {
	log := logflags.SymbolsLogger().WithField("tool", p.Name())
	if len(p.Command) == 0 {
		return NewTable(), errors.Wrap(ErrToolUnavailable, "no symbol tool configured")
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, p.Command[1:]...), path)
	cmd := exec.CommandContext(ctx, p.Command[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	log.Debugf("running %s %s", p.Command[0], strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return NewTable(), errors.Wrapf(ErrToolUnavailable, "%s timed out after %v", p.Name(), timeout)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return NewTable(), errors.Wrapf(ErrToolUnavailable, "%s: %v: %s", p.Name(), err, firstLine(msg))
		}
		return NewTable(), errors.Wrapf(ErrToolUnavailable, "%s: %v", p.Name(), err)
	}

	t, skipped, err := Parse(&stdout, p.Format, log)
	if err != nil {
		log.Warnf("output truncated: %v", err)
	}
	if skipped > 0 {
		log.Warnf("%d malformed symbol records skipped", skipped)
	}
	if !p.Translate {
		return t, nil
	}
	segs, err := LoadSegments(path)
	if err != nil {
		log.Debugf("addresses used as file offsets: %v", err)
		return t, nil
	}
	return segs.translate(t, log), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
