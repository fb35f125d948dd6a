package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/seantiz/testrig/internal/model"
)

var (
	passColor    = color.New(color.FgGreen)
	failColor    = color.New(color.FgRed)
	timeoutColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgMagenta)
	skipColor    = color.New(color.Faint, color.FgBlue)
	detailColor  = color.New(color.Faint)
)

// Printer writes per-invocation summaries. Summary lines go to Out; messages
// and captured stderr of unsuccessful invocations go to Err.
type Printer struct {
	Out io.Writer
	Err io.Writer
	// ShowOutput also prints captured stdout of every invocation.
	ShowOutput bool
}

// Invocation prints the result of one finished invocation.
func (p *Printer) Invocation(inv *model.Invocation) {
	dur := ""
	if inv.DurationMS != nil {
		dur = " (" + (time.Duration(*inv.DurationMS) * time.Millisecond).String() + ")"
	}

	switch inv.Outcome {
	case model.OutcomeSuccess:
		_, _ = passColor.Fprintf(p.Out, "PASS %s%s\n", inv.Target, dur)
	case model.OutcomeFailure:
		_, _ = failColor.Fprintf(p.Out, "FAIL %s%s\n", inv.Target, dur)
	case model.OutcomeTimeout:
		_, _ = timeoutColor.Fprintf(p.Out, "TIMEOUT %s%s\n", inv.Target, dur)
	default:
		_, _ = errorColor.Fprintf(p.Out, "ERROR %s\n", inv.Target)
	}

	if p.ShowOutput && len(inv.Stdout) > 0 {
		p.indent(p.Out, inv.Stdout)
	}
	if inv.Outcome == model.OutcomeSuccess {
		return
	}

	// The message is printed without colour so its prefix stays matchable
	// when colour is forced on.
	fmt.Fprintln(p.Err, inv.Message)
	if len(inv.Stderr) > 0 {
		p.indent(p.Err, inv.Stderr)
	}
}

// Skipped prints a target that was not run on this platform.
func (p *Printer) Skipped(target model.Target, reason string) {
	_, _ = skipColor.Fprintf(p.Out, "SKIP %s (%s)\n", target, reason)
}

// Summary prints totals for a multi-target run.
func (p *Printer) Summary(invs []*model.Invocation) {
	counts := make(map[string]int)
	for _, inv := range invs {
		counts[inv.Outcome]++
	}
	line := fmt.Sprintf("%d passed, %d failed, %d timed out, %d errored",
		counts[model.OutcomeSuccess],
		counts[model.OutcomeFailure],
		counts[model.OutcomeTimeout],
		counts[model.OutcomeInfraError],
	)
	if ExitCode(invs) == ExitSuccess {
		_, _ = passColor.Fprintln(p.Out, line)
		return
	}
	_, _ = failColor.Fprintln(p.Out, line)
}

func (p *Printer) indent(w io.Writer, data []byte) {
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		_, _ = detailColor.Fprintf(w, "    %s\n", line)
	}
}
