package scenario

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/canister-sim/runtime"
)

// Report collects the results of a scenario run.
type Report struct {
	Name    string
	Results []StepResult
}

// Failed returns the number of failed steps.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Failed() {
			n++
		}
	}
	return n
}

// OK reports whether every step passed.
func (r *Report) OK() bool {
	return r.Failed() == 0
}

// Write prints one line per step and a summary.
func (r *Report) Write(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %s\n", r.Name)
	for _, res := range r.Results {
		status := "ok  "
		if res.Failed() {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "  %s %3d %s", status, res.Index, res.Step.Describe())
		if res.HasOutcome {
			fmt.Fprintf(&b, " -> %s", res.Decoded)
		}
		b.WriteByte('\n')
		if res.Err != nil {
			fmt.Fprintf(&b, "           error: %v\n", res.Err)
		}
		for _, m := range res.Mismatch {
			fmt.Fprintf(&b, "           %s\n", m)
		}
	}
	fmt.Fprintf(&b, "%d steps, %d failed\n", len(r.Results), r.Failed())
	_, err := io.WriteString(w, b.String())
	return err
}

// Run opens a session for s, executes every step and closes the session.
// The returned error covers setup and teardown only; step failures are in
// the report.
func Run(ctx context.Context, s *Scenario, base runtime.Config, catalog *Catalog) (report *Report, err error) {
	sess, err := Open(ctx, s, base, catalog)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := sess.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	report = &Report{Name: s.Name}
	for i, st := range s.Steps {
		res := sess.Exec(ctx, st)
		res.Index = i
		report.Results = append(report.Results, res)

		fields := []zap.Field{
			zap.Int("step", i),
			zap.String("action", st.Action),
			zap.String("describe", st.Describe()),
		}
		if res.HasOutcome {
			fields = append(fields, zap.Stringer("outcome", res.Outcome))
		}
		if res.Failed() {
			sess.log.Warn("scenario step failed", append(fields,
				zap.Error(res.Err),
				zap.Strings("mismatch", res.Mismatch))...)
		} else {
			sess.log.Debug("scenario step", fields...)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return report, nil
}
