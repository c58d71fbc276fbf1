package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"CapTrades/internal/domain/models"
	drepo "CapTrades/internal/domain/repository"
	"CapTrades/internal/sandbox"
	applogger "CapTrades/pkg/logger"
	"CapTrades/pkg/util"
)

// diffSampleSize bounds the number of records diffed into the trace, so the
// trace itself stays bounded regardless of batch size.
const diffSampleSize = 3

// LambdaRunner orchestrates one confined transform: availability gate,
// validation, execution, trace assembly, audit. Failure policy is whole
// batch; a transform that raises partway through returns no records at all.
type LambdaRunner struct {
	sb      *sandbox.Sandbox
	audit   *AuditProcessor
	metrics drepo.Metrics
	logger  *applogger.Logger
}

// NewLambdaRunner creates a new LambdaRunner instance.
func NewLambdaRunner(
	sb *sandbox.Sandbox,
	audit *AuditProcessor,
	metrics drepo.Metrics,
	logger *applogger.Logger,
) *LambdaRunner {
	return &LambdaRunner{sb: sb, audit: audit, metrics: metrics, logger: logger}
}

// ValidateCode statically checks submitted code. Pure pass-through to the
// grammar validator; nothing is executed.
func (r *LambdaRunner) ValidateCode(code string) models.ValidateLambdaResponse {
	verr := sandbox.Validate(code)
	if r.metrics != nil {
		r.metrics.RecordValidation(verr == nil)
	}
	if verr == nil {
		return models.ValidateLambdaResponse{Valid: true}
	}
	return models.ValidateLambdaResponse{Valid: false, Error: verr.Error()}
}

// ApplyFailure classifies a failed apply call for boundary mapping. The
// trace is populated even on failure; the transformed batch never is.
type ApplyFailure struct {
	Status  string
	Message string
	Trace   []models.TraceEntry
}

// Apply runs code against a signal batch under confinement.
//
// The sandbox availability gate fails closed: when the self-test did not
// pass at startup, nothing is executed, not even trivially safe code.
func (r *LambdaRunner) Apply(ctx context.Context, code string, signals []models.SignalRecord) (*models.TransformResult, *ApplyFailure) {
	start := time.Now()
	trace := []models.TraceEntry{{
		Kind:   models.TraceInput,
		Detail: fmt.Sprintf("batch of %d signal(s)", len(signals)),
	}}

	if !r.sb.Available() {
		return nil, r.fail(ctx, code, signals, trace, models.StatusUnavailable, "sandbox unavailable", nil, start)
	}

	if verr := sandbox.Validate(code); verr != nil {
		return nil, r.fail(ctx, code, signals, trace, models.StatusGrammar, verr.Error(), nil, start)
	}

	res, rerr := r.sb.Run(ctx, code, recordsIn(signals))
	if rerr != nil {
		status := models.StatusRuntime
		if rerr.Kind == sandbox.KindBudget {
			status = models.StatusBudget
		} else if rerr.Kind == sandbox.KindGrammar {
			status = models.StatusGrammar
		}
		return nil, r.fail(ctx, code, signals, trace, status, rerr.Error(), res, start)
	}

	trace = appendOutput(trace, res.Output, res.OutputTruncated)
	trace = appendDiffs(trace, signals, res.Signals)
	trace = append(trace,
		models.TraceEntry{Kind: models.TraceResult, Detail: fmt.Sprintf("batch of %d signal(s), %d step(s)", len(res.Signals), res.Steps)},
		models.TraceEntry{Kind: models.TraceStatus, Detail: models.StatusSuccess},
	)

	out := make([]models.SignalRecord, len(res.Signals))
	for i, m := range res.Signals {
		out[i] = models.SignalRecord(m)
	}

	if r.metrics != nil {
		r.metrics.RecordRun(models.StatusSuccess)
		r.metrics.RecordLatency("apply", time.Since(start).Seconds())
	}
	r.record(ctx, code, models.StatusSuccess, len(signals), len(out), res.Steps, time.Since(start), "")
	return &models.TransformResult{Signals: out, Trace: trace}, nil
}

// fail finalizes the trace, records metrics and audit, and builds the
// failure for the boundary layer.
func (r *LambdaRunner) fail(
	ctx context.Context,
	code string,
	signals []models.SignalRecord,
	trace []models.TraceEntry,
	status, msg string,
	run *sandbox.Result,
	start time.Time,
) *ApplyFailure {
	steps := 0
	if run != nil {
		trace = appendOutput(trace, run.Output, run.OutputTruncated)
		steps = run.Steps
	}
	trace = append(trace,
		models.TraceEntry{Kind: models.TraceError, Detail: msg},
		models.TraceEntry{Kind: models.TraceStatus, Detail: status},
	)

	if r.metrics != nil {
		r.metrics.RecordRun(status)
	}
	if r.logger != nil {
		r.logger.Warn("lambda apply failed",
			applogger.String("status", status),
			applogger.String("error", msg),
			applogger.Int("signals", len(signals)),
		)
	}
	r.record(ctx, code, status, len(signals), 0, steps, time.Since(start), msg)
	return &ApplyFailure{Status: status, Message: msg, Trace: trace}
}

func (r *LambdaRunner) record(ctx context.Context, code, status string, in, out, steps int, d time.Duration, errMsg string) {
	if r.audit == nil {
		return
	}
	r.audit.Record(ctx, &models.AuditRecord{
		Timestamp:   time.Now().UTC(),
		CodeHash:    util.Sha256Hex(code),
		Status:      status,
		InputCount:  in,
		OutputCount: out,
		Steps:       steps,
		DurationMs:  float64(d.Microseconds()) / 1000.0,
		Error:       errMsg,
	})
}

func recordsIn(signals []models.SignalRecord) []map[string]any {
	out := make([]map[string]any, len(signals))
	for i, s := range signals {
		out[i] = map[string]any(s)
	}
	return out
}

func appendOutput(trace []models.TraceEntry, lines []string, truncated bool) []models.TraceEntry {
	for _, line := range lines {
		trace = append(trace, models.TraceEntry{Kind: models.TracePrint, Detail: line})
	}
	if truncated {
		trace = append(trace, models.TraceEntry{Kind: models.TracePrint, Detail: "(output truncated)"})
	}
	return trace
}

// appendDiffs records field-level before/after for the first few records
// that survived in place. Filtered and reordered batches still show up via
// the input/result counts.
func appendDiffs(trace []models.TraceEntry, before []models.SignalRecord, after []map[string]any) []models.TraceEntry {
	n := len(before)
	if len(after) < n {
		n = len(after)
	}
	if n > diffSampleSize {
		n = diffSampleSize
	}
	for i := 0; i < n; i++ {
		for _, field := range sortedFields(before[i]) {
			old := before[i][field]
			cur, ok := after[i][field]
			if !ok {
				trace = append(trace, models.TraceEntry{
					Kind:   models.TraceDiff,
					Detail: fmt.Sprintf("signal %d: %s removed (was %v)", i, field, old),
				})
				continue
			}
			if old != cur {
				trace = append(trace, models.TraceEntry{
					Kind:   models.TraceDiff,
					Detail: fmt.Sprintf("signal %d: %s: %v -> %v", i, field, old, cur),
				})
			}
		}
		for _, field := range sortedFields(after[i]) {
			if _, ok := before[i][field]; !ok {
				trace = append(trace, models.TraceEntry{
					Kind:   models.TraceDiff,
					Detail: fmt.Sprintf("signal %d: %s added (%v)", i, field, after[i][field]),
				})
			}
		}
	}
	return trace
}

func sortedFields(m map[string]any) []string {
	fields := make([]string, 0, len(m))
	for k := range m {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}
