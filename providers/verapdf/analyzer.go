package verapdf

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"pdf-checker/providers"
)

var commandContext = exec.CommandContext

const maxFailedRules = 25

// Analyzer runs the veraPDF command line validator.
type Analyzer struct {
	binary  string
	flavour string
	Logger  *zap.Logger
}

// Option configures the Analyzer.
type Option func(*Analyzer)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(a *Analyzer) {
		if binary != "" {
			a.binary = binary
		}
	}
}

// WithFlavour selects the validation profile flavour (ua1, ua2, 1b, ...).
func WithFlavour(flavour string) Option {
	return func(a *Analyzer) {
		if flavour != "" {
			a.flavour = flavour
		}
	}
}

// NewAnalyzer creates a veraPDF analyzer validating against PDF/UA-1 by default.
func NewAnalyzer(logger *zap.Logger, opts ...Option) *Analyzer {
	a := &Analyzer{binary: "verapdf", flavour: "ua1", Logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the analyzer name.
func (a *Analyzer) Name() string {
	return "verapdf"
}

// Analyze validates the file and returns the accessibility verdict.
func (a *Analyzer) Analyze(ctx context.Context, path string) (*providers.Verdict, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("pdf path required")
	}
	log := a.Logger.With(zap.String("path", path), zap.String("flavour", a.flavour))

	start := time.Now()
	args := []string{"--format", "json", "--flavour", a.flavour, path}
	cmd := commandContext(ctx, a.binary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	runErr := cmd.Run()
	if ctx.Err() != nil {
		log.Warn("veraPDF did not finish in time", zap.Duration("elapsed", time.Since(start)))
		return nil, providers.Timeout("verapdf", providers.DeadlineOf(ctx, start))
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		// veraPDF exits 1 when the file is not compliant; the report is still on stdout.
		if !errors.As(runErr, &exitErr) || exitErr.ExitCode() != 1 || stdout.Len() == 0 {
			return nil, providers.Execution("verapdf", strings.TrimSpace(stderr.String()), runErr)
		}
	}

	verdict, err := ParseReport(stdout.Bytes())
	if err != nil {
		return nil, providers.Execution("verapdf", "unreadable report", err)
	}
	log.Info("veraPDF analysis finished",
		zap.Bool("is_accessible", verdict.IsAccessible),
		zap.Int("failed_rules", verdict.FailedRules),
		zap.Duration("elapsed", time.Since(start)))
	return verdict, nil
}

// ParseReport turns veraPDF JSON output into a Verdict.
func ParseReport(raw []byte) (*providers.Verdict, error) {
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, errors.Wrap(err, "decode verapdf json")
	}
	if len(report.Report.Jobs) == 0 {
		return nil, errors.New("verapdf report contains no jobs")
	}
	job := report.Report.Jobs[0]
	if job.TaskException != nil && job.TaskException.Message != "" {
		return nil, errors.Newf("verapdf task failed: %s", job.TaskException.Message)
	}

	results, err := job.results()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errors.New("verapdf report contains no validation result")
	}
	result := results[0]

	verdict := &providers.Verdict{
		IsAccessible:      result.Compliant,
		ValidationProfile: result.ProfileName,
		PassedChecks:      result.Details.PassedChecks,
		FailedChecks:      result.Details.FailedChecks,
		TotalChecks:       result.Details.PassedChecks + result.Details.FailedChecks,
		PassedRules:       result.Details.PassedRules,
		FailedRules:       result.Details.FailedRules,
		AnalyzerVersion:   report.Report.version(),
		RawJSON:           string(raw),
	}
	for _, rule := range result.Details.RuleSummaries {
		if !strings.EqualFold(rule.RuleStatus, "failed") && !strings.EqualFold(rule.Status, "failed") {
			continue
		}
		if len(verdict.FailedRuleDescriptions) == maxFailedRules {
			break
		}
		verdict.FailedRuleDescriptions = append(verdict.FailedRuleDescriptions, rule.describe())
	}
	return verdict, nil
}

var _ providers.Analyzer = (*Analyzer)(nil)
