package providers

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Analyzer runs the accessibility check (stage 1) on a PDF file.
type Analyzer interface {
	// Analyze must give up and return an error wrapping ErrTimeout once ctx is done.
	Analyze(ctx context.Context, path string) (*Verdict, error)

	// Name returns the unique name of the analyzer (e.g. "verapdf").
	Name() string
}

// Summarizer produces the plain language summary (stage 2) for an inaccessible document.
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (*Summary, error)

	// Name returns the unique name of the provider (e.g. "openrouter").
	Name() string
}

// Verdict is the analyzer output. IsAccessible=true means no summary is needed.
type Verdict struct {
	IsAccessible      bool
	ValidationProfile string
	TotalChecks       int
	PassedChecks      int
	FailedChecks      int
	PassedRules       int
	FailedRules       int
	AnalyzerVersion   string
	// FailedRuleDescriptions feeds the summary prompt.
	FailedRuleDescriptions []string
	RawJSON                string
}

// SummaryRequest carries what the summarizer needs to explain the failures.
type SummaryRequest struct {
	DocumentID       string
	OriginalFilename string
	Verdict          *Verdict
}

// Summary is the summarizer output plus provider metadata.
type Summary struct {
	Text             string
	Provider         string
	Model            string
	Prompt           string
	ResponseID       string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	RawResponseJSON  string
	RequestedAt      time.Time
}

var (
	// ErrTimeout means the collaborator did not answer within its deadline.
	// The work is retried later; it never marks a document failed.
	ErrTimeout = errors.New("collaborator timed out")
	// ErrAuth means the provider rejected our credentials. Terminal.
	ErrAuth = errors.New("provider authentication failed")
)

// ExecutionError is a definitive collaborator failure: the tool ran and
// reported an error, or the provider answered with something unusable.
type ExecutionError struct {
	Op     string
	Detail string
	Err    error
}

func (e *ExecutionError) Error() string {
	msg := e.Op + ": " + e.Detail
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Execution builds an ExecutionError.
func Execution(op, detail string, err error) error {
	return &ExecutionError{Op: op, Detail: detail, Err: err}
}

// Timeout wraps ErrTimeout with context about which call ran out of time.
func Timeout(op string, limit time.Duration) error {
	if limit > 0 {
		return errors.Wrapf(ErrTimeout, "%s exceeded %s", op, limit)
	}
	return errors.Wrap(ErrTimeout, op)
}

// IsTimeout reports whether err is a deadline miss rather than a real failure.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// DeadlineOf returns how much time ctx had when the call started, for error messages.
func DeadlineOf(ctx context.Context, start time.Time) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline.Sub(start).Round(time.Millisecond)
	}
	return 0
}
