package verapdf

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pdf-checker/providers"
)

const compliantReport = `{"report":{"buildInformation":{"releaseDetails":[{"id":"core","version":"1.26.2"},{"id":"gui","version":"1.26.5"}]},
"jobs":[{"itemDetails":{"name":"ok.pdf","size":1024},"validationResult":[{"profileName":"PDF/UA-1 validation profile",
"statement":"PDF file is compliant with Validation Profile requirements.","compliant":true,
"details":{"passedRules":106,"failedRules":0,"passedChecks":2310,"failedChecks":0,"ruleSummaries":[]}}]}]}}`

const failingReport = `{"report":{"buildInformation":{"releaseDetails":[{"id":"core","version":"1.24.1"}]},
"jobs":[{"itemDetails":{"name":"bad.pdf","size":2048},"validationResult":{"profileName":"PDF/UA-1 validation profile",
"statement":"PDF file is not compliant with Validation Profile requirements.","compliant":false,
"details":{"passedRules":100,"failedRules":2,"passedChecks":900,"failedChecks":4,"ruleSummaries":[
{"ruleStatus":"FAILED","specification":"ISO 14289-1:2014","clause":"7.1","testNumber":3,"failedChecks":3,"description":"Content shall be marked as Artifact or tagged as real content"},
{"ruleStatus":"FAILED","specification":"ISO 14289-1:2014","clause":"7.18.1","testNumber":2,"failedChecks":1,"description":"Annotations shall have a Contents entry"}]}}}]}}`

func stubCommand(t *testing.T, mode string) *[]string {
	t.Helper()
	var captured []string
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		captured = append([]string{name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "VERAPDF_HELPER_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
	return &captured
}

func TestAnalyzeCompliantDocument(t *testing.T) {
	captured := stubCommand(t, "compliant")
	a := NewAnalyzer(zaptest.NewLogger(t), WithBinary("/opt/verapdf/verapdf"), WithFlavour("ua2"))

	verdict, err := a.Analyze(context.Background(), "/data/ok.pdf")
	require.NoError(t, err)
	assert.True(t, verdict.IsAccessible)
	assert.Equal(t, 2310, verdict.TotalChecks)
	assert.Equal(t, "1.26.2", verdict.AnalyzerVersion)
	assert.Empty(t, verdict.FailedRuleDescriptions)
	assert.Equal(t, []string{"/opt/verapdf/verapdf", "--format", "json", "--flavour", "ua2", "/data/ok.pdf"}, *captured)
}

func TestAnalyzeNonCompliantExitCodeIsNotAnError(t *testing.T) {
	stubCommand(t, "failing")
	a := NewAnalyzer(zaptest.NewLogger(t))

	verdict, err := a.Analyze(context.Background(), "/data/bad.pdf")
	require.NoError(t, err)
	assert.False(t, verdict.IsAccessible)
	assert.Equal(t, 2, verdict.FailedRules)
	assert.Equal(t, 904, verdict.TotalChecks)
	require.Len(t, verdict.FailedRuleDescriptions, 2)
	assert.Contains(t, verdict.FailedRuleDescriptions[0], "clause 7.1 test 3")
	assert.NotEmpty(t, verdict.RawJSON)
}

func TestAnalyzeCrashIsExecutionError(t *testing.T) {
	stubCommand(t, "crash")
	a := NewAnalyzer(zaptest.NewLogger(t))

	_, err := a.Analyze(context.Background(), "/data/bad.pdf")
	require.Error(t, err)
	var execErr *providers.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Detail, "java.lang.OutOfMemoryError")
	assert.False(t, providers.IsTimeout(err))
}

func TestAnalyzeGarbageOutputIsExecutionError(t *testing.T) {
	stubCommand(t, "garbage")
	a := NewAnalyzer(zaptest.NewLogger(t))

	_, err := a.Analyze(context.Background(), "/data/bad.pdf")
	var execErr *providers.ExecutionError
	require.ErrorAs(t, err, &execErr)
}

func TestAnalyzeDeadlineIsTimeout(t *testing.T) {
	stubCommand(t, "hang")
	a := NewAnalyzer(zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := a.Analyze(ctx, "/data/slow.pdf")
	require.Error(t, err)
	assert.True(t, providers.IsTimeout(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAnalyzeRequiresPath(t *testing.T) {
	a := NewAnalyzer(zaptest.NewLogger(t))
	_, err := a.Analyze(context.Background(), " ")
	assert.Error(t, err)
}

func TestParseReportRejectsEmptyJobs(t *testing.T) {
	_, err := ParseReport([]byte(`{"report":{"jobs":[]}}`))
	assert.Error(t, err)
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("VERAPDF_HELPER_MODE") {
	case "compliant":
		fmt.Println(compliantReport)
		os.Exit(0)
	case "failing":
		fmt.Println(failingReport)
		os.Exit(1)
	case "crash":
		fmt.Fprintln(os.Stderr, "Exception in thread main java.lang.OutOfMemoryError")
		os.Exit(7)
	case "garbage":
		fmt.Println("not-json")
		os.Exit(0)
	case "hang":
		time.Sleep(time.Minute)
		os.Exit(0)
	default:
		os.Exit(0)
	}
}
