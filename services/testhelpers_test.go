package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pdf-checker/jobs"
	"pdf-checker/providers"
	"pdf-checker/storage"
)

// minimalPDF builds a one page PDF with a correct xref table. tag makes the
// bytes, and so the fingerprint, unique.
func minimalPDF(tag string) []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>",
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%%PDF-1.4\n%% %s\n", tag)
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

type fakeAnalyzer struct {
	mu    sync.Mutex
	calls int
	// block makes Analyze wait for ctx like a slow veraPDF run.
	block   bool
	verdict *providers.Verdict
	err     error
	// slow holds minimalPDF tags whose documents always block.
	slow map[string]bool
}

func (f *fakeAnalyzer) Name() string { return "fake-analyzer" }

func (f *fakeAnalyzer) Analyze(ctx context.Context, path string) (*providers.Verdict, error) {
	f.mu.Lock()
	f.calls++
	block, verdict, err := f.block, f.verdict, f.err
	slow := f.slow
	f.mu.Unlock()

	if len(slow) > 0 {
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil, rerr
		}
		for tag := range slow {
			if bytes.Contains(data, []byte("% "+tag+"\n")) {
				block = true
			}
		}
	}

	if block {
		<-ctx.Done()
		return nil, providers.Timeout("fake analyze", 0)
	}
	if err != nil {
		return nil, err
	}
	if verdict == nil {
		return &providers.Verdict{IsAccessible: true, ValidationProfile: "PDF/UA-1"}, nil
	}
	v := *verdict
	return &v, nil
}

func (f *fakeAnalyzer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAnalyzer) slowFor(tags ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slow = map[string]bool{}
	for _, tag := range tags {
		f.slow[tag] = true
	}
}

func (f *fakeAnalyzer) set(block bool, verdict *providers.Verdict, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block, f.verdict, f.err = block, verdict, err
}

type fakeSummarizer struct {
	mu       sync.Mutex
	calls    int
	block    bool
	err      error
	requests []providers.SummaryRequest
	// slow holds original filenames whose summaries always block.
	slow map[string]bool
}

func (f *fakeSummarizer) Name() string { return "fake-summarizer" }

func (f *fakeSummarizer) Summarize(ctx context.Context, req providers.SummaryRequest) (*providers.Summary, error) {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	block, err := f.block, f.err
	if f.slow[req.OriginalFilename] {
		block = true
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, providers.Timeout("fake summarize", 0)
	}
	if err != nil {
		return nil, err
	}
	return &providers.Summary{
		Text:        "This document is missing alternative text.",
		Provider:    "fake-summarizer",
		Model:       "fake-1",
		TotalTokens: 42,
		RequestedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeSummarizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSummarizer) slowFor(filenames ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slow = map[string]bool{}
	for _, name := range filenames {
		f.slow[name] = true
	}
}

func (f *fakeSummarizer) set(block bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block, f.err = block, err
}

var inaccessible = &providers.Verdict{
	IsAccessible:           false,
	ValidationProfile:      "PDF/UA-1",
	FailedRules:            2,
	FailedRuleDescriptions: []string{"7.1-3: Content is neither marked as Artifact nor tagged", "7.3-1: Figure has no alternate text"},
}

var (
	fastDeadlines  = Deadlines{Analyzer: 2 * time.Second, Summarizer: 2 * time.Second}
	tightDeadlines = Deadlines{Analyzer: 50 * time.Millisecond, Summarizer: 50 * time.Millisecond}
)

type fixture struct {
	documents    *jobs.DocumentMachine
	summaries    *jobs.SummaryMachine
	store        *storage.LocalStore
	analyzer     *fakeAnalyzer
	summarizer   *fakeSummarizer
	orchestrator *Orchestrator
	selector     *Selector
	submissions  *Submissions
	projector    *Projector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	dir := t.TempDir()
	db, err := jobs.Open("sqlite", filepath.Join(dir, "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	store, err := storage.NewLocalStore(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	f := &fixture{
		documents:  jobs.NewDocumentMachine(db, 10*time.Minute),
		summaries:  jobs.NewSummaryMachine(db, 10*time.Minute),
		store:      store,
		analyzer:   &fakeAnalyzer{},
		summarizer: &fakeSummarizer{},
	}
	f.orchestrator = NewOrchestrator(f.documents, f.summaries, store, f.analyzer, f.summarizer, logger)
	f.selector = NewSelector(f.orchestrator, logger)
	f.submissions = NewSubmissions(f.documents, store, 1<<20, logger)
	f.projector = NewProjector(f.documents, f.summaries)
	return f
}

func (f *fixture) submit(t *testing.T, tag string) string {
	t.Helper()
	res, err := f.submissions.Submit(context.Background(), Upload{Filename: tag + ".pdf", Data: minimalPDF(tag)})
	require.NoError(t, err)
	return res.Document.ID
}
