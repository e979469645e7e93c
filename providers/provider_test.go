package providers

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsTimeout(Timeout("verapdf", 30*time.Second)))
	assert.True(t, IsTimeout(errors.Wrap(context.DeadlineExceeded, "post")))
	assert.False(t, IsTimeout(ErrAuth))

	err := errors.Wrap(Execution("openrouter", "status 400", errors.New("bad request")), "summarize")
	var execErr *ExecutionError
	assert.True(t, errors.As(err, &execErr))
	assert.Equal(t, "openrouter: status 400: bad request", execErr.Error())
	assert.False(t, IsTimeout(err))
}

func TestBuildPromptListsFailedRules(t *testing.T) {
	prompt := BuildPrompt(SummaryRequest{
		OriginalFilename: "thesis.pdf",
		Verdict: &Verdict{
			ValidationProfile:      "PDF/UA-1 validation profile",
			FailedRules:            2,
			FailedRuleDescriptions: []string{"alt text missing", "no document title"},
		},
	})
	assert.Contains(t, prompt, `"thesis.pdf"`)
	assert.Contains(t, prompt, "- alt text missing\n")
	assert.Contains(t, prompt, "- no document title\n")
	assert.Contains(t, prompt, "Profile: PDF/UA-1 validation profile")

	assert.Contains(t, BuildPrompt(SummaryRequest{}), "the uploaded document")
}
