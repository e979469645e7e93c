package verapdf

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Report mirrors the parts of `verapdf --format json` output we use.
type Report struct {
	Report ReportBody `json:"report"`
}

type ReportBody struct {
	BuildInformation BuildInformation `json:"buildInformation"`
	Jobs             []Job            `json:"jobs"`
}

type BuildInformation struct {
	ReleaseDetails []ReleaseDetail `json:"releaseDetails"`
}

type ReleaseDetail struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// version prefers the core library version, then the first listed component.
func (b ReportBody) version() string {
	for _, d := range b.BuildInformation.ReleaseDetails {
		if d.ID == "core" {
			return d.Version
		}
	}
	if len(b.BuildInformation.ReleaseDetails) > 0 {
		return b.BuildInformation.ReleaseDetails[0].Version
	}
	return ""
}

type Job struct {
	ItemDetails struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	} `json:"itemDetails"`
	// Older veraPDF releases emit an object, newer ones an array.
	ValidationResult json.RawMessage `json:"validationResult"`
	TaskException    *struct {
		Message string `json:"exceptionMessage"`
	} `json:"taskException,omitempty"`
}

func (j Job) results() ([]ValidationResult, error) {
	raw := strings.TrimSpace(string(j.ValidationResult))
	switch {
	case raw == "" || raw == "null":
		return nil, nil
	case strings.HasPrefix(raw, "["):
		var many []ValidationResult
		if err := json.Unmarshal(j.ValidationResult, &many); err != nil {
			return nil, errors.Wrap(err, "decode validation results")
		}
		return many, nil
	default:
		var one ValidationResult
		if err := json.Unmarshal(j.ValidationResult, &one); err != nil {
			return nil, errors.Wrap(err, "decode validation result")
		}
		return []ValidationResult{one}, nil
	}
}

type ValidationResult struct {
	ProfileName string `json:"profileName"`
	Statement   string `json:"statement"`
	Compliant   bool   `json:"compliant"`
	Details     struct {
		PassedRules   int           `json:"passedRules"`
		FailedRules   int           `json:"failedRules"`
		PassedChecks  int           `json:"passedChecks"`
		FailedChecks  int           `json:"failedChecks"`
		RuleSummaries []RuleSummary `json:"ruleSummaries"`
	} `json:"details"`
}

type RuleSummary struct {
	RuleStatus    string `json:"ruleStatus"`
	Status        string `json:"status"`
	Specification string `json:"specification"`
	Clause        string `json:"clause"`
	TestNumber    int    `json:"testNumber"`
	FailedChecks  int    `json:"failedChecks"`
	Description   string `json:"description"`
}

func (r RuleSummary) describe() string {
	return fmt.Sprintf("%s clause %s test %d (%d failed checks): %s",
		r.Specification, r.Clause, r.TestNumber, r.FailedChecks, strings.TrimSpace(r.Description))
}
