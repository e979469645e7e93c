package providers

import (
	"fmt"
	"strings"
)

// SystemPrompt frames every summary request.
const SystemPrompt = `You help non-specialists understand PDF accessibility reports.
Explain in plain language what is wrong with the document and what the author
should fix first. Be concise. Do not mention the names of validation tools.`

// BuildPrompt renders the user prompt for a summary request.
func BuildPrompt(req SummaryRequest) string {
	var b strings.Builder
	name := req.OriginalFilename
	if name == "" {
		name = "the uploaded document"
	}
	fmt.Fprintf(&b, "The PDF %q failed an accessibility check.\n", name)
	if v := req.Verdict; v != nil {
		if v.ValidationProfile != "" {
			fmt.Fprintf(&b, "Profile: %s\n", v.ValidationProfile)
		}
		fmt.Fprintf(&b, "Rules: %d passed, %d failed. Checks: %d passed, %d failed.\n",
			v.PassedRules, v.FailedRules, v.PassedChecks, v.FailedChecks)
		if len(v.FailedRuleDescriptions) > 0 {
			b.WriteString("\nFailed rules:\n")
			for _, d := range v.FailedRuleDescriptions {
				fmt.Fprintf(&b, "- %s\n", d)
			}
		}
	}
	b.WriteString("\nSummarize the problems in at most five short bullet points, most important first.")
	return b.String()
}
