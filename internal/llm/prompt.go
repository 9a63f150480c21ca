package llm

import (
	"fmt"
	"strings"
)

const kvResponseFormat = `Your response should be in the following format enclosed in <response></response> tags:

<response>
{
    "key1": "value1",
    "key2": "value2",
    ...
}
</response>`

// TableExtractionSystem is the system prompt for the table pass of supplier extraction.
func TableExtractionSystem(table string) string {
	parts := []string{
		"You are a validation step in a data-science process, your responses should be consistent and reliable.",
		"Your task is to analyze the markdown table provided to you and extract any information the user asks for as a key value pair.",
		"Look through the table and consider its structure. Some tables have multi-level headers, others are simple.",
		kvResponseFormat,
		"Here is the table you must reference when responding to the information request:",
		table,
	}
	return strings.Join(parts, "\n\n")
}

// PageExtractionSystem is the system prompt for the page-text fallback pass.
func PageExtractionSystem(page string) string {
	parts := []string{
		"You are a validation step in a data-science process, your responses should be consistent and reliable.",
		"Your task is to analyze the page provided to you and extract any information the user asks for as a key value pair.",
		"The page may mix tables, forms and unstructured text. Make sense of all of it.",
		kvResponseFormat,
		"Here is the page you must reference when responding to the information request:",
		page,
	}
	return strings.Join(parts, "\n\n")
}

// DateRewriteSystem asks for a bare ISO-8601 date.
const DateRewriteSystem = "Tell me what the following date is in ISO 8601 format (YYYY-MM-DD). Respond with the date only."

// IssuePair is an issue title with the remediation window ticked on the form.
type IssuePair struct {
	Title     string
	Timescale string
}

// IssueExtractionPrompts builds the system and user prompts of the issue pass.
func IssueExtractionPrompts(pairs []IssuePair, tableLines []string) (system, user string) {
	system = `You are a validation step in a data-science process, your responses should be consistent and reliable.

You will be given a list of issue titles and their remediation timescales.

For each one decide whether it is an observation, a good example or a non-compliance, then find its explanation in the table data.
Do not paraphrase and make sure you return every explanation. Do not add any other information.

Respond with a list of four-element arrays, one per line, enclosed in <response></response> tags:

<response>
[
    ["<non-compliance | good-example | observation>", "issue title", "timescale", "explanation"],
    ["<non-compliance | good-example | observation>", "issue title", "timescale", "explanation"],
    ...
]
</response>`

	var list strings.Builder
	for _, p := range pairs {
		fmt.Fprintf(&list, "[%q, %q]\n", p.Title, p.Timescale)
	}
	user = "Here is the list of issue titles:\n" + list.String() +
		"\nHere is the table data:\n" + strings.Join(tableLines, "\n\n") +
		"\n\nPlease get the issue title and explanation for each issue."
	return system, user
}

// NoIssuesText replaces the issues table in the email prompt when nothing is rated.
const NoIssuesText = "There are no issues"

const emailSystem = `You are a Social Sustainability Assistant.
Your task is to write the email sent to a supplier once their ethical audit has been evaluated.
The email must have a professional tone and follow the layout shown below in <format></format> tags.
The user will provide all the information needed to fill in the email body. The report type is always SMETA.

<format>
Good afternoon,

Thank you for sharing your latest ethical audit and corrective action plan.

| Audit Date | Type  | Auditing Firm | Grading |
|------------|-------|---------------|---------|
|            | SMETA |               |         |

Please see the table below for a breakdown of the grading and agreed timeframes to remediate each non-conformance.

| NC | DETAILS | GRADING | TIMEFRAME |
|----|---------|---------|-----------|
|    |         |         |           |

Evidence of remediation for each issue is expected within the timeframes stipulated on the corrective action plan.
If improvements are not evidenced within the agreed timeframe, the factory grading will be downgraded in line with the Ethical Audit Policy.

If you have any questions, please do not hesitate to ask.

Thank you in advance for your cooperation.
</format>

When the audit found zero non-conformances, leave out the issues table, say that no non-conformances were identified and thank the supplier for adhering to the Ethical Audit Policy.`

const emailFormatReminder = "Ensure the email is always wrapped in <format></format> tags."

// EmailRequest builds the multi-turn conversation that produces the supplier email.
func EmailRequest(supplierJSON, issuesTable string) CompletionRequest {
	if strings.TrimSpace(issuesTable) == "" {
		issuesTable = NoIssuesText
	}
	return CompletionRequest{
		System: []string{emailSystem, emailFormatReminder},
		Messages: []Message{
			{Role: RoleUser, Content: "Can you generate an email body for me."},
			{Role: RoleAssistant, Content: "Please provide the supplier details"},
			{Role: RoleUser, Content: supplierJSON},
			{Role: RoleAssistant, Content: "Please provide the issue details and I will respond with the email body."},
			{Role: RoleUser, Content: issuesTable},
		},
		Temperature: 0.7,
		TopP:        0.4,
		MaxTokens:   2000,
	}
}
