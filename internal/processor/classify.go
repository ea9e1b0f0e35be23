package processor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/oak-dev/cid/internal/activitystore"
	"github.com/oak-dev/cid/internal/llmclient"
)

// activitySummary is the compact shape fed to the classification prompt:
// enough signal for an LLM (or the heuristic fallback) to pick a label
// without shipping every tool_input verbatim.
type activitySummary struct {
	ToolCounts    map[string]int
	FilesRead     []string
	FilesModified []string
	FilesCreated  []string
	HasErrors     bool
	Lines         []string // "N. ToolName(file) [ok|error]", capped at 20
}

func summarizeActivities(activities []activitystore.Activity) activitySummary {
	sum := activitySummary{ToolCounts: make(map[string]int)}
	seenRead := map[string]struct{}{}
	seenModified := map[string]struct{}{}
	seenCreated := map[string]struct{}{}

	for i, a := range activities {
		sum.ToolCounts[a.ToolName]++
		if !a.Success {
			sum.HasErrors = true
		}
		switch a.ToolName {
		case "Read", "Glob", "Grep", "LS":
			if a.FilePath != "" {
				if _, ok := seenRead[a.FilePath]; !ok {
					seenRead[a.FilePath] = struct{}{}
					sum.FilesRead = append(sum.FilesRead, a.FilePath)
				}
			}
		case "Edit", "MultiEdit":
			if a.FilePath != "" {
				if _, ok := seenModified[a.FilePath]; !ok {
					seenModified[a.FilePath] = struct{}{}
					sum.FilesModified = append(sum.FilesModified, a.FilePath)
				}
			}
		case "Write":
			if a.FilePath != "" {
				if _, ok := seenCreated[a.FilePath]; !ok {
					seenCreated[a.FilePath] = struct{}{}
					sum.FilesCreated = append(sum.FilesCreated, a.FilePath)
				}
			}
		}

		if i < 20 {
			status := "ok"
			if !a.Success {
				status = "error"
			}
			label := a.ToolName
			if a.FilePath != "" {
				label = fmt.Sprintf("%s(%s)", a.ToolName, a.FilePath)
			}
			sum.Lines = append(sum.Lines, fmt.Sprintf("%d. %s [%s]", i+1, label, status))
		}
	}
	return sum
}

func (s activitySummary) totalTools() int {
	n := 0
	for _, c := range s.ToolCounts {
		n += c
	}
	return n
}

// buildClassificationPrompt renders the compact activity summary into the
// classification template.
func buildClassificationPrompt(sum activitySummary) string {
	var b strings.Builder
	b.WriteString("Classify this coding session's activity into exactly one of: exploration, debugging, implementation, refactoring.\n\n")
	fmt.Fprintf(&b, "Files read: %d\n", len(sum.FilesRead))
	fmt.Fprintf(&b, "Files modified: %d\n", len(sum.FilesModified))
	fmt.Fprintf(&b, "Files created: %d\n", len(sum.FilesCreated))
	fmt.Fprintf(&b, "Errors encountered: %v\n\n", sum.HasErrors)
	b.WriteString("Activity log:\n")
	b.WriteString(strings.Join(sum.Lines, "\n"))
	b.WriteString("\n\nRespond with exactly one label.")
	return b.String()
}

// classifySession asks the LLM to classify the session's activity, falling
// back to classifyHeuristic when the LLM is unavailable, errors, or
// returns a response containing none of the valid labels.
func classifySession(ctx context.Context, client llmclient.Client, activities []activitystore.Activity) string {
	sum := summarizeActivities(activities)

	if client != nil {
		result := llmclient.Call(ctx, client, buildClassificationPrompt(sum))
		if result.Success {
			if label, ok := extractValidLabel(result.RawResponse); ok {
				return label
			}
		}
	}
	return classifyHeuristic(sum)
}

// extractValidLabel reports whether response contains one of the valid
// classification labels as a substring, case-insensitively, returning the
// first match in a stable order so ties are deterministic.
func extractValidLabel(response string) (string, bool) {
	lower := strings.ToLower(response)
	labels := make([]string, 0, len(validClassifications))
	for l := range validClassifications {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, label := range labels {
		if strings.Contains(lower, label) {
			return label, true
		}
	}
	return "", false
}

// classifyHeuristic mirrors the original implementation's graded fallback:
// errors dominate (debugging), then file creation (implementation), then
// edit ratio (refactoring-leaning-implementation), then read ratio
// (exploration), defaulting to exploration.
func classifyHeuristic(sum activitySummary) string {
	total := sum.totalTools()
	if total == 0 {
		return "exploration"
	}

	if sum.HasErrors {
		return "debugging"
	}
	if len(sum.FilesCreated) > 0 {
		return "implementation"
	}

	editCount := sum.ToolCounts["Edit"] + sum.ToolCounts["MultiEdit"]
	if float64(editCount)/float64(total) > 0.30 {
		return "refactoring"
	}

	readCount := sum.ToolCounts["Read"] + sum.ToolCounts["Grep"] + sum.ToolCounts["Glob"]
	if float64(readCount)/float64(total) > 0.50 {
		return "exploration"
	}

	return "exploration"
}

// extractionTemplateFor picks the extraction prompt variant by
// classification. Refactoring shares the implementation template; anything
// unrecognized falls back to the generic "extraction" template.
func extractionTemplateFor(classification string) string {
	switch classification {
	case "exploration":
		return templateExploration
	case "debugging":
		return templateDebugging
	case "implementation", "refactoring":
		return templateImplementation
	default:
		return templateExtraction
	}
}
