package processor

// Extraction prompt templates, one per session classification. Each asks
// for a JSON array of observations so extract.go can parse the response
// without a schema negotiation round-trip.
const extractionJSONContract = `Respond with a JSON array only, no prose. Each element:
{"observation": "<what was learned>", "type": "gotcha|bug_fix|decision|discovery", "importance": "low|medium|high|critical", "context": "<file path or empty>"}
Return [] if nothing is worth remembering.`

const templateExploration = `You are reviewing an exploration session (reading and searching code, no edits).
Extract any durable facts worth remembering for future sessions: architectural findings, gotchas, surprising behavior.
` + extractionJSONContract

const templateDebugging = `You are reviewing a debugging session (errors were encountered and investigated).
Extract root causes found, fixes applied, and any gotchas that would help avoid this bug in the future.
` + extractionJSONContract

const templateImplementation = `You are reviewing an implementation session (new code or files were created/modified).
Extract design decisions made, trade-offs chosen, and non-obvious constraints discovered while implementing.
` + extractionJSONContract

const templateExtraction = `You are reviewing a coding session.
Extract any durable facts worth remembering for future sessions.
` + extractionJSONContract

const templateSessionSummary = `Summarize what was accomplished in this coding session in 2-4 sentences.
Session duration: {{session_duration}} minutes
Prompt batches: {{prompt_batch_count}}
Files read: {{files_read_count}}
Files modified: {{files_modified_count}}
Files created: {{files_created_count}}
Tool calls: {{tool_calls}}

Prompts in this session:
{{prompt_batches}}

Respond with the summary only, no preamble.`

const templateSessionTitle = `Generate a short, descriptive title (5-10 words) for this coding session based on its prompts.

Prompts:
{{prompt_batches}}

Respond with the title only, no quotes, no preamble.`
