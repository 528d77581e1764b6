package extraction

import "fmt"

// PromptVersion identifies the prompt set. Bump it when a prompt changes so
// stored sessions can be reprocessed against the version that produced them.
const PromptVersion = "v1"

const extractionSystem = `You follow instructions exactly. ` +
	`When the transcript holds no explicit commitment or task assigned to a person, ` +
	`reply with an empty JSON array [] and nothing else. ` +
	`Never invent tasks and never restate the discussion as tasks.`

const extractionTemplate = `You analyze meetings. List the action items in this transcript excerpt.

An action item is a clear commitment or task that someone explicitly took on.

Reply with a JSON array only, without prose or markdown fences.
Each element has this shape:
{
  "task": "starts with a verb, e.g. Send the recap email",
  "assignee": "the person's name, or null when nobody owns it",
  "deadline": "the deadline as spoken, or null when none was given",
  "context": "one sentence on why the task exists",
  "confidence": 0.0,
  "source_quote": "the exact words that show the commitment"
}

Confidence scale:
  0.9-1.0  explicit commitment ("Yes, I'll have it done by Friday")
  0.7-0.9  strong implication (a request followed by agreement)
  0.5-0.7  weak implication (vague owner, no clear acceptance)

Rules:
- Leave out anything below 0.5 confidence.
- Every item must be grounded in the transcript.
- Reply [] when there are no action items.

Transcript:
%s

JSON array:`

const analysisTemplate = `Read this meeting transcript and reply with a JSON object:

{
  "title": "short descriptive meeting title, at most 8 words",
  "summary": "two or three plain sentences on what was discussed",
  "decisions": ["decisions the group agreed on"],
  "participants": ["names of the people who spoke"],
  "topics": ["main topics, 1-5 words each"]
}

Rules:
- Reply with JSON only.
- Decisions are agreements, not tasks.
- Use an empty string or empty list when a field has no data.

Transcript:
%s

JSON:`

const digestTemplate = `These are the notes from one person's recent meetings:

%s

Write a digest as a JSON object:
{
  "summary": "two or three sentences on what this person focused on",
  "key_themes": ["2-4 themes that recur across meetings"],
  "critical_actions": ["the three most important open action items"],
  "wins": ["things that were resolved or completed"]
}

Reply with JSON only.

JSON:`

func extractionPrompt(window string) string {
	return fmt.Sprintf(extractionTemplate, window)
}

func analysisPrompt(transcript string) string {
	return fmt.Sprintf(analysisTemplate, transcript)
}

func digestPrompt(notes string) string {
	return fmt.Sprintf(digestTemplate, notes)
}
