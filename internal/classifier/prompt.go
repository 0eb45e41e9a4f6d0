// Package classifier adapts the external zero-temperature classifier into
// the evaluation pipeline.
//
// This file holds the fixed instruction template. The template never
// varies between evaluations; all variability lives in the canonical
// request payload.
package classifier

import (
	"github.com/openai/openai-go"
)

// systemPrompt is the fixed instruction template. It demands JSON-only
// output selecting exactly one rubric level per category from the given
// set, echoing the request identity and the sampling settings.
const systemPrompt = `You are a strict call-quality grader. You receive a JSON request describing
an evaluated call: rubric categories with their allowed levels (ordered worst
to best), deterministic rule results, tone flags, and a transcript summary.

Grade every category listed in the request. For each category choose exactly
one level from that category's "levels" array. Never invent categories or
levels. Deterministic rule failures in a category must lower its grade.

Respond with a single JSON object and nothing else, in this exact shape:

{"evaluation_id": "<echo the request evaluation_id>",
 "grades": {"<category name>": "<chosen level>", ...},
 "temperature": 0,
 "top_p": 0}

Include every requested category exactly once in "grades". Do not add keys,
comments, or prose.`

// buildMessages pairs the fixed template with the canonical payload.
func buildMessages(canonicalPayload string) []openai.ChatCompletionMessageParamUnion {
	return []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(canonicalPayload),
	}
}
