// Package ordex extracts structured regulatory values from county
// zoning ordinances discovered on the public web.
//
// The pipeline searches for each county's ordinance, downloads the
// candidate documents, votes on whether each one really belongs to the
// target jurisdiction, scans the best match chunk by chunk for wind
// energy provisions, and walks decision-tree LLM conversations to turn
// the surviving legal text into a table of regulated values (setbacks,
// sound limits, height caps and the like).
//
// The packages under pkg/ compose in layers:
//
//   - pkg/roster lists the counties to process.
//   - pkg/search and pkg/loader discover and fetch candidate documents.
//   - pkg/document, pkg/chunk and pkg/extract model, split and judge
//     the text.
//   - pkg/llm, pkg/tree and pkg/services mediate the LLM conversations
//     behind a rate-limited, queue-fair service runtime.
//   - pkg/pipeline ties one county's run together and fans out across
//     the roster; cmd/ordex is the command-line entry point.
//
// Most programs should go through cmd/ordex. Library users can drive
// pipeline.Orchestrator directly with a config.Config.
package ordex
