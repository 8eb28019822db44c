package extract

import "fmt"

// Chunk validator questions. Each template carries a {key} marker that
// the validator replaces with the question's memo key, so the model is
// told exactly which JSON field to answer under.

const (
	LegalTextKey    = "legal_text"
	LegalTextPrompt = `You are a legal scholar examining an excerpt of a document. ` +
		`Determine whether the excerpt was taken from a legal text such as an ` +
		`ordinance, code, regulation, or statute, as opposed to a news article, ` +
		`meeting minutes, a staff report, or other commentary. Respond based only ` +
		`on the excerpt given. Return your answer in JSON format: {"{key}": true or false}.`

	ContainsOrdinanceKey    = "contains_ord_info"
	ContainsOrdinancePrompt = `You are a legal scholar examining an excerpt of a zoning ` +
		`ordinance. Determine whether the excerpt states siting requirements for wind ` +
		`energy systems, such as setbacks from homes, property lines, or roads, noise ` +
		`limits, or height limits. General definitions or permitting procedure alone ` +
		`do not count. Return your answer in JSON format: {"{key}": true or false}.`

	UtilityScaleKey    = "utility_scale"
	UtilityScalePrompt = `You are a legal scholar examining an excerpt of a zoning ` +
		`ordinance about wind energy systems. Determine whether the requirements in ` +
		`the excerpt apply to large, utility-scale systems. Requirements that apply ` +
		`only to small, private, or residential systems do not count; requirements ` +
		`with no stated scale count as utility-scale. Return your answer in JSON ` +
		`format: {"{key}": true or false}.`
)

// Location validator questions, parameterized on the target county.

func jurisdictionSystem(target Target) string {
	return fmt.Sprintf(`You are checking which level of government adopted a legal `+
		`document. The document is supposed to be a county-level document. Answer `+
		`false if it was adopted by a city, town, township, village, borough, state, `+
		`or federal body, or if it covers more than one county. Answer true if it is `+
		`a single county's document. Ignore whether the county is %s; only the level `+
		`of government matters. Return your answer in JSON format: `+
		`{"correct_jurisdiction": true or false}.`, target.FullName)
}

func countyNameSystem(target Target) string {
	return fmt.Sprintf(`You are checking which jurisdiction a legal document belongs `+
		`to. Determine whether the text was written for %s. A passing mention of `+
		`another place does not disqualify it; what matters is which county adopted `+
		`the document. Return your answer in JSON format: {"correct_county": true or `+
		`false}.`, target.FullName)
}

func urlSystem(target Target) string {
	return fmt.Sprintf(`You are checking whether a URL points at a document for %s, `+
		`%s. Look for the county name, its abbreviations, or its state in the URL `+
		`text. Return your answer in JSON format: {"url_is_county": true or false}.`,
		target.County, target.State)
}

// dateSystem asks for the adoption or effective date stated on a page.
const dateSystem = `You are reading a page of a legal document. State the most ` +
	`recent date the document says it was adopted, amended, or made effective. Use ` +
	`null for parts of the date the page does not state. Do not infer a date that ` +
	`is not written on the page. Return your answer in JSON format: ` +
	`{"year": integer or null, "month": integer or null, "day": integer or null}.`

// cleanTextSystem drives the second extraction pass that reduces the
// collected ordinance chunks to the bare legal provisions.
const cleanTextSystem = `You extract legal text from documents. The text you are ` +
	`given was scraped from a zoning document and may contain page numbers, ` +
	`headings, and unrelated provisions. Return, word for word, only the portions ` +
	`that state requirements for large wind energy systems: setbacks, noise ` +
	`limits, height limits, shadow flicker, density, and similar siting rules. ` +
	`Do not paraphrase, summarize, or add anything. If none of the text qualifies, ` +
	`return nothing.`

// parserSystem anchors a structured-parser conversation on one
// location's ordinance text. Every tree turn for a feature shares it.
func parserSystem(target Target, text string) string {
	return fmt.Sprintf(`You are an expert on zoning ordinances for large wind `+
		`energy conversion systems. Answer questions about the ordinance for %s `+
		`using only the legal text below. Do not use knowledge about other `+
		`jurisdictions and do not guess values the text does not state.`+
		"\n\nOrdinance text:\n\"\"\"\n%s\n\"\"\"", target.FullName, text)
}
