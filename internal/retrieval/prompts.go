package retrieval

import (
	"fmt"
	"strings"
)

func confidencePrompt(query string) string {
	return fmt.Sprintf(`Can you answer the following question accurately and completely from your own knowledge, without looking anything up?
Reply with exactly one word: yes or no.

Question: %s`, query)
}

func rewritePrompt(query string) string {
	return fmt.Sprintf(`Rewrite the question below as a short web search query.
Keep names, jurisdictions, statutes and dates. Output only the query, nothing else.

Question: %s`, query)
}

// GroundedPrompt builds the synthesis prompt for query over snippets. With
// no snippets the model is told the search came back empty and that its
// answer may be unverified.
func GroundedPrompt(query string, snippets []Snippet) string {
	var sb strings.Builder
	if len(snippets) == 0 {
		sb.WriteString("A web search for this question returned no usable results.\n")
		sb.WriteString("Answer from your own knowledge, and tell the user plainly that the answer could not be verified against current sources.\n\n")
		fmt.Fprintf(&sb, "Question: %s", query)
		return sb.String()
	}

	sb.WriteString("Answer the question using the search results below.\n")
	sb.WriteString("Write a single coherent answer in your own words. Do not list or quote the results one by one. ")
	sb.WriteString("Where a statement relies on a result, mention its source title. ")
	sb.WriteString("If the results do not settle the question, say so.\n\n")
	sb.WriteString("Search results:\n")
	for i, s := range snippets {
		fmt.Fprintf(&sb, "%d. %s (%s)\n   %s\n", i+1, s.Title, s.URL, s.Text)
	}
	fmt.Fprintf(&sb, "\nQuestion: %s", query)
	return sb.String()
}
