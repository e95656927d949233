package search

import "strings"

// queryUnit is one evaluatable element of a parsed query
type queryUnit struct {
	// op is the combinator applied against the running result set:
	// "AND", "OR", or "NOT". The first unit's op is ignored.
	op string

	// phrase terms, in order, when the unit was a quoted string
	phrase []string

	// term for single-word units; prefix is set when it ended with '*'
	term   string
	prefix bool
}

// parseQuery splits a query into units: quoted phrases, boolean operators,
// and bare terms (optionally with a trailing wildcard). Adjacent units with
// no explicit operator combine with AND.
func parseQuery(query string) []queryUnit {
	var units []queryUnit
	nextOp := "AND"

	rest := strings.TrimSpace(query)
	for rest != "" {
		if rest[0] == '"' {
			// Quoted phrase
			end := strings.IndexByte(rest[1:], '"')
			var body string
			if end < 0 {
				body = rest[1:]
				rest = ""
			} else {
				body = rest[1 : 1+end]
				rest = strings.TrimSpace(rest[2+end:])
			}
			terms := normalizeAll(tokenize(body))
			if len(terms) > 0 {
				units = append(units, queryUnit{op: nextOp, phrase: terms})
				nextOp = "AND"
			}
			continue
		}

		// Next whitespace-delimited word
		word := rest
		if i := strings.IndexAny(rest, " \t"); i >= 0 {
			word = rest[:i]
			rest = strings.TrimSpace(rest[i:])
		} else {
			rest = ""
		}

		switch strings.ToUpper(word) {
		case "AND", "OR", "NOT":
			nextOp = strings.ToUpper(word)
			continue
		}

		prefix := strings.HasSuffix(word, "*")
		term := normalize(strings.TrimSuffix(word, "*"))
		if term == "" {
			continue
		}
		units = append(units, queryUnit{op: nextOp, term: term, prefix: prefix})
		nextOp = "AND"
	}

	return units
}

// tokenize splits text into lowercase alphanumeric tokens
func tokenize(text string) []string {
	text = strings.ToLower(text)
	return strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
}

// normalize normalizes a term for indexing
func normalize(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}

func normalizeAll(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if t := normalize(tok); t != "" {
			out = append(out, t)
		}
	}
	return out
}
