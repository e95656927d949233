package search

import (
	"math"
	"sort"
	"strings"
)

// Search evaluates a query and returns ranked results. The query language
// supports boolean AND/OR/NOT combinators (left to right, bare adjacency
// means AND), quoted phrases, and trailing-asterisk prefix wildcards:
//
//	invoice AND "tax return" OR receipt* NOT draft
//
// Results are ordered by TF-IDF relevance, ties broken by document id so
// that limit/offset pagination is stable while the index is unchanged.
func (idx *Index) Search(query string) []Result {
	units := parseQuery(query)
	if len(units) == 0 {
		return []Result{}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var matched map[string]bool
	for i, unit := range units {
		unitDocs := idx.matchUnit(unit)

		if i == 0 {
			// A leading NOT means "everything except"
			if unit.op == "NOT" {
				matched = make(map[string]bool)
				for docID := range idx.docTerms {
					if !unitDocs[docID] {
						matched[docID] = true
					}
				}
			} else {
				matched = unitDocs
			}
			continue
		}

		switch unit.op {
		case "OR":
			for docID := range unitDocs {
				matched[docID] = true
			}
		case "NOT":
			for docID := range unitDocs {
				delete(matched, docID)
			}
		default: // AND
			next := make(map[string]bool)
			for docID := range matched {
				if unitDocs[docID] {
					next[docID] = true
				}
			}
			matched = next
		}
	}

	return idx.scoreResults(matched, scoringTerms(units))
}

// SearchPage evaluates a query and applies limit/offset pagination over the
// ranked result list. A non-positive limit returns the full tail.
func (idx *Index) SearchPage(query string, limit, offset int) []Result {
	results := idx.Search(query)

	if offset < 0 {
		offset = 0
	}
	if offset >= len(results) {
		return []Result{}
	}
	results = results[offset:]

	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results
}

// matchUnit resolves one query unit to a document set (lock held)
func (idx *Index) matchUnit(unit queryUnit) map[string]bool {
	docs := make(map[string]bool)

	switch {
	case len(unit.phrase) > 0:
		// Candidates contain the first term; verify adjacency per candidate
		for docID := range idx.postings[unit.phrase[0]] {
			if idx.containsPhrase(docID, unit.phrase) {
				docs[docID] = true
			}
		}

	case unit.prefix:
		for term, postings := range idx.postings {
			if strings.HasPrefix(term, unit.term) {
				for docID := range postings {
					docs[docID] = true
				}
			}
		}

	default:
		for docID := range idx.postings[unit.term] {
			docs[docID] = true
		}
	}

	return docs
}

// containsPhrase checks if a document contains the terms at consecutive
// positions (lock held)
func (idx *Index) containsPhrase(docID string, terms []string) bool {
	if len(terms) == 0 {
		return false
	}

	for _, pos := range idx.postings[terms[0]][docID] {
		match := true
		for i := 1; i < len(terms); i++ {
			found := false
			for _, p := range idx.postings[terms[i]][docID] {
				if p == pos+i {
					found = true
					break
				}
			}
			if !found {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}

	return false
}

// scoringTerms collects the positive terms of a query for ranking;
// negated units contribute nothing to relevance.
func scoringTerms(units []queryUnit) []string {
	var terms []string
	for _, unit := range units {
		if unit.op == "NOT" {
			continue
		}
		if len(unit.phrase) > 0 {
			terms = append(terms, unit.phrase...)
		} else if !unit.prefix {
			terms = append(terms, unit.term)
		}
	}
	return terms
}

// scoreResults calculates TF-IDF scores and returns sorted results (lock held)
func (idx *Index) scoreResults(docIDs map[string]bool, terms []string) []Result {
	results := make([]Result, 0, len(docIDs))

	for docID := range docIDs {
		results = append(results, Result{
			DocID: docID,
			Score: idx.calculateScore(docID, terms),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})

	return results
}

// calculateScore calculates the TF-IDF score for a document (lock held)
func (idx *Index) calculateScore(docID string, terms []string) float64 {
	score := 0.0

	for _, term := range terms {
		tf := float64(len(idx.postings[term][docID]))

		df := float64(idx.docFreq[term])
		idf := 1.0
		if df > 0 && idx.totalDocs > 0 {
			// +1 keeps terms present in every document from zeroing out
			idf = math.Log(float64(idx.totalDocs+1) / (df + 1))
		}

		score += tf * (1.0 + idf)
	}

	return score
}
