package search

// Result represents a single search hit with its relevance score
type Result struct {
	DocID string
	Score float64
}

// snapshot is the gob-serializable form of the index, used when the vault
// persists the index as an encrypted blob.
type snapshot struct {
	Postings  map[string]map[string][]int
	DocFreq   map[string]int
	DocTerms  map[string]int
	TotalDocs int
}
