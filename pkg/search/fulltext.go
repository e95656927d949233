package search

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strings"
	"sync"
)

// Index is an in-memory inverted full-text index over document fields.
// Term positions are kept per document so phrase queries can check
// adjacency. The index holds normalized terms only, never raw document
// content, and is persisted through the vault as an encrypted snapshot.
type Index struct {
	mu sync.RWMutex

	// postings: term -> docID -> positions
	postings map[string]map[string][]int

	// docFreq: term -> number of documents containing it
	docFreq map[string]int

	// docTerms: docID -> total term count (for existence checks and removal)
	docTerms map[string]int

	totalDocs int
}

// NewIndex creates an empty full-text index
func NewIndex() *Index {
	return &Index{
		postings: make(map[string]map[string][]int),
		docFreq:  make(map[string]int),
		docTerms: make(map[string]int),
	}
}

// Add indexes a document. The fields (title, extracted text, tags) are
// concatenated into one position space. Adding an id that is already
// indexed replaces its previous entry.
func (idx *Index) Add(docID string, fields ...string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.docTerms[docID]; exists {
		idx.removeLocked(docID)
	}

	content := strings.Join(fields, " ")
	tokens := tokenize(content)
	if len(tokens) == 0 {
		return
	}

	seenTerms := make(map[string]bool)
	for pos, token := range tokens {
		term := normalize(token)
		if term == "" {
			continue
		}

		if idx.postings[term] == nil {
			idx.postings[term] = make(map[string][]int)
		}
		idx.postings[term][docID] = append(idx.postings[term][docID], pos)

		if !seenTerms[term] {
			idx.docFreq[term]++
			seenTerms[term] = true
		}
	}

	idx.docTerms[docID] = len(tokens)
	idx.totalDocs++
}

// Remove drops a document from the index. Removing an unknown id is a no-op.
func (idx *Index) Remove(docID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(docID)
}

// removeLocked removes a document (must be called with lock held)
func (idx *Index) removeLocked(docID string) {
	if _, exists := idx.docTerms[docID]; !exists {
		return
	}

	for term := range idx.postings {
		if _, ok := idx.postings[term][docID]; ok {
			delete(idx.postings[term], docID)
			idx.docFreq[term]--
			if idx.docFreq[term] == 0 {
				delete(idx.docFreq, term)
			}
			if len(idx.postings[term]) == 0 {
				delete(idx.postings, term)
			}
		}
	}

	delete(idx.docTerms, docID)
	idx.totalDocs--
}

// Contains reports whether a document is currently indexed
func (idx *Index) Contains(docID string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.docTerms[docID]
	return ok
}

// Len returns the number of indexed documents
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.totalDocs
}

// Serialize encodes the index state for persistence. The caller is
// expected to encrypt the returned bytes before they touch disk.
func (idx *Index) Serialize() ([]byte, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var buf bytes.Buffer
	snap := snapshot{
		Postings:  idx.postings,
		DocFreq:   idx.docFreq,
		DocTerms:  idx.docTerms,
		TotalDocs: idx.totalDocs,
	}
	if err := gob.NewEncoder(&buf).Encode(&snap); err != nil {
		return nil, fmt.Errorf("failed to serialize index: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize restores an index from Serialize output
func Deserialize(data []byte) (*Index, error) {
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to deserialize index: %w", err)
	}

	idx := NewIndex()
	if snap.Postings != nil {
		idx.postings = snap.Postings
	}
	if snap.DocFreq != nil {
		idx.docFreq = snap.DocFreq
	}
	if snap.DocTerms != nil {
		idx.docTerms = snap.DocTerms
	}
	idx.totalDocs = snap.TotalDocs
	return idx, nil
}
