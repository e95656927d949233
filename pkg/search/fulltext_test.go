package search

import (
	"testing"
)

func newTestIndex() *Index {
	idx := NewIndex()
	idx.Add("doc1", "Invoice A", "payment for fresh mangoes and papayas", "fruit,invoice")
	idx.Add("doc2", "Tax Return 2025", "annual tax return draft", "tax")
	idx.Add("doc3", "Receipt", "mangoes bought at the market", "fruit")
	idx.Add("doc4", "Warranty", "washing machine warranty card", "appliance")
	return idx
}

func docIDs(results []Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.DocID
	}
	return ids
}

func containsDoc(results []Result, id string) bool {
	for _, r := range results {
		if r.DocID == id {
			return true
		}
	}
	return false
}

func TestSearchSingleTerm(t *testing.T) {
	idx := newTestIndex()

	results := idx.Search("mangoes")
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d: %v", len(results), docIDs(results))
	}
	if !containsDoc(results, "doc1") || !containsDoc(results, "doc3") {
		t.Errorf("unexpected results: %v", docIDs(results))
	}
}

func TestSearchImplicitAND(t *testing.T) {
	idx := newTestIndex()

	results := idx.Search("mangoes market")
	if len(results) != 1 || results[0].DocID != "doc3" {
		t.Errorf("expected only doc3, got %v", docIDs(results))
	}
}

func TestSearchBooleanOperators(t *testing.T) {
	idx := newTestIndex()

	tests := []struct {
		query string
		want  []string
	}{
		{"mangoes AND papayas", []string{"doc1"}},
		{"tax OR warranty", []string{"doc2", "doc4"}},
		{"mangoes NOT market", []string{"doc1"}},
		{"fruit OR tax NOT draft", []string{"doc1", "doc3"}},
	}

	for _, tt := range tests {
		results := idx.Search(tt.query)
		if len(results) != len(tt.want) {
			t.Errorf("query %q: expected %v, got %v", tt.query, tt.want, docIDs(results))
			continue
		}
		for _, id := range tt.want {
			if !containsDoc(results, id) {
				t.Errorf("query %q: missing %s in %v", tt.query, id, docIDs(results))
			}
		}
	}
}

func TestSearchPhrase(t *testing.T) {
	idx := newTestIndex()

	results := idx.Search(`"fresh mangoes"`)
	if len(results) != 1 || results[0].DocID != "doc1" {
		t.Errorf("expected only doc1 for phrase, got %v", docIDs(results))
	}

	// The words appear in doc3 but not adjacently
	results = idx.Search(`"mangoes market"`)
	if len(results) != 0 {
		t.Errorf("non-adjacent words matched as phrase: %v", docIDs(results))
	}
}

func TestSearchPrefixWildcard(t *testing.T) {
	idx := newTestIndex()

	results := idx.Search("mang*")
	if len(results) != 2 {
		t.Errorf("expected 2 prefix matches, got %v", docIDs(results))
	}

	results = idx.Search("warr*")
	if len(results) != 1 || results[0].DocID != "doc4" {
		t.Errorf("expected doc4 for warr*, got %v", docIDs(results))
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	idx := newTestIndex()

	if results := idx.Search(""); len(results) != 0 {
		t.Errorf("empty query returned %v", docIDs(results))
	}
	if results := idx.Search("   "); len(results) != 0 {
		t.Errorf("blank query returned %v", docIDs(results))
	}
}

func TestSearchPaginationStable(t *testing.T) {
	idx := NewIndex()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		idx.Add(id, "shared term content")
	}

	// With identical scores, ordering falls back to id: pages must not
	// overlap and concatenate to the full ranked list.
	all := idx.SearchPage("shared", 0, 0)
	if len(all) != 5 {
		t.Fatalf("expected 5 results, got %d", len(all))
	}

	page1 := idx.SearchPage("shared", 2, 0)
	page2 := idx.SearchPage("shared", 2, 2)
	page3 := idx.SearchPage("shared", 2, 4)

	got := append(append(append([]Result{}, page1...), page2...), page3...)
	if len(got) != 5 {
		t.Fatalf("pages do not cover result set: %d", len(got))
	}
	for i := range got {
		if got[i].DocID != all[i].DocID {
			t.Errorf("pagination unstable at %d: %s != %s", i, got[i].DocID, all[i].DocID)
		}
	}

	// Out-of-range offset yields an empty page
	if page := idx.SearchPage("shared", 2, 10); len(page) != 0 {
		t.Errorf("expected empty page, got %v", docIDs(page))
	}
}

func TestRankingPrefersHigherTermFrequency(t *testing.T) {
	idx := NewIndex()
	idx.Add("sparse", "mangoes once")
	idx.Add("dense", "mangoes mangoes mangoes everywhere")

	results := idx.Search("mangoes")
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].DocID != "dense" {
		t.Errorf("expected dense document ranked first, got %v", docIDs(results))
	}
}

func TestRemoveAndReplace(t *testing.T) {
	idx := newTestIndex()

	idx.Remove("doc3")
	if idx.Contains("doc3") {
		t.Error("doc3 still indexed after Remove")
	}
	if results := idx.Search("market"); len(results) != 0 {
		t.Errorf("removed document still matches: %v", docIDs(results))
	}
	if idx.Len() != 3 {
		t.Errorf("expected 3 documents, got %d", idx.Len())
	}

	// Re-adding an id replaces the old content
	idx.Add("doc1", "Completely new title", "about oranges now", "")
	if results := idx.Search("mangoes"); containsDoc(results, "doc1") {
		t.Error("stale terms survived replacement")
	}
	if results := idx.Search("oranges"); !containsDoc(results, "doc1") {
		t.Error("replacement content not indexed")
	}
	if idx.Len() != 3 {
		t.Errorf("replacement changed document count: %d", idx.Len())
	}

	// Removing an unknown id is a no-op
	idx.Remove("nope")
	if idx.Len() != 3 {
		t.Errorf("removing unknown id changed count: %d", idx.Len())
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	idx := newTestIndex()

	data, err := idx.Serialize()
	if err != nil {
		t.Fatalf("serialize failed: %v", err)
	}

	restored, err := Deserialize(data)
	if err != nil {
		t.Fatalf("deserialize failed: %v", err)
	}

	if restored.Len() != idx.Len() {
		t.Fatalf("document count mismatch: %d != %d", restored.Len(), idx.Len())
	}

	for _, query := range []string{"mangoes", `"fresh mangoes"`, "tax OR warranty", "mang*"} {
		want := docIDs(idx.Search(query))
		got := docIDs(restored.Search(query))
		if len(want) != len(got) {
			t.Errorf("query %q: %v != %v", query, got, want)
			continue
		}
		for i := range want {
			if want[i] != got[i] {
				t.Errorf("query %q: %v != %v", query, got, want)
				break
			}
		}
	}
}

func TestDeserializeCorrupt(t *testing.T) {
	if _, err := Deserialize([]byte("not a gob stream")); err == nil {
		t.Error("expected error for corrupt snapshot")
	}
}
