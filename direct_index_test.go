package invertix

import (
	"errors"
	"fmt"
	"testing"
)

func alignedMemIndex(fieldCount int) *memIndex {
	idx := NewMemIndex(fieldCount)
	idx.SetIndexProperty("index.version", "2.0")
	idx.SetIndexProperty("lexicon.termids", "aligned")
	return idx
}

// TestDirectIndexBuilder_S1TwoPassTransposition is scenario S1: 3 docs, 3
// terms, token budget 4, expected to take two passes and produce the
// transposed direct postings exactly.
func TestDirectIndexBuilder_S1TwoPassTransposition(t *testing.T) {
	idx := alignedMemIndex(0)
	mustAddTerm(t, idx, "t0", []Posting{{ID: 0, TF: 2}, {ID: 2, TF: 1}})
	mustAddTerm(t, idx, "t1", []Posting{{ID: 1, TF: 3}})
	mustAddTerm(t, idx, "t2", []Posting{{ID: 0, TF: 1}, {ID: 1, TF: 1}, {ID: 2, TF: 4}})

	idx.AddDocument(3, nil)
	idx.AddDocument(4, nil)
	idx.AddDocument(5, nil)

	b := &DirectIndexBuilder{TokenBudget: 4}
	stats := CollectionStatistics{NumDocs: 3, NumTokens: 3 + 4 + 5}
	if err := b.Build(idx, idx, stats); err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := [][]Posting{
		{{ID: 0, TF: 2}, {ID: 2, TF: 1}},
		{{ID: 1, TF: 3}, {ID: 2, TF: 1}},
		{{ID: 0, TF: 1}, {ID: 2, TF: 4}},
	}
	assertDirectPostings(t, idx, want)
}

// TestDirectIndexBuilder_S2SinglePassSameResult is S2: the same inverted
// index, but with a token budget large enough for one pass. The
// transposition result must be identical to S1's.
func TestDirectIndexBuilder_S2SinglePassSameResult(t *testing.T) {
	idx := alignedMemIndex(0)
	mustAddTerm(t, idx, "t0", []Posting{{ID: 0, TF: 2}, {ID: 2, TF: 1}})
	mustAddTerm(t, idx, "t1", []Posting{{ID: 1, TF: 3}})
	mustAddTerm(t, idx, "t2", []Posting{{ID: 0, TF: 1}, {ID: 1, TF: 1}, {ID: 2, TF: 4}})

	idx.AddDocument(3, nil)
	idx.AddDocument(4, nil)
	idx.AddDocument(5, nil)

	b := &DirectIndexBuilder{TokenBudget: 100_000_000}
	stats := CollectionStatistics{NumDocs: 3, NumTokens: 12}
	if err := b.Build(idx, idx, stats); err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := [][]Posting{
		{{ID: 0, TF: 2}, {ID: 2, TF: 1}},
		{{ID: 1, TF: 3}, {ID: 2, TF: 1}},
		{{ID: 0, TF: 1}, {ID: 2, TF: 4}},
	}
	assertDirectPostings(t, idx, want)
}

// TestDirectIndexBuilder_S3EmptyDocumentSharesPointer is S3: a document with
// no postings gets the preceding document's pointer with numEntries=0.
func TestDirectIndexBuilder_S3EmptyDocumentSharesPointer(t *testing.T) {
	idx := alignedMemIndex(0)
	mustAddTerm(t, idx, "t0", []Posting{{ID: 0, TF: 1}})
	idx.AddDocument(1, nil)
	idx.AddDocument(0, nil)

	b := &DirectIndexBuilder{TokenBudget: 1000}
	stats := CollectionStatistics{NumDocs: 2, NumTokens: 1}
	if err := b.Build(idx, idx, stats); err != nil {
		t.Fatalf("Build: %v", err)
	}

	docs := idx.Documents()
	if docs[1].Pointer.ByteOffset != docs[0].Pointer.ByteOffset || docs[1].Pointer.BitOffset != docs[0].Pointer.BitOffset {
		t.Fatalf("empty doc pointer = %+v, want to match doc 0's %+v", docs[1].Pointer, docs[0].Pointer)
	}
	if docs[1].Pointer.NumEntries != 0 {
		t.Fatalf("empty doc numEntries = %d, want 0", docs[1].Pointer.NumEntries)
	}
}

// TestDirectIndexBuilder_S4FieldFrequenciesPreserved is S4: a posting with
// per-field frequencies round-trips through the direct index unchanged.
func TestDirectIndexBuilder_S4FieldFrequenciesPreserved(t *testing.T) {
	idx := alignedMemIndex(2)
	for i := 0; i < 5; i++ {
		mustAddTerm(t, idx, fmt.Sprintf("filler%d", i), nil)
	}
	mustAddTerm(t, idx, "t5", []Posting{{ID: 7, TF: 3, FieldFreqs: []uint32{2, 1}}})

	for i := 0; i < 7; i++ {
		idx.AddDocument(0, []uint32{0, 0})
	}
	idx.AddDocument(3, []uint32{2, 1})

	b := &DirectIndexBuilder{TokenBudget: 1000}
	stats := CollectionStatistics{NumDocs: 8, NumTokens: 3, FieldCount: 2}
	if err := b.Build(idx, idx, stats); err != nil {
		t.Fatalf("Build: %v", err)
	}

	entry := idx.Documents()[7]
	blob := idx.DirectOutput()
	it := NewFieldPostingIterator(NewBitReaderAt(blob, entry.Pointer.ByteOffset, entry.Pointer.BitOffset), entry.Pointer.NumEntries, 2)
	id, err := it.Next()
	if err != nil || id != 5 || it.Frequency() != 3 {
		t.Fatalf("doc 7 posting = (id=%d, tf=%d, err=%v), want (5, 3, nil)", id, it.Frequency(), err)
	}
	fields := it.FieldFrequencies()
	if len(fields) != 2 || fields[0] != 2 || fields[1] != 1 {
		t.Fatalf("FieldFrequencies() = %v, want [2 1]", fields)
	}
}

// TestDirectIndexBuilder_PreconditionViolationsAbort is S6, plus the
// other three precondition checks in §4.3, table-driven.
func TestDirectIndexBuilder_PreconditionViolationsAbort(t *testing.T) {
	tests := []struct {
		name  string
		setup func() *memIndex
	}{
		{
			name: "missing source inverted structure",
			setup: func() *memIndex {
				idx := alignedMemIndex(0)
				idx.structures["inverted"] = false
				idx.AddDocument(1, nil)
				return idx
			},
		},
		{
			name: "destination direct already exists",
			setup: func() *memIndex {
				idx := alignedMemIndex(0)
				mustAddTerm(t, idx, "t0", []Posting{{ID: 0, TF: 1}})
				idx.AddDocument(1, nil)
				idx.structures["direct"] = true
				return idx
			},
		},
		{
			name: "index version below 2.0",
			setup: func() *memIndex {
				idx := NewMemIndex(0)
				idx.SetIndexProperty("index.version", "1.5")
				idx.SetIndexProperty("lexicon.termids", "aligned")
				mustAddTerm(t, idx, "t0", []Posting{{ID: 0, TF: 1}})
				idx.AddDocument(1, nil)
				return idx
			},
		},
		{
			name: "lexicon.termids not aligned",
			setup: func() *memIndex {
				idx := NewMemIndex(0)
				idx.SetIndexProperty("index.version", "2.0")
				mustAddTerm(t, idx, "t0", []Posting{{ID: 0, TF: 1}})
				idx.AddDocument(1, nil)
				return idx
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			idx := tc.setup()
			b := &DirectIndexBuilder{TokenBudget: 1000}
			stats := CollectionStatistics{NumDocs: 1, NumTokens: 1}
			err := b.Build(idx, idx, stats)
			if !errors.Is(err, ErrPreconditionFailed) {
				t.Fatalf("Build() error = %v, want ErrPreconditionFailed", err)
			}
			if idx.HasIndexStructure("direct") && tc.name != "destination direct already exists" {
				t.Fatal("direct structure registered despite precondition failure")
			}
		})
	}
}

func mustAddTerm(t *testing.T, idx *memIndex, term string, postings []Posting) {
	t.Helper()
	if err := idx.AddTerm(term, postings); err != nil {
		t.Fatalf("AddTerm(%q): %v", term, err)
	}
}

func assertDirectPostings(t *testing.T, idx *memIndex, want [][]Posting) {
	t.Helper()
	docs := idx.Documents()
	if len(docs) != len(want) {
		t.Fatalf("got %d documents, want %d", len(docs), len(want))
	}
	blob := idx.DirectOutput()
	for i, entry := range docs {
		it := NewPostingIterator(NewBitReaderAt(blob, entry.Pointer.ByteOffset, entry.Pointer.BitOffset), entry.Pointer.NumEntries)
		for _, wantP := range want[i] {
			id, err := it.Next()
			if err != nil || id != wantP.ID || it.Frequency() != wantP.TF {
				t.Fatalf("doc %d posting = (id=%d, tf=%d, err=%v), want (id=%d, tf=%d)",
					i, id, it.Frequency(), err, wantP.ID, wantP.TF)
			}
		}
		if id, err := it.Next(); err != nil || id != EOL {
			t.Fatalf("doc %d has extra posting id=%d (err=%v), want EOL", i, id, err)
		}
	}
}
