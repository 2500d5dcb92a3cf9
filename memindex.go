package invertix

import (
	"fmt"
	"log/slog"
	"sync"
)

// memIndex is a small in-memory implementation of Index, Lexicon,
// PostingIndex, DocumentIndexBuilder's factory, and CompressionConfiguration,
// built around the same Posting/Pointer primitives the core uses. It exists
// so the direct-index builder and the posting-list manager can be exercised
// end-to-end — real codec, real iterators — without a filesystem-backed
// index implementation.
//
// It plays the role the teacher repo's own InvertedIndex container played
// (a mutex-guarded bookkeeping struct with a single entry point for adding
// documents, backed by a Roaring Bitmap for fast set membership), adapted to
// this package's termId/docId posting model instead of word positions.
type memIndex struct {
	mu sync.Mutex

	fieldCount int

	lexicon         map[string]LexiconEntry
	invertedEntries []invertedEntryMeta
	invertedBlob    []byte

	documentEntries []DocumentIndexEntry

	structures map[string]bool
	properties map[string]string
	outputs    map[string]*memPostingOutputStream
}

type invertedEntryMeta struct {
	TermID  uint32
	Pointer Pointer
}

// NewMemIndex returns an empty fixture for a collection with fieldCount
// per-document fields (0 for no field tracking).
func NewMemIndex(fieldCount int) *memIndex {
	return &memIndex{
		fieldCount: fieldCount,
		lexicon:    make(map[string]LexiconEntry),
		structures: map[string]bool{"inverted": true},
		properties: make(map[string]string),
		outputs:    make(map[string]*memPostingOutputStream),
	}
}

// AddTerm registers one inverted posting list, in scan order. termIds are
// assigned densely and ascending by call order, satisfying the
// lexicon.termids = aligned precondition the builder checks for.
func (idx *memIndex) AddTerm(term string, postings []Posting) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	termID := uint32(len(idx.invertedEntries))
	byteOff := uint64(len(idx.invertedBlob))

	w := NewBitWriter()
	enc := newPostingEncoder(w, idx.fieldCount)
	var tfSum uint64
	for i, p := range postings {
		if err := enc.Append(p.ID, p.TF, p.FieldFreqs, i == 0); err != nil {
			return fmt.Errorf("memIndex.AddTerm %q: %w", term, err)
		}
		tfSum += uint64(p.TF)
	}
	idx.invertedBlob = append(idx.invertedBlob, w.Bytes()...)

	pointer := Pointer{ByteOffset: byteOff, BitOffset: 0, NumEntries: uint32(len(postings))}
	idx.invertedEntries = append(idx.invertedEntries, invertedEntryMeta{TermID: termID, Pointer: pointer})
	idx.lexicon[term] = LexiconEntry{
		TermID:  termID,
		DF:      uint32(len(postings)),
		TF:      tfSum,
		Pointer: pointer,
	}

	slog.Info("registered term", "term", term, "termID", termID, "df", len(postings))
	return nil
}

// AddDocument appends one document-index entry. Its Pointer starts as the
// zero value; a direct-index build rewrites it.
func (idx *memIndex) AddDocument(docLength uint32, fieldLengths []uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.documentEntries = append(idx.documentEntries, DocumentIndexEntry{
		DocLength:    docLength,
		FieldLengths: fieldLengths,
	})
}

// Documents returns a snapshot of the current document-index entries, for
// assertions after a build.
func (idx *memIndex) Documents() []DocumentIndexEntry {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make([]DocumentIndexEntry, len(idx.documentEntries))
	copy(out, idx.documentEntries)
	return out
}

// DirectOutput returns the bytes written to the "direct" output stream, for
// assertions that decode a document's postings directly rather than going
// back through the Index interface.
func (idx *memIndex) DirectOutput() []byte {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if s, ok := idx.outputs["direct"+memIndexExtension]; ok {
		return s.w.Bytes()
	}
	return nil
}

const memIndexExtension = ".bin"

// --- Index ---

func (idx *memIndex) HasIndexStructure(name string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.structures[name]
}

func (idx *memIndex) GetIndexStructureInputStream(name string) (any, error) {
	switch name {
	case "document":
		return &memDocumentIndexStream{entries: idx.Documents()}, nil
	case "inverted":
		idx.mu.Lock()
		entries := make([]invertedEntryMeta, len(idx.invertedEntries))
		copy(entries, idx.invertedEntries)
		blob := idx.invertedBlob
		fieldCount := idx.fieldCount
		idx.mu.Unlock()
		return &memInvertedIndexStream{entries: entries, blob: blob, fieldCount: fieldCount}, nil
	default:
		return nil, fmt.Errorf("memIndex: unknown structure %q", name)
	}
}

func (idx *memIndex) AddIndexStructure(name string, structure any) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.structures[name] = true
	if s, ok := structure.(*memPostingOutputStream); ok {
		idx.outputs[name+memIndexExtension] = s
	}
	return nil
}

func (idx *memIndex) NewDocumentIndexBuilder(provisionalName string) (DocumentIndexBuilder, error) {
	return &memDocumentIndexBuilder{index: idx, provisionalName: provisionalName}, nil
}

func (idx *memIndex) Flush() error { return nil }

func (idx *memIndex) GetIndexProperty(key, defaultValue string) string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if v, ok := idx.properties[key]; ok {
		return v
	}
	return defaultValue
}

// SetIndexProperty lets tests configure inverted2direct.processtokens,
// index.version, and lexicon.termids without a real config file.
func (idx *memIndex) SetIndexProperty(key, value string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.properties[key] = value
}

// --- Lexicon ---

func (idx *memIndex) GetLexiconEntry(term string) (LexiconEntry, bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	entry, ok := idx.lexicon[term]
	return entry, ok, nil
}

// --- PostingIndex (resolves pointers into the inverted blob) ---

func (idx *memIndex) GetPostings(pointer Pointer) (IterablePosting, error) {
	idx.mu.Lock()
	blob := idx.invertedBlob
	fieldCount := idx.fieldCount
	idx.mu.Unlock()
	r := NewBitReaderAt(blob, pointer.ByteOffset, pointer.BitOffset)
	if fieldCount > 0 {
		return NewFieldPostingIterator(r, pointer.NumEntries, fieldCount), nil
	}
	return NewPostingIterator(r, pointer.NumEntries), nil
}

// --- CompressionConfiguration ---

func (idx *memIndex) GetPostingOutputStream(path string) (PostingOutputStream, error) {
	s := &memPostingOutputStream{w: NewBitWriter()}
	idx.mu.Lock()
	idx.outputs[path] = s
	idx.mu.Unlock()
	return s, nil
}

func (idx *memIndex) WriteIndexProperties(index Index, name string) error {
	mi, ok := index.(*memIndex)
	if !ok {
		return fmt.Errorf("memIndex.WriteIndexProperties: unexpected index type %T", index)
	}
	mi.SetIndexProperty(name+".fieldcount", fmt.Sprintf("%d", mi.fieldCount))
	return nil
}

func (idx *memIndex) FileExtension() string { return memIndexExtension }

// memPostingOutputStream is the in-memory PostingOutputStream a memIndex
// hands out.
type memPostingOutputStream struct {
	w *BitWriter
}

func (s *memPostingOutputStream) Writer() *BitWriter { return s.w }

func (s *memPostingOutputStream) Position() (uint64, uint8) { return s.w.Position() }

func (s *memPostingOutputStream) Close() error { return nil }

// memDocumentIndexStream is a one-shot forward iterator over a snapshot of
// document entries.
type memDocumentIndexStream struct {
	entries []DocumentIndexEntry
	pos     int
}

func (s *memDocumentIndexStream) Next() (DocumentIndexEntry, bool, error) {
	if s.pos >= len(s.entries) {
		return DocumentIndexEntry{}, false, nil
	}
	e := s.entries[s.pos]
	s.pos++
	return e, true, nil
}

func (s *memDocumentIndexStream) Close() error { return nil }

// memInvertedIndexStream is a one-shot forward iterator over a snapshot of
// inverted posting lists, decoding each list's iterator lazily from the
// shared blob.
type memInvertedIndexStream struct {
	entries    []invertedEntryMeta
	blob       []byte
	fieldCount int
	pos        int
}

func (s *memInvertedIndexStream) Next() (InvertedPostingList, bool, error) {
	if s.pos >= len(s.entries) {
		return InvertedPostingList{}, false, nil
	}
	e := s.entries[s.pos]
	s.pos++
	r := NewBitReaderAt(s.blob, e.Pointer.ByteOffset, e.Pointer.BitOffset)
	var postings IterablePosting
	if s.fieldCount > 0 {
		postings = NewFieldPostingIterator(r, e.Pointer.NumEntries, s.fieldCount)
	} else {
		postings = NewPostingIterator(r, e.Pointer.NumEntries)
	}
	return InvertedPostingList{TermID: e.TermID, NumPostings: e.Pointer.NumEntries, Postings: postings}, true, nil
}

func (s *memInvertedIndexStream) Close() error { return nil }

// memDocumentIndexBuilder accumulates entries under a provisional name and
// commits them to the memIndex's live document entries on Commit.
type memDocumentIndexBuilder struct {
	index           *memIndex
	provisionalName string
	entries         []DocumentIndexEntry
	committed       bool
}

func (b *memDocumentIndexBuilder) Append(entry DocumentIndexEntry) error {
	b.entries = append(b.entries, entry)
	return nil
}

func (b *memDocumentIndexBuilder) Commit(finalName string) error {
	b.index.mu.Lock()
	defer b.index.mu.Unlock()
	if finalName == "document" {
		b.index.documentEntries = b.entries
	}
	b.committed = true
	return nil
}

func (b *memDocumentIndexBuilder) Close() error { return nil }
