package invertix

// This file declares the external collaborators §6 describes: the index
// family, lexicon, posting storage, compression configuration, and document
// index builder that this package consumes but does not implement. A real
// deployment wires these to an index of its own; tests in this package wire
// them to a small in-memory reference implementation (see memindex.go).

// LexiconEntry records what the lexicon knows about one term.
type LexiconEntry struct {
	TermID  uint32
	DF      uint32
	TF      uint64
	Pointer Pointer
}

// DocumentIndexEntry records what the document index knows about one
// document: its length(s) and a pointer into whichever posting structure
// (inverted or direct) is currently being addressed.
type DocumentIndexEntry struct {
	DocLength    uint32
	FieldLengths []uint32
	Pointer      Pointer
}

// CollectionStatistics is immutable for the lifetime of a query or a build
// pass.
type CollectionStatistics struct {
	NumDocs     int64
	NumTerms    int64
	NumTokens   int64
	NumPointers int64
	FieldCount  int
	FieldNames  []string
	FieldTokens []int64
}

// InvertedPostingList is one decoded header plus its posting iterator, as
// yielded in input order by an InvertedIndexInputStream.
type InvertedPostingList struct {
	TermID      uint32
	NumPostings uint32
	Postings    IterablePosting
}

// DocumentIndexInputStream sequentially yields document index entries in
// docId order. Advancing it is destructive: the next call to Next resumes
// where the previous one left off, which is what lets
// scanDocumentIndexForTokens be called repeatedly across passes.
type DocumentIndexInputStream interface {
	// Next returns the next entry, or ok == false at end of stream.
	Next() (entry DocumentIndexEntry, ok bool, err error)
	Close() error
}

// InvertedIndexInputStream sequentially yields every term's posting list,
// in the index's scan order (the order termIds were assigned).
type InvertedIndexInputStream interface {
	Next() (list InvertedPostingList, ok bool, err error)
	Close() error
}

// Lexicon resolves term strings to entries. Only lookup by term string is
// declared here; iteration by termId is not part of this interface.
type Lexicon interface {
	GetLexiconEntry(term string) (LexiconEntry, bool, error)
}

// PostingIndex resolves a pointer to a posting iterator, for either the
// inverted or the direct structure depending on which PostingIndex a
// caller holds.
type PostingIndex interface {
	GetPostings(pointer Pointer) (IterablePosting, error)
}

// PostingOutputStream is an open, append-only destination for encoded
// posting lists; Position marks where the next AppendAll write will start.
type PostingOutputStream interface {
	// Writer exposes the underlying bit-output stream so the builder can
	// drive a postingEncoder directly.
	Writer() *BitWriter
	// Position reports the stream's current write cursor.
	Position() (byteOffset uint64, bitOffset uint8)
	Close() error
}

// CompressionConfiguration is the factory for destination posting output
// streams and for finalising index metadata, per §6.
type CompressionConfiguration interface {
	GetPostingOutputStream(path string) (PostingOutputStream, error)
	WriteIndexProperties(index Index, name string) error
	FileExtension() string
}

// DocumentIndexBuilder is an append-only builder of a new document index
// structure under a provisional name, with atomic rename on Commit.
type DocumentIndexBuilder interface {
	Append(entry DocumentIndexEntry) error
	// Commit finalises the structure, atomically renaming it to finalName.
	Commit(finalName string) error
	Close() error
}

// Index opens named structures by string key and exposes the small set of
// operations the builder and manager need from it.
type Index interface {
	HasIndexStructure(name string) bool
	GetIndexStructureInputStream(name string) (any, error)
	AddIndexStructure(name string, structure any) error
	// NewDocumentIndexBuilder opens a DocumentIndexBuilder under a
	// provisional name, for the document-index rewrite pass.
	NewDocumentIndexBuilder(provisionalName string) (DocumentIndexBuilder, error)
	Flush() error
	GetIndexProperty(key, defaultValue string) string
}

// WeightingModel is an opaque scorer consuming a posting iterator at its
// current position. Scoring mathematics are a Non-goal of this package;
// see weighting.go for the one trivial reference implementation used by
// tests.
type WeightingModel interface {
	Score(posting IterablePosting) float64
}
