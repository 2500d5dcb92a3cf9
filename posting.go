package invertix

import "fmt"

// EOL is the sentinel id returned by an exhausted posting iterator. It is
// returned with a nil error: ordinary exhaustion is not a fault.
const EOL uint32 = ^uint32(0)

// Posting is one occurrence record: an id (a docId in an inverted list, or
// a termId in a direct list), a frequency, and optional per-field
// frequencies.
type Posting struct {
	ID         uint32
	TF         uint32
	FieldFreqs []uint32
}

// IterablePosting is a lazy forward-only cursor over a decoded posting
// list. Implementations are the basic (no fields) and field-aware variants,
// and the merged (OR) iterator that composes several of either kind.
type IterablePosting interface {
	// Next advances one posting, returning EOL when exhausted.
	Next() (uint32, error)
	// NextFrom advances to the first posting with id >= target, returning
	// EOL if none exists.
	NextFrom(target uint32) (uint32, error)
	// ID returns the id at the current position. Only valid after a
	// successful Next/NextFrom that did not return EOL.
	ID() uint32
	// Frequency returns the frequency at the current position.
	Frequency() uint32
	// FieldFrequencies returns the per-field frequencies at the current
	// position, or nil if the list carries no field data.
	FieldFrequencies() []uint32
	Close() error
}

// postingEncoder writes a posting list in the format this package reads
// back: the first posting's id as an absolute gamma code, every subsequent
// id as a gap from its predecessor, then the (bias +1) term frequency and,
// if tracked, the (bias +1) per-field frequencies.
type postingEncoder struct {
	w          *BitWriter
	fieldCount int
	started    bool
	lastID     uint32
	count      uint32
	tfSum      uint64
	fieldSums  []uint64
}

func newPostingEncoder(w *BitWriter, fieldCount int) *postingEncoder {
	var fieldSums []uint64
	if fieldCount > 0 {
		fieldSums = make([]uint64, fieldCount)
	}
	return &postingEncoder{w: w, fieldCount: fieldCount, fieldSums: fieldSums}
}

// Append writes one posting. first controls whether id is written as an
// absolute value (the document/term's first recorded posting) or as a gap
// from the previous id written through this encoder.
func (e *postingEncoder) Append(id uint32, tf uint32, fieldFreqs []uint32, first bool) error {
	if e.fieldCount > 0 && len(fieldFreqs) != e.fieldCount {
		return fmt.Errorf("postingEncoder.Append: expected %d field frequencies, got %d", e.fieldCount, len(fieldFreqs))
	}
	if first || !e.started {
		if err := e.w.WriteGamma(gammaBias(id)); err != nil {
			return err
		}
	} else {
		if id <= e.lastID {
			return fmt.Errorf("postingEncoder.Append: ids must be strictly ascending, got %d after %d", id, e.lastID)
		}
		if err := e.w.WriteGamma(uint64(id - e.lastID)); err != nil {
			return err
		}
	}
	if err := e.w.WriteGamma(gammaBias(tf)); err != nil {
		return err
	}
	for i, f := range fieldFreqs {
		if err := e.w.WriteGamma(gammaBias(f)); err != nil {
			return err
		}
		e.fieldSums[i] += uint64(f)
	}
	e.lastID = id
	e.started = true
	e.count++
	e.tfSum += uint64(tf)
	return nil
}

// AppendAll re-encodes every posting produced by src (already decoded from
// some other buffer) into this encoder, preserving ascending order. This is
// how the direct-index builder moves a document's postings from its
// in-memory scratch buffer into the final output stream.
func (e *postingEncoder) AppendAll(src IterablePosting) (uint32, error) {
	var n uint32
	id, err := src.Next()
	if err != nil {
		return 0, err
	}
	for id != EOL {
		if err := e.Append(id, src.Frequency(), src.FieldFrequencies(), n == 0); err != nil {
			return n, err
		}
		n++
		id, err = src.Next()
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// basicPostingIterator decodes a posting list with no per-field frequencies.
type basicPostingIterator struct {
	r         *BitReader
	remaining uint32
	started   bool
	curID     uint32
	curTF     uint32
	closed    bool
}

// NewPostingIterator returns an IterablePosting over r, which must contain
// exactly numPostings gap-encoded postings with no field frequencies.
func NewPostingIterator(r *BitReader, numPostings uint32) IterablePosting {
	return &basicPostingIterator{r: r, remaining: numPostings}
}

func (it *basicPostingIterator) Next() (uint32, error) {
	if it.closed || it.remaining == 0 {
		it.curID = EOL
		return EOL, nil
	}
	v, err := it.r.ReadGamma()
	if err != nil {
		return 0, err
	}
	if !it.started {
		it.curID = unbiasGamma(v)
		it.started = true
	} else {
		it.curID += uint32(v)
	}
	tf, err := it.r.ReadGamma()
	if err != nil {
		return 0, err
	}
	it.curTF = unbiasGamma(tf)
	it.remaining--
	return it.curID, nil
}

func (it *basicPostingIterator) NextFrom(target uint32) (uint32, error) {
	for {
		if it.started && it.curID >= target {
			return it.curID, nil
		}
		id, err := it.Next()
		if err != nil {
			return 0, err
		}
		if id == EOL {
			return EOL, nil
		}
		if id >= target {
			return id, nil
		}
	}
}

func (it *basicPostingIterator) ID() uint32                 { return it.curID }
func (it *basicPostingIterator) Frequency() uint32           { return it.curTF }
func (it *basicPostingIterator) FieldFrequencies() []uint32 { return nil }
func (it *basicPostingIterator) Close() error                { it.closed = true; return nil }

// fieldPostingIterator decodes a posting list that additionally carries
// fieldCount per-field frequencies after each posting's tf.
type fieldPostingIterator struct {
	r          *BitReader
	remaining  uint32
	started    bool
	fieldCount int
	curID      uint32
	curTF      uint32
	curFields  []uint32
	closed     bool
}

// NewFieldPostingIterator returns an IterablePosting over r, which must
// contain exactly numPostings gap-encoded postings each followed by
// fieldCount field frequencies.
func NewFieldPostingIterator(r *BitReader, numPostings uint32, fieldCount int) IterablePosting {
	return &fieldPostingIterator{r: r, remaining: numPostings, fieldCount: fieldCount}
}

func (it *fieldPostingIterator) Next() (uint32, error) {
	if it.closed || it.remaining == 0 {
		it.curID = EOL
		return EOL, nil
	}
	v, err := it.r.ReadGamma()
	if err != nil {
		return 0, err
	}
	if !it.started {
		it.curID = unbiasGamma(v)
		it.started = true
	} else {
		it.curID += uint32(v)
	}
	tf, err := it.r.ReadGamma()
	if err != nil {
		return 0, err
	}
	it.curTF = unbiasGamma(tf)
	fields := make([]uint32, it.fieldCount)
	for i := range fields {
		f, err := it.r.ReadGamma()
		if err != nil {
			return 0, err
		}
		fields[i] = unbiasGamma(f)
	}
	it.curFields = fields
	it.remaining--
	return it.curID, nil
}

func (it *fieldPostingIterator) NextFrom(target uint32) (uint32, error) {
	for {
		if it.started && it.curID >= target {
			return it.curID, nil
		}
		id, err := it.Next()
		if err != nil {
			return 0, err
		}
		if id == EOL {
			return EOL, nil
		}
		if id >= target {
			return id, nil
		}
	}
}

func (it *fieldPostingIterator) ID() uint32                 { return it.curID }
func (it *fieldPostingIterator) Frequency() uint32           { return it.curTF }
func (it *fieldPostingIterator) FieldFrequencies() []uint32 { return it.curFields }
func (it *fieldPostingIterator) Close() error                { it.closed = true; return nil }
