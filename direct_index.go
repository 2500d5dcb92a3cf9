package invertix

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/RoaringBitmap/roaring"
)

// defaultTokenBudget is inverted2direct.processtokens' default, per §6.
const defaultTokenBudget = 100_000_000

// offsetRecordSize is the on-disk width of one scratch record:
// byteOffset (int64 BE) + bitOffset (int8) + df (int32 BE).
const offsetRecordSize = 8 + 1 + 4

// documentBuffer is the in-memory direct posting buffer for one document
// being materialised during a pass: a bit-output stream plus the running
// counters (distinct terms seen, tf sum, field sums) that postingEncoder
// already tracks internally.
type documentBuffer struct {
	w   *BitWriter
	enc *postingEncoder
}

func newDocumentBuffer(fieldCount int) *documentBuffer {
	w := NewBitWriter()
	return &documentBuffer{w: w, enc: newPostingEncoder(w, fieldCount)}
}

// decodeIterator pads the buffer per the §4.1 padding quirk and returns a
// fresh posting iterator over its contents, ready to be appended to the
// final output stream.
func (b *documentBuffer) decodeIterator(fieldCount int) IterablePosting {
	b.w.WriteSentinelPadding()
	r := NewBitReader(b.w.Bytes())
	if fieldCount > 0 {
		return NewFieldPostingIterator(r, b.enc.count, fieldCount)
	}
	return NewPostingIterator(r, b.enc.count)
}

// DirectIndexBuilder runs the out-of-core inverted-to-direct transposition
// described in §4.3. Fields mirror the teacher repo's habit of a small
// options struct (see AnalyzerConfig) rather than a long parameter list.
type DirectIndexBuilder struct {
	// TokenBudget overrides inverted2direct.processtokens when non-zero.
	// Leave zero to read the property off the index, falling back to
	// defaultTokenBudget.
	TokenBudget int64
	// Scratch supplies the offsets scratch file. Defaults to a real
	// temporary file via NewFileScratchFactory("") when nil.
	Scratch ScratchFactory
}

// Build performs the full pre-condition check, multi-pass transposition,
// and document-index rewrite against index, reading inverted postings from
// index's "inverted" input stream and using compression to open the
// destination posting stream. stats supplies the collection's total document and token
// counts, used for the loop bound and the token-mismatch check.
func (b *DirectIndexBuilder) Build(index Index, compression CompressionConfiguration, stats CollectionStatistics) error {
	if !index.HasIndexStructure("inverted") {
		return fmt.Errorf("%w: source structure \"inverted\" does not exist", ErrPreconditionFailed)
	}
	if index.HasIndexStructure("direct") {
		return fmt.Errorf("%w: destination structure \"direct\" already exists", ErrPreconditionFailed)
	}
	version := index.GetIndexProperty("index.version", "0")
	v, err := strconv.ParseFloat(version, 64)
	if err != nil || v < 2.0 {
		return fmt.Errorf("%w: index version %q is below the required 2.0", ErrPreconditionFailed, version)
	}
	if aligned := index.GetIndexProperty("lexicon.termids", ""); aligned != "aligned" {
		return fmt.Errorf("%w: lexicon.termids is %q, not \"aligned\"", ErrPreconditionFailed, aligned)
	}

	budget := b.TokenBudget
	if budget == 0 {
		budget = defaultTokenBudget
		if raw := index.GetIndexProperty("inverted2direct.processtokens", ""); raw != "" {
			if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
				budget = parsed
			}
		}
	}

	scratchFactory := b.Scratch
	if scratchFactory == nil {
		scratchFactory = NewFileScratchFactory("")
	}

	fieldCount := stats.FieldCount

	output, err := compression.GetPostingOutputStream("direct" + compression.FileExtension())
	if err != nil {
		return fmt.Errorf("opening direct posting output stream: %w", err)
	}
	defer output.Close()

	sf, err := scratchFactory.Create()
	if err != nil {
		return fmt.Errorf("opening offsets scratch file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sf.Close()
		}
	}()

	docStream, err := openDocumentIndexStream(index)
	if err != nil {
		return err
	}

	var firstDocid uint32
	var tokensSeen uint64
	lastPointer := Pointer{}

	for int64(firstDocid) < stats.NumDocs {
		n, err := scanDocumentIndexForTokens(docStream, budget)
		if err != nil {
			_ = docStream.Close()
			return fmt.Errorf("scanning document index window: %w", err)
		}
		if n == 0 {
			break
		}

		invStream, err := openInvertedIndexStream(index)
		if err != nil {
			_ = docStream.Close()
			return err
		}

		buffers := make([]*documentBuffer, n)
		for i := range buffers {
			buffers[i] = newDocumentBuffer(fieldCount)
		}
		usedFlag := roaring.New()

		seen, err := traverseInvertedFile(invStream, firstDocid, n, buffers, usedFlag, fieldCount)
		closeErr := invStream.Close()
		if err != nil {
			_ = docStream.Close()
			return fmt.Errorf("traversing inverted index: %w", err)
		}
		if closeErr != nil {
			_ = docStream.Close()
			return fmt.Errorf("closing inverted index stream: %w", closeErr)
		}
		tokensSeen += seen

		slog.Info("transposed window", "firstDocid", firstDocid, "windowSize", n)

		for i := 0; i < n; i++ {
			buf := buffers[i]
			var pointer Pointer
			if buf.enc.count > 0 {
				src := buf.decodeIterator(fieldCount)
				byteOff, bitOff := output.Position()
				written, err := newPostingEncoder(output.Writer(), fieldCount).AppendAll(src)
				if err != nil {
					_ = docStream.Close()
					return fmt.Errorf("writing direct postings for doc %d: %w", firstDocid+uint32(i), err)
				}
				pointer = Pointer{ByteOffset: byteOff, BitOffset: bitOff, NumEntries: written}
				lastPointer = pointer
			} else {
				pointer = Pointer{ByteOffset: lastPointer.ByteOffset, BitOffset: lastPointer.BitOffset, NumEntries: 0}
			}
			if err := writeOffsetRecord(sf, pointer); err != nil {
				_ = docStream.Close()
				return fmt.Errorf("writing offsets scratch record: %w", err)
			}
		}

		firstDocid += uint32(n)
	}

	if err := docStream.Close(); err != nil {
		return fmt.Errorf("closing document index stream: %w", err)
	}

	if int64(firstDocid) != stats.NumDocs {
		return fmt.Errorf("%w: transposed %d documents, expected %d", ErrMalformedStream, firstDocid, stats.NumDocs)
	}

	if stats.NumTokens != 0 && int64(tokensSeen) != stats.NumTokens {
		slog.Warn("token count mismatch after transposition", "observed", tokensSeen, "expected", stats.NumTokens)
	}

	if err := rewriteDocumentIndex(index, sf); err != nil {
		return err
	}
	committed = true

	// rewriteDocumentIndex has already read every scratch record and removed
	// the backing file; closing the writer handle here is housekeeping, not
	// part of the commit, so a failure here doesn't undo the already-
	// committed document-index rewrite or block finalisation below.
	if err := sf.Close(); err != nil {
		slog.Warn("closing offsets scratch writer after commit", "error", err)
	}

	if err := compression.WriteIndexProperties(index, "direct"); err != nil {
		return fmt.Errorf("writing direct index properties: %w", err)
	}
	if err := index.AddIndexStructure("direct", output); err != nil {
		return fmt.Errorf("registering direct index structure: %w", err)
	}
	if err := index.Flush(); err != nil {
		return fmt.Errorf("flushing index metadata: %w", err)
	}
	return nil
}

func openDocumentIndexStream(index Index) (DocumentIndexInputStream, error) {
	raw, err := index.GetIndexStructureInputStream("document")
	if err != nil {
		return nil, fmt.Errorf("opening document index stream: %w", err)
	}
	stream, ok := raw.(DocumentIndexInputStream)
	if !ok {
		return nil, fmt.Errorf("document index stream has unexpected type %T", raw)
	}
	return stream, nil
}

func openInvertedIndexStream(index Index) (InvertedIndexInputStream, error) {
	raw, err := index.GetIndexStructureInputStream("inverted")
	if err != nil {
		return nil, fmt.Errorf("opening inverted index stream: %w", err)
	}
	stream, ok := raw.(InvertedIndexInputStream)
	if !ok {
		return nil, fmt.Errorf("inverted index stream has unexpected type %T", raw)
	}
	return stream, nil
}

// scanDocumentIndexForTokens implements §4.3.1: advance stream, summing
// document lengths, until the running sum reaches or exceeds budget, or the
// stream exhausts. Returns the number of documents consumed, 0 only when
// the stream was already exhausted.
func scanDocumentIndexForTokens(stream DocumentIndexInputStream, budget int64) (int, error) {
	var n int
	var sum int64
	for {
		entry, ok, err := stream.Next()
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
		sum += int64(entry.DocLength)
		if sum >= budget {
			return n, nil
		}
	}
}

// traverseInvertedFile implements §4.3.2: for each posting list in
// invStream's order, advance to the window [firstDocid, firstDocid+n), and
// for every posting in range, append it to the owning document's buffer —
// as an absolute termId if this is that document's first posting in the
// pass (per usedFlag), as a gap from its own previous termId otherwise.
// Returns the total tf observed, for the advisory token-mismatch check.
func traverseInvertedFile(invStream InvertedIndexInputStream, firstDocid uint32, n int, buffers []*documentBuffer, usedFlag *roaring.Bitmap, fieldCount int) (uint64, error) {
	lastDocid := firstDocid + uint32(n) - 1
	var tokensSeen uint64

	for {
		list, ok, err := invStream.Next()
		if err != nil {
			return tokensSeen, err
		}
		if !ok {
			return tokensSeen, nil
		}

		posting := list.Postings
		id, err := posting.NextFrom(firstDocid)
		if err != nil {
			return tokensSeen, err
		}

		for id != EOL && id <= lastDocid {
			j := id - firstDocid
			first := !usedFlag.Contains(j)
			var fields []uint32
			if fieldCount > 0 {
				fields = posting.FieldFrequencies()
			}
			tf := posting.Frequency()
			if err := buffers[j].enc.Append(list.TermID, tf, fields, first); err != nil {
				return tokensSeen, err
			}
			usedFlag.Add(j)
			tokensSeen += uint64(tf)

			id, err = posting.Next()
			if err != nil {
				return tokensSeen, err
			}
		}

		if err := posting.Close(); err != nil {
			return tokensSeen, err
		}
	}
}

func writeOffsetRecord(w io.Writer, p Pointer) error {
	var rec [offsetRecordSize]byte
	binary.BigEndian.PutUint64(rec[0:8], p.ByteOffset)
	rec[8] = byte(p.BitOffset)
	binary.BigEndian.PutUint32(rec[9:13], p.NumEntries)
	_, err := w.Write(rec[:])
	return err
}

func readOffsetRecord(r io.Reader) (Pointer, error) {
	var rec [offsetRecordSize]byte
	if _, err := io.ReadFull(r, rec[:]); err != nil {
		return Pointer{}, err
	}
	return Pointer{
		ByteOffset: binary.BigEndian.Uint64(rec[0:8]),
		BitOffset:  rec[8],
		NumEntries: binary.BigEndian.Uint32(rec[9:13]),
	}, nil
}

// rewriteDocumentIndex implements the final stage of §4.3's algorithm: read
// the old document index alongside the offsets scratch file, replacing each
// entry's pointer while preserving docLength and fieldLengths, committing
// under the final "document" name, and removing the scratch file only once
// that commit succeeds.
func rewriteDocumentIndex(index Index, sf ScratchFile) error {
	r, err := sf.Reopen()
	if err != nil {
		return fmt.Errorf("reopening offsets scratch for read: %w", err)
	}
	defer r.Close()

	docStream, err := openDocumentIndexStream(index)
	if err != nil {
		return err
	}
	defer docStream.Close()

	builder, err := index.NewDocumentIndexBuilder("document-df")
	if err != nil {
		return fmt.Errorf("opening provisional document index builder: %w", err)
	}
	defer builder.Close()

	for {
		entry, ok, err := docStream.Next()
		if err != nil {
			return fmt.Errorf("reading document index: %w", err)
		}
		if !ok {
			break
		}
		pointer, err := readOffsetRecord(r)
		if err != nil {
			return fmt.Errorf("reading offsets scratch record: %w", err)
		}
		entry.Pointer = pointer
		if err := builder.Append(entry); err != nil {
			return fmt.Errorf("appending rewritten document index entry: %w", err)
		}
	}

	if err := builder.Commit("document"); err != nil {
		return fmt.Errorf("committing rewritten document index: %w", err)
	}
	if err := sf.Remove(); err != nil {
		return fmt.Errorf("removing offsets scratch file: %w", err)
	}
	return nil
}
