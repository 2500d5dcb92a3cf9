package invertix

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// QueryTermKind distinguishes the shapes a query term can take. This
// replaces the QueryTerm -> MultiQueryTerm -> SynonymTerm inheritance
// hierarchy a class-based implementation would use (§9) with a plain
// tagged variant.
type QueryTermKind int

const (
	// QueryTermSingle is a single lexical token.
	QueryTermSingle QueryTermKind = iota
	// QueryTermSynonym is a group of alternative tokens (e.g. "cat"/"kitten")
	// that should contribute as one effective term with summed statistics.
	QueryTermSynonym
	// QueryTermPhrase is a sequence of tokens named together at the query
	// level. This package carries no position data (see §3's data model),
	// so a phrase term resolves structurally the same way a synonym group
	// does: an OR-merge of its constituent tokens' posting lists with
	// summed statistics. Verifying true positional adjacency is a ranking
	// driver's job against a separate, positional collaborator outside
	// this core's scope.
	QueryTermPhrase
)

// QueryTerm is one term of a parsed query, as handed to the manager by
// whatever collaborator parsed the original query text. Tokenisation and
// query parsing themselves are a Non-goal of this package.
type QueryTerm struct {
	Kind         QueryTermKind
	Terms        []string // 1 element for Single; >=1 alternatives otherwise
	KeyFrequency float64
	Required     bool
	Models       []WeightingModel
	Display      string // optional override for Term(i); defaults to Terms joined
}

// matchingEntry is what QueryTerm.resolve produces: a single posting
// iterator plus merged statistics, per §4.4's "matching entry" concept.
type matchingEntry struct {
	posting IterablePosting
	df      uint32
	cf      uint64
}

// resolve opens posting iterators for every alternative in qt.Terms via
// lexicon + postingIndex, merges their statistics by summation, and wraps
// multiple iterators in an OR-merge. A term that resolves to nothing
// (unseen in the lexicon) returns ok == false: the assembly protocol skips
// it without leaving a hole.
func (qt QueryTerm) resolve(lex Lexicon, postingIndex PostingIndex, fieldCount int) (*matchingEntry, bool, error) {
	var iters []IterablePosting
	var df uint32
	var cf uint64

	for _, term := range qt.Terms {
		entry, found, err := lex.GetLexiconEntry(term)
		if err != nil {
			return nil, false, err
		}
		if !found {
			continue
		}
		posting, err := postingIndex.GetPostings(entry.Pointer)
		if err != nil {
			return nil, false, err
		}
		iters = append(iters, posting)
		df += entry.DF
		cf += entry.TF
	}

	if len(iters) == 0 {
		return nil, false, nil
	}

	merged := iters[0]
	if len(iters) > 1 {
		var err error
		merged, err = NewMergeIterator(iters, fieldCount)
		if err != nil {
			return nil, false, err
		}
	}

	return &matchingEntry{posting: merged, df: df, cf: cf}, true, nil
}

// EntryStatistics is the merged (df, cf) pair for an effective query term.
type EntryStatistics struct {
	DF uint32
	CF uint64
}

// Plugin mutates a manager's already-assembled arrays. Plugins observe the
// mutable arrays; there is no transactional guarantee across plugins.
type Plugin func(manager *PostingListManager, index Index) error

var (
	pluginRegistryMu sync.RWMutex
	pluginRegistry   = map[string]Plugin{}
)

// RegisterPlugin adds a plugin under name to the process-wide registry that
// matching.postinglist.manager.plugins resolves against. This replaces
// dynamic class loading (§9) with explicit registration: call it from an
// init() in whatever package defines the plugin. Safe to call concurrently
// with query evaluation.
func RegisterPlugin(name string, p Plugin) {
	pluginRegistryMu.Lock()
	defer pluginRegistryMu.Unlock()
	pluginRegistry[name] = p
}

func lookupPlugin(name string) (Plugin, bool) {
	pluginRegistryMu.RLock()
	defer pluginRegistryMu.RUnlock()
	p, ok := pluginRegistry[name]
	return p, ok
}

// ManagerOptions configures assembly.
type ManagerOptions struct {
	// IgnoreLowIDFTerms drops terms whose document frequency exceeds
	// LowIDFThreshold during assembly, per "ignore.low.idf.terms".
	IgnoreLowIDFTerms bool
	// LowIDFThreshold is the df above which a term is dropped when
	// IgnoreLowIDFTerms is set. Not one of the recognised configuration
	// keys in §6 — the spec calls the exact cutoff
	// "implementation-configurable" without naming a key for it, so it is
	// a constructor parameter rather than something read off Index.
	LowIDFThreshold uint32
	// Plugins lists registered plugin identifiers to run, in order, after
	// initial assembly.
	Plugins []string
}

// DefaultManagerOptions mirrors the defaults in §6's configuration table.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		IgnoreLowIDFTerms: true,
		LowIDFThreshold:   ^uint32(0), // effectively unbounded until the caller sets one
	}
}

// ManagerOptionsFromIndex reads ignore.low.idf.terms and
// matching.postinglist.manager.plugins off index, applying the defaults in
// §6 when a key is absent or unparsable.
func ManagerOptionsFromIndex(index Index) ManagerOptions {
	opts := DefaultManagerOptions()
	if raw := index.GetIndexProperty("ignore.low.idf.terms", "true"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			opts.IgnoreLowIDFTerms = v
		}
	}
	if raw := index.GetIndexProperty("matching.postinglist.manager.plugins", ""); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				opts.Plugins = append(opts.Plugins, name)
			}
		}
	}
	return opts
}

// PostingListManager is the query-time coordinator: given a parsed query,
// it assembles posting iterators, per-term weighting models, and merged
// statistics into parallel arrays a ranking driver can iterate uniformly.
// One instance is owned by one query-evaluation thread (§5); sharing across
// threads is undefined.
type PostingListManager struct {
	postings     []IterablePosting
	models       [][]WeightingModel
	stats        []EntryStatistics
	terms        []string
	keyFreq      []float64
	requiredMask *roaring.Bitmap
	numTerms     int
	prepared     bool
	fieldCount   int
}

// NewPostingListManager assembles a manager from a parsed query. Terms that
// resolve to nothing are skipped without leaving holes, so requiredMask
// indexes the effective position, not the original query position.
// Registered plugins named in opts.Plugins then run, in registration order
// as listed, each able to mutate the assembled arrays.
func NewPostingListManager(index Index, lex Lexicon, postingIndex PostingIndex, stats CollectionStatistics, queryTerms []QueryTerm, opts ManagerOptions) (*PostingListManager, error) {
	m := &PostingListManager{
		requiredMask: roaring.New(),
		fieldCount:   stats.FieldCount,
	}

	for _, qt := range queryTerms {
		entry, ok, err := qt.resolve(lex, postingIndex, m.fieldCount)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if opts.IgnoreLowIDFTerms && entry.df > opts.LowIDFThreshold {
			continue
		}

		i := len(m.postings)
		m.postings = append(m.postings, entry.posting)
		m.models = append(m.models, qt.Models)
		m.stats = append(m.stats, EntryStatistics{DF: entry.df, CF: entry.cf})
		m.terms = append(m.terms, displayTerm(qt))
		m.keyFreq = append(m.keyFreq, qt.KeyFrequency)
		if qt.Required {
			m.requiredMask.Add(uint32(i))
		}
	}

	for _, name := range opts.Plugins {
		plugin, ok := lookupPlugin(name)
		if !ok {
			continue
		}
		if err := plugin(m, index); err != nil {
			return nil, err
		}
	}

	m.numTerms = len(m.postings)
	return m, nil
}

func displayTerm(qt QueryTerm) string {
	if qt.Display != "" {
		return qt.Display
	}
	return strings.Join(qt.Terms, "/")
}

// Prepare, if firstMove, advances every iterator one step so the first
// ID() call is valid. It must be called exactly once before scoring.
func (m *PostingListManager) Prepare(firstMove bool) error {
	if firstMove {
		for _, p := range m.postings {
			if _, err := p.Next(); err != nil {
				return err
			}
		}
	}
	m.prepared = true
	return nil
}

// Size returns the number of effective terms. Equivalent to GetNumTerms.
func (m *PostingListManager) Size() int { return m.numTerms }

// GetNumTerms returns the number of effective terms.
func (m *PostingListManager) GetNumTerms() int { return m.numTerms }

func (m *PostingListManager) checkRange(i int) error {
	if i < 0 || i >= m.numTerms {
		return fmt.Errorf("%w: index %d not in [0,%d)", ErrIndexOutOfRange, i, m.numTerms)
	}
	return nil
}

// GetPosting returns the i-th effective term's posting iterator.
func (m *PostingListManager) GetPosting(i int) (IterablePosting, error) {
	if err := m.checkRange(i); err != nil {
		return nil, err
	}
	return m.postings[i], nil
}

// GetStatistics returns the i-th effective term's merged statistics.
func (m *PostingListManager) GetStatistics(i int) (EntryStatistics, error) {
	if err := m.checkRange(i); err != nil {
		return EntryStatistics{}, err
	}
	return m.stats[i], nil
}

// GetTerm returns the i-th effective term's display string.
func (m *PostingListManager) GetTerm(i int) (string, error) {
	if err := m.checkRange(i); err != nil {
		return "", err
	}
	return m.terms[i], nil
}

// GetKeyFrequency returns the i-th effective term's query-side weight.
func (m *PostingListManager) GetKeyFrequency(i int) (float64, error) {
	if err := m.checkRange(i); err != nil {
		return 0, err
	}
	return m.keyFreq[i], nil
}

// IsRequired reports whether the i-th effective term is a MUST-match
// operand, per requiredMask.
func (m *PostingListManager) IsRequired(i int) (bool, error) {
	if err := m.checkRange(i); err != nil {
		return false, err
	}
	return m.requiredMask.Contains(uint32(i)), nil
}

// Score sums every weighting model registered for the i-th effective term
// over that term's posting iterator at its current position.
func (m *PostingListManager) Score(i int) (float64, error) {
	if !m.prepared {
		return 0, ErrManagerNotPrepared
	}
	if err := m.checkRange(i); err != nil {
		return 0, err
	}
	var total float64
	for _, model := range m.models[i] {
		total += model.Score(m.postings[i])
	}
	return total, nil
}

// Close closes every iterator. Idempotent.
func (m *PostingListManager) Close() error {
	var firstErr error
	for _, p := range m.postings {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
