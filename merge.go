package invertix

import "container/heap"

// mergeHeapEntry tracks one input iterator's current position for the
// min-heap that drives mergeIterator.
type mergeHeapEntry struct {
	id    uint32
	index int
}

type mergeHeap []mergeHeapEntry

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if h[i].id != h[j].id {
		return h[i].id < h[j].id
	}
	// Deterministic tie-break by input index, per §4.2.
	return h[i].index < h[j].index
}
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(mergeHeapEntry)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeIterator produces the sorted union of several posting iterators
// (the OR-merge that backs synonym groups). At each output position, the
// output frequency is the sum over every input currently positioned at the
// output id. Field frequencies are summed element-wise the same way.
type mergeIterator struct {
	inputs     []IterablePosting
	heap       mergeHeap
	curID      uint32
	curTF      uint32
	curFields  []uint32
	fieldCount int
	started    bool
	exhausted  bool
}

// NewMergeIterator composes inputs, already-sorted posting iterators, into
// a single sorted union. fieldCount must match every input's field arity
// (0 if none track fields).
func NewMergeIterator(inputs []IterablePosting, fieldCount int) (IterablePosting, error) {
	m := &mergeIterator{inputs: inputs, fieldCount: fieldCount}
	m.heap = make(mergeHeap, 0, len(inputs))
	for i, in := range inputs {
		id, err := in.Next()
		if err != nil {
			return nil, err
		}
		if id == EOL {
			continue
		}
		m.heap = append(m.heap, mergeHeapEntry{id: id, index: i})
	}
	heap.Init(&m.heap)
	return m, nil
}

func (m *mergeIterator) Next() (uint32, error) {
	if m.exhausted || len(m.heap) == 0 {
		m.exhausted = true
		m.curID = EOL
		return EOL, nil
	}

	id := m.heap[0].id
	var tf uint64
	var fields []uint64
	if m.fieldCount > 0 {
		fields = make([]uint64, m.fieldCount)
	}

	for len(m.heap) > 0 && m.heap[0].id == id {
		entry := heap.Pop(&m.heap).(mergeHeapEntry)
		in := m.inputs[entry.index]
		tf += uint64(in.Frequency())
		if m.fieldCount > 0 {
			for i, f := range in.FieldFrequencies() {
				fields[i] += uint64(f)
			}
		}
		nextID, err := in.Next()
		if err != nil {
			return 0, err
		}
		if nextID != EOL {
			heap.Push(&m.heap, mergeHeapEntry{id: nextID, index: entry.index})
		}
	}

	m.curID = id
	m.curTF = clampUint32(tf)
	if fields != nil {
		m.curFields = make([]uint32, m.fieldCount)
		for i, f := range fields {
			m.curFields[i] = clampUint32(f)
		}
	}
	m.started = true
	return m.curID, nil
}

func (m *mergeIterator) NextFrom(target uint32) (uint32, error) {
	for {
		if m.started && m.curID >= target {
			return m.curID, nil
		}
		id, err := m.Next()
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

func (m *mergeIterator) ID() uint32       { return m.curID }
func (m *mergeIterator) Frequency() uint32 { return m.curTF }
func (m *mergeIterator) FieldFrequencies() []uint32 {
	return m.curFields
}

func (m *mergeIterator) Close() error {
	var firstErr error
	for _, in := range m.inputs {
		if err := in.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func clampUint32(v uint64) uint32 {
	if v > uint64(EOL)-1 {
		return EOL - 1
	}
	return uint32(v)
}
