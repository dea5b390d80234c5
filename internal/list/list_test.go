package list

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/systemshift/memex-log/internal/dag"
)

func newTestList(t *testing.T, id string, opts ...Option) *List {
	t.Helper()
	return New(id, dag.NewMemoryStore(), opts...)
}

func mustAppend(t *testing.T, l *List, data ...interface{}) {
	t.Helper()
	for _, d := range data {
		_, err := l.Append(d)
		require.NoError(t, err)
	}
}

func refs(entries []*Entry) []CompactRef { return refsOf(entries) }

func TestNew_InitializesMembers(t *testing.T) {
	l := newTestList(t, "A")
	require.Equal(t, "A", l.ID())
	require.Zero(t, l.Epoch())
	require.Zero(t, l.Version())
	require.Empty(t, l.Items())
	require.Empty(t, l.Pending())
	require.Empty(t, l.Committed())
	require.Equal(t, DefaultBatchSize, l.BatchSize())

	heads, err := l.Heads()
	require.NoError(t, err)
	require.Empty(t, heads)
}

func TestAppend_EmptyList(t *testing.T) {
	l := newTestList(t, "A")
	e, err := l.Append("hello1")
	require.NoError(t, err)

	require.Equal(t, uint64(0), l.Epoch())
	require.Equal(t, uint64(1), l.Version())
	require.Len(t, l.Items(), 1)
	require.Len(t, l.Pending(), 1)
	require.Empty(t, l.Committed())
	require.Same(t, e, l.Pending()[0])
	require.Equal(t, "A", e.WriterID())
	require.Equal(t, uint64(0), e.Epoch())
	require.Equal(t, uint64(0), e.Version())
	require.Equal(t, "hello1", e.Payload().String())
	require.Empty(t, e.Predecessors())
}

func TestAppend_KnownRefs(t *testing.T) {
	l := newTestList(t, "A")
	mustAppend(t, l, "hello1", "hello2", "hello3")

	items := l.Items()
	require.Len(t, items, 3)
	require.Equal(t, uint64(0), l.Epoch())
	require.Equal(t, uint64(3), l.Version())
	require.Equal(t, CompactRef("A.0.0.QmZfdeMV77si491NPX83Q8eRYE9WNzVorHrfWJPrJ51brt"), items[0].Ref())
	require.Equal(t, CompactRef("A.0.1.QmbbtEWe4qHLSjtW2HkPuszFW3zfBTXBdPrkXMdbePxqfK"), items[1].Ref())
	require.Equal(t, CompactRef("A.0.2.QmT6wQwBZsH6b3jQVxmM5L7kqV39nr3F99yd5tN6nviQPe"), items[2].Ref())
	require.Equal(t, []CompactRef{items[1].Ref()}, items[2].Predecessors())
}

func TestAppend_HeadIsPreviousEntry(t *testing.T) {
	l := newTestList(t, "A")
	mustAppend(t, l, "helloA1", "helloA2", "helloA3")

	pending := l.Pending()
	require.Len(t, pending, 3)
	require.Equal(t,
		[]CompactRef{"A.0.1.QmW3cnX41CNSAEkZE23w4qMRcsAY8MEUtsCT4wZmRZfQ76"},
		pending[2].Predecessors())
}

func TestAppend_HundredItems(t *testing.T) {
	l := newTestList(t, "A")
	for i := 1; i <= 100; i++ {
		mustAppend(t, l, fmt.Sprintf("hello%d", i))
	}

	require.Equal(t, uint64(0), l.Epoch())
	require.Equal(t, uint64(100), l.Version())
	require.Len(t, l.Items(), 100)
	require.Len(t, l.Pending(), 100)
	require.Empty(t, l.Committed())

	last := l.Items()[99]
	require.Equal(t, uint64(99), last.Version())
	require.Equal(t, "hello100", last.Payload().String())
	require.Equal(t,
		[]CompactRef{"A.0.98.QmPZ1Qmf52ko62xh9RDYcVGNMWx8ZCtfFNyrvqyE1UmhG1"},
		last.Predecessors())
}

func TestAppend_CommitsAfterBatchSize(t *testing.T) {
	l := newTestList(t, "A")
	for i := 1; i <= DefaultBatchSize; i++ {
		mustAppend(t, l, fmt.Sprintf("hello%d", i))
	}

	require.Equal(t, uint64(1), l.Epoch())
	require.Equal(t, uint64(0), l.Version())
	require.Len(t, l.Items(), DefaultBatchSize)
	require.Empty(t, l.Pending())
	require.Len(t, l.Committed(), DefaultBatchSize)

	last := l.Items()[DefaultBatchSize-1]
	require.Equal(t, uint64(0), last.Epoch())
	require.Equal(t, uint64(DefaultBatchSize-1), last.Version())
	require.Equal(t, fmt.Sprintf("hello%d", DefaultBatchSize), last.Payload().String())
	require.Equal(t,
		[]CompactRef{"A.0.198.QmRKrcfkejCvxTxApZACjHpxzAKKGnCtFi2rD31CT7RkBS"},
		last.Predecessors())

	// The next epoch continues the chain.
	e, err := l.Append("next")
	require.NoError(t, err)
	require.Equal(t, uint64(1), e.Epoch())
	require.Equal(t, uint64(0), e.Version())
	require.Equal(t, []CompactRef{last.Ref()}, e.Predecessors())
}

func TestAppend_CustomBatchSize(t *testing.T) {
	l := newTestList(t, "A", WithBatchSize(3))
	for i := 0; i < 7; i++ {
		mustAppend(t, l, i)
		require.Equal(t, uint64(len(l.Pending())), l.Version())
		require.Zero(t, len(l.Committed())%3)
	}
	require.Equal(t, uint64(2), l.Epoch())
	require.Equal(t, uint64(1), l.Version())
	require.Len(t, l.Committed(), 6)
}

func TestAppend_EncodingError(t *testing.T) {
	l := newTestList(t, "A")
	_, err := l.Append(make(chan int))
	require.ErrorIs(t, err, ErrEncoding)
	require.Empty(t, l.Items())
	require.Zero(t, l.Version())
}

func TestJoin_EpochTakesOtherWhenHigher(t *testing.T) {
	l1 := newTestList(t, "A")
	l2 := newTestList(t, "B")
	l2.epoch = 7
	mustAppend(t, l1, "helloA1")
	mustAppend(t, l2, "helloB1")

	l1.Join(l2)
	require.Equal(t, "A", l1.ID())
	require.Equal(t, uint64(8), l1.Epoch())
	require.Zero(t, l1.Version())
}

func TestJoin_EpochIncrementsWhenOtherLower(t *testing.T) {
	l1 := newTestList(t, "A")
	l2 := newTestList(t, "B")
	l1.epoch = 4
	l2.epoch = 1
	mustAppend(t, l2, "helloB1")

	l1.Join(l2)
	require.Equal(t, uint64(5), l1.Epoch())
	require.Zero(t, l1.Version())
}

func TestJoin_OneWithTwo(t *testing.T) {
	l1 := newTestList(t, "A")
	l2 := newTestList(t, "B")
	mustAppend(t, l1, "helloA1")
	mustAppend(t, l2, "helloB1", "helloB2")
	l1.Join(l2)

	require.Equal(t, uint64(1), l1.Epoch())
	require.Zero(t, l1.Version())
	require.Empty(t, l1.Pending())
	require.Len(t, l1.Committed(), 3)

	last := l1.Items()[2]
	require.Equal(t, "B", last.WriterID())
	require.Equal(t, uint64(0), last.Epoch())
	require.Equal(t, uint64(1), last.Version())
	require.Equal(t, "helloB2", last.Payload().String())
}

func TestJoin_TwoWays(t *testing.T) {
	l1 := newTestList(t, "A")
	l2 := newTestList(t, "B")
	mustAppend(t, l1, "helloA1", "helloA2")
	mustAppend(t, l2, "helloB1", "helloB2")
	l1.Join(l2)
	l2.Join(l1)

	require.Equal(t, uint64(1), l1.Epoch())
	require.Len(t, l1.Committed(), 4)
	require.Equal(t, "helloB2", l1.Items()[3].Payload().String())

	require.Equal(t, uint64(2), l2.Epoch())
	require.Zero(t, l2.Version())
	require.Len(t, l2.Committed(), 4)
	last := l2.Items()[3]
	require.Equal(t, "A", last.WriterID())
	require.Equal(t, uint64(1), last.Version())
	require.Equal(t, "helloA2", last.Payload().String())

	require.ElementsMatch(t, refs(l1.Items()), refs(l2.Items()))
}

func TestJoin_Twice(t *testing.T) {
	l1 := newTestList(t, "A")
	l2 := newTestList(t, "B")
	mustAppend(t, l1, "helloA1")
	mustAppend(t, l2, "helloB1")
	l2.Join(l1)
	mustAppend(t, l1, "helloA2")
	mustAppend(t, l2, "helloB2")
	l2.Join(l1)

	items := l2.Items()
	require.Equal(t, uint64(2), l2.Epoch())
	require.Zero(t, l2.Version())
	require.Len(t, l2.Committed(), 4)
	require.Equal(t, "helloA1", items[1].Payload().String())
	require.Equal(t, "A", items[3].WriterID())
	require.Equal(t, uint64(1), items[3].Version())
	require.Equal(t, "helloA2", items[3].Payload().String())
}

func TestJoin_FourListsIntoOne(t *testing.T) {
	l1, l2 := newTestList(t, "A"), newTestList(t, "B")
	l3, l4 := newTestList(t, "C"), newTestList(t, "D")
	mustAppend(t, l1, "helloA1")
	mustAppend(t, l2, "helloB1")
	mustAppend(t, l1, "helloA2")
	mustAppend(t, l2, "helloB2")
	mustAppend(t, l3, "helloC1")
	mustAppend(t, l4, "helloD1")
	mustAppend(t, l3, "helloC2")
	mustAppend(t, l4, "helloD2")
	l1.Join(l2)
	l1.Join(l3)
	l1.Join(l4)

	items := l1.Items()
	require.Equal(t, uint64(3), l1.Epoch())
	require.Len(t, l1.Committed(), 8)
	require.Equal(t, "helloA2", items[1].Payload().String())
	require.Equal(t, "D", items[7].WriterID())
	require.Equal(t, "helloD2", items[7].Payload().String())
}

func TestJoin_FromFourLists(t *testing.T) {
	l1, l2 := newTestList(t, "A"), newTestList(t, "B")
	l3, l4 := newTestList(t, "C"), newTestList(t, "D")

	mustAppend(t, l1, "helloA1")
	l1.Join(l2)
	mustAppend(t, l2, "helloB1")
	l2.Join(l1)

	mustAppend(t, l1, "helloA2")
	mustAppend(t, l2, "helloB2")
	l1.Join(l3)
	l3.Join(l1)

	mustAppend(t, l3, "helloC1")
	mustAppend(t, l4, "helloD1")
	mustAppend(t, l3, "helloC2")
	mustAppend(t, l4, "helloD2")

	l1.Join(l3)
	l1.Join(l2)
	l4.Join(l2)
	l4.Join(l1)
	l4.Join(l3)

	mustAppend(t, l4, "helloD3", "helloD4")

	require.Equal(t, uint64(7), l4.Epoch())
	require.Equal(t, uint64(2), l4.Version())
	require.Len(t, l4.Pending(), 2)
	require.Len(t, l4.Committed(), 8)

	require.Equal(t, "helloD2", l4.Items()[1].Payload().String())

	committed := l4.Committed()
	lastCommitted := committed[len(committed)-1]
	require.Equal(t, "C", lastCommitted.WriterID())
	require.Equal(t, uint64(3), lastCommitted.Epoch())
	require.Equal(t, uint64(1), lastCommitted.Version())
	require.Equal(t, "helloC2", lastCommitted.Payload().String())

	items := l4.Items()
	last := items[len(items)-1]
	require.Equal(t, "D", last.WriterID())
	require.Equal(t, uint64(7), last.Epoch())
	require.Equal(t, uint64(1), last.Version())
	require.Equal(t, "helloD4", last.Payload().String())
}

func TestJoin_TwoHeadsAfterJoin(t *testing.T) {
	l1 := newTestList(t, "A")
	l2 := newTestList(t, "B")
	mustAppend(t, l1, "helloA1")
	mustAppend(t, l2, "helloB1", "helloB2")
	l1.Join(l2)
	mustAppend(t, l1, "helloA2")

	pending := l1.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, []CompactRef{
		"A.0.0.QmaHqKY1GUJTKGF6KA3QLoDaD3TS7oa6wHGTAxY6sVLKD9",
		"B.0.1.QmbsBfrDfqtTbaPNzuF8KNR1jbK74LwMe4UM2G6DgN6zmQ",
	}, pending[0].Predecessors())
}

func TestJoin_OneHeadAfterMergeEntry(t *testing.T) {
	l1 := newTestList(t, "A")
	l2 := newTestList(t, "B")
	mustAppend(t, l1, "helloA1")
	mustAppend(t, l2, "helloB1", "helloB2")
	l1.Join(l2)
	mustAppend(t, l1, "helloA2", "helloA3")

	pending := l1.Pending()
	require.Len(t, pending, 2)
	require.Equal(t,
		[]CompactRef{"A.1.0.QmPxBabxGovTzTphiwoiEDCRnTGYwqZ7M7jahVVctbaJdF"},
		pending[1].Predecessors())
}

func TestJoin_HeadsAfterTwoJoins(t *testing.T) {
	l1 := newTestList(t, "A")
	l2 := newTestList(t, "B")
	mustAppend(t, l1, "helloA1", "helloA2")
	mustAppend(t, l2, "helloB1", "helloB2")
	l1.Join(l2)
	mustAppend(t, l1, "helloA3")
	l1.Join(l2)
	mustAppend(t, l1, "helloA4", "helloA5")

	items := l1.Items()
	require.Len(t, items, 7)
	require.Equal(t,
		[]CompactRef{"A.2.0.QmTpRBszPFnxtuKccYJ4YShQoeYm2caeFhmMVBfiY1u7Jc"},
		items[6].Predecessors())
}

func TestJoin_HeadsAfterMultipleJoins(t *testing.T) {
	l1, l2 := newTestList(t, "A"), newTestList(t, "B")
	l3, l4 := newTestList(t, "C"), newTestList(t, "D")
	mustAppend(t, l1, "helloA1", "helloA2")
	mustAppend(t, l2, "helloB1", "helloB2")
	l1.Join(l2)

	mustAppend(t, l3, "helloC1")
	mustAppend(t, l4, "helloD1")
	l1.Join(l3)

	mustAppend(t, l1, "helloA3")
	l2.Join(l1)
	l1.Join(l2)
	l2.Join(l4)

	mustAppend(t, l4, "helloD2", "helloD3")
	mustAppend(t, l1, "helloA4")
	l1.Join(l4)
	mustAppend(t, l1, "helloA5")

	items := l1.Items()
	require.Len(t, items, 11)
	require.Equal(t, []CompactRef{
		"A.4.0.Qmb7oeViDbsKTDNo7HAueFn47z3pon2fVptXNdXhcAigFz",
		"D.0.2.QmajSkuVj64RLy8YGVPqkDb4V52FjqDsvbGhJsLmkQLxsL",
	}, items[10].Predecessors())
}

func TestJoin_SelfIsContentNoop(t *testing.T) {
	l := newTestList(t, "A")
	mustAppend(t, l, "a", "b")
	before := refs(l.Items())

	l.Join(l)
	require.Equal(t, before, refs(l.Items()))
	require.Equal(t, uint64(1), l.Epoch())

	l.Join(l)
	require.Equal(t, before, refs(l.Items()))
	require.Equal(t, uint64(2), l.Epoch())
	require.Zero(t, l.Version())
}

func TestJoin_NilAndEmpty(t *testing.T) {
	l := newTestList(t, "A")
	mustAppend(t, l, "a")
	l.Join(nil)
	require.Equal(t, uint64(1), l.Epoch())
	require.Len(t, l.Committed(), 1)

	l.Join(newTestList(t, "B"))
	require.Equal(t, uint64(2), l.Epoch())
	require.Len(t, l.Items(), 1)
}

func TestJoin_Completeness(t *testing.T) {
	a, b, c := newTestList(t, "A"), newTestList(t, "B"), newTestList(t, "C")
	mustAppend(t, a, "a1", "a2")
	mustAppend(t, b, "b1")
	b.Join(a)
	mustAppend(t, b, "b2")
	mustAppend(t, c, "c1", "c2", "c3")

	ab := New("X", nil)
	ab.Join(a)
	ab.Join(b)
	ab.Join(c)

	ba := New("Y", nil)
	ba.Join(c)
	ba.Join(b)
	ba.Join(a)

	union := map[CompactRef]bool{}
	for _, l := range []*List{a, b, c} {
		for _, e := range l.Items() {
			union[e.Ref()] = true
		}
	}
	require.Len(t, ab.Items(), len(union))
	require.ElementsMatch(t, refs(ab.Items()), refs(ba.Items()))
	for _, e := range ab.Items() {
		require.True(t, union[e.Ref()])
	}
}

func TestJoin_DoesNotAliasOther(t *testing.T) {
	a := newTestList(t, "A")
	b := newTestList(t, "B")
	mustAppend(t, b, "b1")
	a.Join(b)
	mustAppend(t, b, "b2")
	mustAppend(t, a, "a1")

	require.Len(t, a.Items(), 2)
	require.Len(t, b.Items(), 2)
	require.Equal(t, uint64(2), b.Version())
}
