package ws

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendN(t *testing.T, h *HistoryStore, operationID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, h.Append(NewMessage(operationID, int64(i), MessageTypeExecution, "step")))
	}
}

func sequences(msgs []*Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.Sequence
	}
	return out
}

func TestAppendAndReadOrdered(t *testing.T) {
	h := NewHistoryStore(0)
	appendN(t, h, "op_1", 5)

	msgs := h.Read("op_1", -1)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, sequences(msgs))
}

func TestReadFromCursorIsExclusive(t *testing.T) {
	h := NewHistoryStore(0)
	appendN(t, h, "op_1", 5)

	assert.Equal(t, []int64{2, 3, 4}, sequences(h.Read("op_1", 1)))
	assert.Empty(t, h.Read("op_1", 4))
	assert.Empty(t, h.Read("op_1", 99))
}

func TestReadUnknownOperation(t *testing.T) {
	h := NewHistoryStore(0)
	assert.Empty(t, h.Read("op_missing", -1))
}

func TestAppendRejectsDuplicateSequence(t *testing.T) {
	h := NewHistoryStore(0)
	appendN(t, h, "op_1", 3)

	err := h.Append(NewMessage("op_1", 2, MessageTypeExecution, "dup"))
	assert.ErrorIs(t, err, ErrSequenceConflict)

	// No partial effects
	assert.Equal(t, []int64{0, 1, 2}, sequences(h.Read("op_1", -1)))
}

func TestAppendRejectsSequenceGap(t *testing.T) {
	h := NewHistoryStore(0)
	appendN(t, h, "op_1", 2)

	err := h.Append(NewMessage("op_1", 5, MessageTypeExecution, "skipped ahead"))
	assert.ErrorIs(t, err, ErrSequenceConflict)
	assert.Equal(t, []int64{0, 1}, sequences(h.Read("op_1", -1)))
}

func TestAppendRejectsAfterFinal(t *testing.T) {
	h := NewHistoryStore(0)
	final := NewMessage("op_1", 0, MessageTypeComplete, "done")
	final.IsFinal = true
	require.NoError(t, h.Append(final))

	err := h.Append(NewMessage("op_1", 1, MessageTypeExecution, "too late"))
	assert.ErrorIs(t, err, ErrOperationFinal)
}

func TestAppendRejectsInvalidMessage(t *testing.T) {
	h := NewHistoryStore(0)
	msg := NewMessage("op_1", 0, MessageTypeExecution, "x")
	msg.OperationID = ""
	assert.ErrorIs(t, h.Append(msg), ErrInvalidMessage)
}

func TestFirstRetainedSequenceNeedNotBeZero(t *testing.T) {
	// After a prune the log can restart mid-stream; appends then
	// continue from wherever the producer is.
	h := NewHistoryStore(0)
	require.NoError(t, h.Append(NewMessage("op_1", 7, MessageTypeExecution, "resumed")))
	require.NoError(t, h.Append(NewMessage("op_1", 8, MessageTypeExecution, "next")))

	assert.Equal(t, []int64{7, 8}, sequences(h.Read("op_1", -1)))
}

func TestPruneRemovesExpiredAndDropsEmptyKeys(t *testing.T) {
	h := NewHistoryStore(0)

	old := NewMessage("op_old", 0, MessageTypeExecution, "ancient")
	old.Timestamp = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, h.Append(old))

	appendN(t, h, "op_live", 2)

	removed := h.Prune(10 * time.Minute)
	assert.Equal(t, 1, removed)
	assert.Empty(t, h.Read("op_old", -1))
	assert.Equal(t, 1, h.OperationCount())
	assert.Equal(t, []int64{0, 1}, sequences(h.Read("op_live", -1)))
}

func TestPrunePartialPrefix(t *testing.T) {
	h := NewHistoryStore(0)

	for i := 0; i < 4; i++ {
		msg := NewMessage("op_1", int64(i), MessageTypeExecution, "step")
		if i < 2 {
			msg.Timestamp = time.Now().UTC().Add(-time.Hour)
		}
		require.NoError(t, h.Append(msg))
	}

	removed := h.Prune(10 * time.Minute)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []int64{2, 3}, sequences(h.Read("op_1", -1)))
}

func TestHistoryCap(t *testing.T) {
	h := NewHistoryStore(3)
	appendN(t, h, "op_1", 5)

	assert.Equal(t, []int64{2, 3, 4}, sequences(h.Read("op_1", -1)))
	assert.Equal(t, 3, h.TotalMessages())
}

func TestLatestSequence(t *testing.T) {
	h := NewHistoryStore(0)

	_, ok := h.LatestSequence("op_1")
	assert.False(t, ok)

	appendN(t, h, "op_1", 3)
	seq, ok := h.LatestSequence("op_1")
	require.True(t, ok)
	assert.Equal(t, int64(2), seq)
}

func TestTotalMessages(t *testing.T) {
	h := NewHistoryStore(0)
	appendN(t, h, "op_1", 3)
	appendN(t, h, "op_2", 2)
	assert.Equal(t, 5, h.TotalMessages())
	assert.Equal(t, 2, h.OperationCount())
}

func TestConcurrentAppendsDifferentOperations(t *testing.T) {
	h := NewHistoryStore(0)

	var wg sync.WaitGroup
	ops := []string{"op_a", "op_b", "op_c", "op_d"}
	for _, operationID := range ops {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if err := h.Append(NewMessage(id, int64(i), MessageTypeExecution, "step")); err != nil {
					t.Errorf("append failed for %s: %v", id, err)
					return
				}
			}
		}(operationID)
	}
	wg.Wait()

	for _, operationID := range ops {
		msgs := h.Read(operationID, -1)
		require.Len(t, msgs, 100, "operation %s", operationID)
		for i, msg := range msgs {
			assert.Equal(t, int64(i), msg.Sequence)
		}
	}
}
