package docset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatchPendingPartitionsAtCeiling(t *testing.T) {
	entries := make([]pendingEntry, 2500)
	batches := batchPending(entries)

	require.Len(t, batches, 3)
	require.Len(t, batches[0], maxBatchSize)
	require.Len(t, batches[1], maxBatchSize)
	require.Len(t, batches[2], 500)
}

func TestBatchPendingEmptyYieldsNoBatches(t *testing.T) {
	require.Nil(t, batchPending(nil))
}

func TestBatchPendingSmallInputIsSingleBatch(t *testing.T) {
	entries := make([]pendingEntry, 7)
	batches := batchPending(entries)
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 7)
}
