package rotation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/zephyrrotor/pkg/ring"
)

func TestCheckAdvance(t *testing.T) {
	require.NoError(t, CheckAdvance(0, 0))
	require.NoError(t, CheckAdvance(0, 1))
	require.NoError(t, CheckAdvance(41, 42))
	require.ErrorIs(t, CheckAdvance(3, 2), ErrOffsetRegression)
	require.ErrorIs(t, CheckAdvance(0, 2), ErrMultiStepRotation)
	require.ErrorIs(t, CheckAdvance(5, 9), ErrMultiStepRotation)
}

func TestDiffSingleStep(t *testing.T) {
	tr, err := Diff(0, 1, 3)
	require.NoError(t, err)
	require.True(t, tr.SingleStep())
	require.Equal(t, []ring.Slot{{ID: 1, Partition: 1}}, tr.Retired)
	require.Equal(t, []ring.Slot{{ID: 4, Partition: 1}}, tr.Introduced)
	require.Equal(t, []int{0, 2}, tr.Stable)
}

func TestDiffReapplyIsEmpty(t *testing.T) {
	tr, err := Diff(6, 6, 5)
	require.NoError(t, err)
	require.Empty(t, tr.Retired)
	require.Empty(t, tr.Introduced)
	require.Len(t, tr.Stable, 5)
}

func TestDiffMultiStepRetiresSeveral(t *testing.T) {
	tr, err := Diff(0, 2, 3)
	require.NoError(t, err)
	require.False(t, tr.SingleStep())
	require.Len(t, tr.Retired, 2)
	for i := range tr.Retired {
		require.Equal(t, tr.Retired[i].Partition, tr.Introduced[i].Partition)
	}

	// A full generation replaces every member.
	tr, err = Diff(0, 3, 3)
	require.NoError(t, err)
	require.Len(t, tr.Retired, 3)
	require.Empty(t, tr.Stable)
}

func TestDiffInvalidSize(t *testing.T) {
	_, err := Diff(0, 1, 0)
	require.ErrorIs(t, err, ErrInvalidSize)
}
