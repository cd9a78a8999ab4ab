package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuarterJob_HappyPath(t *testing.T) {
	j := NewQuarterJob("8272", 2024, 1)
	for _, s := range []JobState{
		JobListingFetched, JobMatched, JobResolving, JobResolved,
		JobDownloading, JobValidated, JobComplete,
	} {
		require.NoError(t, j.Advance(s))
	}
	assert.Equal(t, JobComplete, j.State)
	assert.Len(t, j.History, 8)
	assert.True(t, j.State.Terminal())
}

func TestQuarterJob_UnmatchedSkips(t *testing.T) {
	j := NewQuarterJob("2330", 2024, 2)
	require.NoError(t, j.Advance(JobListingFetched))
	require.NoError(t, j.Advance(JobUnmatched))
	require.NoError(t, j.Advance(JobSkipped))
	assert.Error(t, j.Advance(JobFailed))
}

func TestQuarterJob_RejectsRevisitAndSkip(t *testing.T) {
	j := NewQuarterJob("2330", 2024, 3)
	require.NoError(t, j.Advance(JobListingFetched))
	assert.Error(t, j.Advance(JobListingFetched))
	assert.Error(t, j.Advance(JobDownloading))
	assert.Equal(t, JobListingFetched, j.State)
}

func TestQuarterJob_FailFromAnyOpenState(t *testing.T) {
	j := NewQuarterJob("2330", 2024, 4)
	require.NoError(t, j.Advance(JobListingFetched))
	require.NoError(t, j.Advance(JobMatched))
	require.NoError(t, j.Advance(JobResolving))
	require.NoError(t, j.Advance(JobFailed))
	assert.Equal(t, []JobState{JobPending, JobListingFetched, JobMatched, JobResolving, JobFailed}, j.History)
}

func TestTierRank(t *testing.T) {
	assert.Greater(t, TierPrimary.Rank(), TierSecondary.Rank())
	assert.Greater(t, TierSecondary.Rank(), TierRejected.Rank())
}

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("outer: %w", NewError(ErrExtraction, base))

	assert.Equal(t, ErrExtraction, KindOf(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, ErrorKind(""), KindOf(base))
	assert.Nil(t, NewError(ErrNetwork, nil))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(Errorf(ErrValidation, "bad company id %q", "x")))
	assert.True(t, IsFatal(Errorf(ErrConfiguration, "no rules")))
	assert.False(t, IsFatal(Errorf(ErrNetwork, "reset")))
	assert.False(t, IsFatal(nil))
}
