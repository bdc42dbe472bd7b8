package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCrossedBucketsSingleThreshold(t *testing.T) {
	require.Equal(t, []int{80}, CrossedBuckets(100, 79, 100))
	require.Equal(t, []int{80}, CrossedBuckets(100, 80, 100), "landing exactly on the threshold crosses it")
	require.Nil(t, CrossedBuckets(100, 81, 100))
}

func TestCrossedBucketsFastDropAnnouncesEverySkippedBucket(t *testing.T) {
	require.Equal(t, []int{80, 60, 40}, CrossedBuckets(100, 35, 100))
	require.Equal(t, []int{60, 40, 20, 0}, CrossedBuckets(80, 0, 100))
}

func TestCrossedBucketsNeverReannounces(t *testing.T) {
	require.Nil(t, CrossedBuckets(80, 75, 100))
	require.Nil(t, CrossedBuckets(40, 39, 100))
	require.Nil(t, CrossedBuckets(0, 0, 100))
}

func TestCrossedBucketsZeroOnlyWhenEmpty(t *testing.T) {
	// One hit point left rounds to zero percent but the pool is not done.
	require.Equal(t, []int{20}, CrossedBuckets(40, 1, 1_000_000))
	require.Equal(t, []int{20, 0}, CrossedBuckets(40, 0, 1_000_000))
	require.Nil(t, CrossedBuckets(20, 1, 1_000_000))
}

func TestCrossedBucketsDegeneratePool(t *testing.T) {
	require.Nil(t, CrossedBuckets(100, 0, 0))
}

func TestRecommendedPoolHP(t *testing.T) {
	require.Equal(t, int64(3_500_000), RecommendedPoolHP(1000))
	require.Equal(t, int64(1_750_000), RecommendedPoolHP(500))
	require.Equal(t, int64(35_000), RecommendedPoolHP(10))
	require.Equal(t, int64(3_500_000), RecommendedPoolHP(0), "unknown size falls back to the reference community")
}
