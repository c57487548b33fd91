package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCrawlScheduleCreatedOnFirstMention(t *testing.T) {
	s := newTestStore(t)

	sched, err := s.CrawlSchedule("civitai")
	require.NoError(t, err)
	require.Equal(t, "civitai", sched.Platform)
	require.Equal(t, 24.0, sched.IntervalHours)
	require.Empty(t, sched.NextCursor)
	require.Empty(t, sched.SearchCursors)
	require.Empty(t, sched.TagCursors)
}

func TestSaveCrawlCursorsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveCrawlCursors("civitai", "feed-cursor-9",
		map[string]string{"portrait": "s1"},
		map[string]string{"portrait": "t1", "selfie": "done"}))

	sched, err := s.CrawlSchedule("civitai")
	require.NoError(t, err)
	require.Equal(t, "feed-cursor-9", sched.NextCursor)
	require.Equal(t, map[string]string{"portrait": "s1"}, sched.SearchCursors)
	require.Equal(t, map[string]string{"portrait": "t1", "selfie": "done"}, sched.TagCursors)
}

func TestSaveCrawlCursorsNilMaps(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveCrawlCursors("civitai", "", nil, nil))

	sched, err := s.CrawlSchedule("civitai")
	require.NoError(t, err)
	require.NotNil(t, sched.SearchCursors)
	require.NotNil(t, sched.TagCursors)
}
