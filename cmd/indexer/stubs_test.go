package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsIgnoredMatchesDotfilesAndTempSuffixes(t *testing.T) {
	w := &pollingFileEventSource{root: "/watch", ignore: defaultIgnorePatterns}

	require.True(t, w.isIgnored("/watch/.DS_Store"))
	require.True(t, w.isIgnored("/watch/incoming/video.mp4.part"))
	require.True(t, w.isIgnored("/watch/deep/nested/dir/.hidden"))
	require.False(t, w.isIgnored("/watch/incoming/video.mp4"))
}
