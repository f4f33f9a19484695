package core

import "testing"

func TestRepeatModeCycle(t *testing.T) {
	cases := []struct {
		mode RepeatMode
		next RepeatMode
	}{
		{RepeatOff, RepeatContext},
		{RepeatContext, RepeatTrack},
		{RepeatTrack, RepeatOff},
	}
	for _, c := range cases {
		if got := c.mode.Next(); got != c.next {
			t.Errorf("%v.Next() = %v, want %v", c.mode, got, c.next)
		}
	}
}

func TestParseRepeatMode(t *testing.T) {
	cases := []struct {
		in   string
		want RepeatMode
	}{
		{"off", RepeatOff},
		{"context", RepeatContext},
		{"track", RepeatTrack},
		{"", RepeatOff},
		{"garbage", RepeatOff},
	}
	for _, c := range cases {
		if got := ParseRepeatMode(c.in); got != c.want {
			t.Errorf("ParseRepeatMode(%q) = %v, want %v", c.in, got, c.want)
		}
	}
	for _, m := range []RepeatMode{RepeatOff, RepeatContext, RepeatTrack} {
		if got := ParseRepeatMode(m.String()); got != m {
			t.Errorf("round trip for %v = %v", m, got)
		}
	}
}

func TestTrackURI(t *testing.T) {
	track := Track{ID: "4uLU6hMCjMI75M1A2tKUQC"}
	if got := track.URI(); got != "spotify:track:4uLU6hMCjMI75M1A2tKUQC" {
		t.Errorf("URI = %q", got)
	}
}

func TestHasTrack(t *testing.T) {
	if (PlaybackState{}).HasTrack() {
		t.Errorf("empty state reports a track")
	}
	if !(PlaybackState{TrackID: "t1"}).HasTrack() {
		t.Errorf("state with id reports no track")
	}
	if !(PlaybackState{TrackName: "Unlinked"}).HasTrack() {
		t.Errorf("state with only a name reports no track")
	}
}
