package models

import (
	"strings"
	"time"
)

// TrackID identifies a recurring themed group. The set is closed and fixed
// at build time.
type TrackID string

const (
	TrackT1EN TrackID = "t1-en"
	TrackT2EN TrackID = "t2-en"
)

// Track describes a recurring group offering.
type Track struct {
	ID     TrackID `json:"id"`
	Anchor string  `json:"anchor"`
	Label  string  `json:"label"`
	// Theme is the short theme title used in welcome mails.
	Theme string `json:"theme"`
	// StartsAt is the first session and the end of the subscription trial.
	StartsAt time.Time `json:"starts_at"`
	// FirstSession is the human readable first session date.
	FirstSession string `json:"first_session"`
	// LinkKey names the env key holding the meeting link for this track.
	LinkKey string `json:"-"`
	// Template is the welcome mail template name.
	Template string `json:"-"`
}

var tracks = []Track{
	{
		ID:           TrackT1EN,
		Anchor:       "anxiety",
		Label:        "Group Theme 1 — Anxiety & Regulation",
		Theme:        "Theme 1: Anxiety & Regulation",
		StartsAt:     time.Date(2026, time.January, 10, 18, 0, 0, 0, time.UTC),
		FirstSession: "Saturday, January 10, 2026 — 7:00 PM (Paris) / 1:00 PM (New York)",
		LinkKey:      "ZOOM_T1_EN_LINK",
		Template:     "welcome",
	},
	{
		ID:           TrackT2EN,
		Anchor:       "relationships",
		Label:        "Group Theme 2 — Relationships & Self-Esteem",
		Theme:        "Theme 2: Relationships & Self-Esteem",
		StartsAt:     time.Date(2026, time.January, 17, 18, 0, 0, 0, time.UTC),
		FirstSession: "Saturday, January 17, 2026 — 7:00 PM (Paris) / 1:00 PM (New York)",
		LinkKey:      "ZOOM_T2_EN_LINK",
		Template:     "welcome",
	},
}

// Tracks returns every configured track in display order.
func Tracks() []Track {
	out := make([]Track, len(tracks))
	copy(out, tracks)
	return out
}

// LookupTrack finds a track by its identifier. Matching is exact.
func LookupTrack(id string) (Track, bool) {
	for _, t := range tracks {
		if string(t.ID) == id {
			return t, true
		}
	}
	return Track{}, false
}

// IsGroupTrack reports whether id names a recurring group.
func IsGroupTrack(id string) bool {
	_, ok := LookupTrack(strings.TrimSpace(id))
	return ok
}

// WelcomeSubject is the subject line of the purchaser welcome mail.
func (t Track) WelcomeSubject() string {
	return "Welcome — " + t.Theme
}
