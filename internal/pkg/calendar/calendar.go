// Package calendar publishes the recurring group sessions as iCalendar
// feeds and expands their upcoming dates.
package calendar

import (
	"bytes"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"github.com/thirdpath/thirdpath/app/models"
)

const (
	ProductID   = "-//thirdpath.cloud//Groups//EN"
	Recurrence  = "FREQ=WEEKLY;INTERVAL=2;BYDAY=SA"
	Duration    = 90 * time.Minute
	description = "Biweekly online group session."
	uidLayout   = "20060102T150405"
)

var paris = mustLocation("Europe/Paris")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Calendar builds track feeds. Now stamps DTSTAMP.
type Calendar struct {
	Now func() time.Time
}

func New() *Calendar {
	return &Calendar{Now: time.Now}
}

// FileName is the attachment name of a track feed.
func FileName(track models.Track) string {
	return "group-" + string(track.ID) + ".ics"
}

// ICS renders the feed for one track: a single biweekly event starting at
// the track's first session, in Paris local time.
func (c *Calendar) ICS(track models.Track) ([]byte, error) {
	start := track.StartsAt.In(paris)

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	cal.Props.SetText(ical.PropCalendarScale, "GREGORIAN")
	cal.Props.SetText(ical.PropMethod, "PUBLISH")

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, fmt.Sprintf("%s-%s@thirdpath.cloud", track.ID, start.Format(uidLayout)))
	event.Props.SetDateTime(ical.PropDateTimeStamp, c.Now().UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, start)
	setRaw(event.Props, ical.PropDuration, "PT90M")
	setRaw(event.Props, ical.PropRecurrenceRule, Recurrence)
	event.Props.SetText(ical.PropSummary, track.Label)
	event.Props.SetText(ical.PropDescription, description)
	cal.Children = append(cal.Children, event.Component)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode calendar for %s: %w", track.ID, err)
	}
	return buf.Bytes(), nil
}

// setRaw stores a value that must not be text escaped or typed.
func setRaw(props ical.Props, name, value string) {
	prop := ical.NewProp(name)
	prop.Value = value
	props.Set(prop)
}

// Upcoming returns up to n session starts of the track at or after from.
func Upcoming(track models.Track, from time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}
	opt, err := rrule.StrToROption(Recurrence)
	if err != nil {
		return nil, err
	}
	opt.Dtstart = track.StartsAt.In(paris)
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, 0, n)
	next := rule.After(from, true)
	for len(out) < n && !next.IsZero() {
		out = append(out, next.UTC())
		next = rule.After(next, false)
	}
	return out, nil
}
