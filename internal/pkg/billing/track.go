package billing

import (
	"strings"

	"github.com/thirdpath/thirdpath/app/models"
	"github.com/thirdpath/thirdpath/internal/pkg/gateway"
)

// Metadata keys written on sessions, subscriptions and products.
const (
	MetadataTrack       = "track"
	MetadataSlug        = "slug"
	MetadataReservation = "reservation"
)

type TrackKind int

const (
	TrackAbsent TrackKind = iota
	TrackResolved
	TrackMalformed
)

func (k TrackKind) String() string {
	switch k {
	case TrackResolved:
		return "resolved"
	case TrackMalformed:
		return "malformed"
	default:
		return "absent"
	}
}

// TrackResolution is the outcome of reading a track tag off a session.
// Track is set only when Kind is TrackResolved; Raw keeps the tag as found.
type TrackResolution struct {
	Kind   TrackKind
	Track  models.Track
	Raw    string
	Source string
}

// ResolveTrack reads the track tag in precedence order: subscription
// metadata, session metadata, then the client reference. The first
// non-empty value decides the outcome.
func ResolveTrack(s *gateway.Session) TrackResolution {
	if s == nil {
		return TrackResolution{Kind: TrackAbsent}
	}

	candidates := []struct {
		source string
		value  string
	}{
		{"subscription.metadata", subscriptionTag(s)},
		{"session.metadata", s.Metadata[MetadataTrack]},
		{"client_reference_id", s.ClientReferenceID},
	}

	for _, c := range candidates {
		raw := strings.TrimSpace(c.value)
		if raw == "" {
			continue
		}
		if t, ok := models.LookupTrack(raw); ok {
			return TrackResolution{Kind: TrackResolved, Track: t, Raw: raw, Source: c.source}
		}
		return TrackResolution{Kind: TrackMalformed, Raw: raw, Source: c.source}
	}
	return TrackResolution{Kind: TrackAbsent}
}

func subscriptionTag(s *gateway.Session) string {
	if s.Subscription == nil {
		return ""
	}
	return s.Subscription.Metadata[MetadataTrack]
}

// ResolveSlug returns the purchased product slug: the first product slug
// tag, else the first line item description turned into a slug.
func ResolveSlug(s *gateway.Session) string {
	if s == nil {
		return ""
	}
	for _, li := range s.LineItems {
		if slug := models.NormalizeSlug(li.ProductMetadata[MetadataSlug]); slug != "" {
			return slug
		}
	}
	for _, li := range s.LineItems {
		if slug := models.SlugFromDescription(li.Description); slug != "" {
			return slug
		}
	}
	return ""
}
