// Package entitlements decides which purchased artifact a paid checkout
// session may download.
package entitlements

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/thirdpath/thirdpath/app/models"
	"github.com/thirdpath/thirdpath/internal/pkg/apperr"
	"github.com/thirdpath/thirdpath/internal/pkg/gateway"
)

const (
	ContentTypePDF     = "application/pdf"
	ContentTypeArchive = "application/octet-stream"
)

// Artifact is a downloadable file from the catalog.
type Artifact struct {
	Slug        string
	FileName    string
	ContentType string
	Bundle      bool
}

// Grant authorizes one artifact for one session.
type Grant struct {
	SessionID string
	Artifact  Artifact
}

// Gate authorizes downloads against the gateway's view of a session.
type Gate struct {
	gw gateway.Gateway
}

func NewGate(gw gateway.Gateway) *Gate {
	return &Gate{gw: gw}
}

// AuthorizeDownload checks that the session is paid and that it bought the
// requested slug. The bundle is granted to any paid session.
func (g *Gate) AuthorizeDownload(ctx context.Context, sessionID, slug string) (*Grant, error) {
	sessionID = strings.TrimSpace(sessionID)
	want := models.NormalizeSlug(slug)
	if sessionID == "" || want == "" {
		return nil, apperr.ErrBadRequest
	}

	sess, err := g.gw.GetSession(ctx, sessionID)
	if errors.Is(err, gateway.ErrNotFound) {
		return nil, apperr.ErrInvalidSessionID
	}
	if err != nil {
		return nil, apperr.Upstream(err)
	}

	if !sess.Paid() {
		return nil, apperr.ErrUnpaid
	}

	if models.IsBundleSlug(want) {
		want = models.BundleSlug
	} else if !Purchased(sess, want) {
		return nil, apperr.ErrItemNotInSession
	}

	product, ok := models.LookupProduct(want)
	if !ok {
		log.Warnf("[Download] session %s bought %q which has no artifact", sess.ID, want)
		return nil, apperr.ErrFileNotMapped
	}
	return &Grant{SessionID: sess.ID, Artifact: ArtifactFor(product)}, nil
}

// Purchased reports whether any line item's product carries slug.
func Purchased(sess *gateway.Session, slug string) bool {
	for _, li := range sess.LineItems {
		if models.NormalizeSlug(li.ProductMetadata["slug"]) == slug {
			return true
		}
	}
	return false
}

func ArtifactFor(p models.Product) Artifact {
	ct := ContentTypePDF
	if p.Bundle {
		ct = ContentTypeArchive
	}
	return Artifact{Slug: p.Slug, FileName: p.FileName, ContentType: ct, Bundle: p.Bundle}
}

// ContentDisposition builds an attachment header that keeps the original
// file name: an ASCII fallback plus the UTF-8 extended form.
func ContentDisposition(name string) string {
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, asciiName(name), extValue(name))
}

func asciiName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const upperhex = "0123456789ABCDEF"

func extValue(name string) string {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '!' || c == '~':
		return true
	}
	return false
}
