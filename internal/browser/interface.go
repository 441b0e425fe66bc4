// internal/browser/interface.go
package browser

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/xkilldash9x/rtsm-probe/internal/browser/probe"
)

// Page is the automation surface the flows drive. Every method is a
// suspension point and must not be called concurrently on the same page.
type Page interface {
	// Navigate loads url and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// Find locates the first visible element of set. Absence is a status, not an error.
	Find(ctx context.Context, set probe.Set) probe.Match
	Click(ctx context.Context, m probe.Match) error
	// Fill clears the matched input and types value into it.
	Fill(ctx context.Context, m probe.Match, value string) error
	// Count reports how many elements match p, visible or not.
	Count(ctx context.Context, p probe.Probe) (int, error)
	// Evaluate runs a JavaScript expression and decodes its result into out,
	// which may be nil.
	Evaluate(ctx context.Context, expression string, out interface{}) error
	// BodyText returns the rendered text of document.body.
	BodyText(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	SetCookie(ctx context.Context, c Cookie) error
	// Cookies returns the cookies visible to the current document URL.
	Cookies(ctx context.Context) ([]*network.Cookie, error)
	// Screenshot captures the full page as JPEG.
	Screenshot(ctx context.Context) ([]byte, error)
	// WaitNetworkIdle blocks until no request has been in flight for quiet.
	WaitNetworkIdle(ctx context.Context, quiet time.Duration) error
}

// PageSession is a Page owned by a single flow, isolated from every other
// session by its own browser context.
type PageSession interface {
	Page
	ID() string
	Close(ctx context.Context) error
}

// SessionFactory hands out isolated sessions.
type SessionFactory interface {
	NewSession(ctx context.Context) (PageSession, error)
}

// Cookie is a cookie written into the current document.
type Cookie struct {
	Name     string
	Value    string
	Path     string
	Secure   bool
	SameSite string
	// MaxAge in seconds; zero leaves it a session cookie.
	MaxAge int
}
