// File: internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrNoTarget is returned when no open page matches the requested URL.
var ErrNoTarget = errors.New("browser: no matching page target")

// Session is an attachment to a page in an already running Chrome. Login and
// navigation happen outside; the session only drives the open page.
type Session struct {
	tab    context.Context
	cancel []context.CancelFunc
	logger *zap.Logger
	target *target.Info
}

// Attach connects to the DevTools endpoint and attaches to the first page
// whose URL contains match, or to the first page when match is empty.
//
// The connection is rooted in a background context rather than ctx so an
// in-flight confirmation can still reach the page after ctx is cancelled.
// Call Close to release it.
func Attach(ctx context.Context, devToolsURL, match string, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("browser")

	s := &Session{logger: logger}
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.Background(), devToolsURL)
	s.cancel = append(s.cancel, cancelAlloc)

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Warnf),
	)
	s.cancel = append(s.cancel, cancelBrowser)

	// chromedp ties what the first Run allocates to that Run's context, so
	// it gets the long lived one.
	if err := connect(ctx, browserCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("connect to devtools at %s: %w", devToolsURL, err)
	}

	listCtx, cancelList := combineContext(browserCtx, ctx)
	defer cancelList()
	targets, err := chromedp.Targets(listCtx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("list targets: %w", err)
	}
	own := chromedp.FromContext(browserCtx).Target
	info := pickTarget(targets, own, match)
	if info == nil {
		s.Close()
		return nil, fmt.Errorf("%w: %q", ErrNoTarget, match)
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx, chromedp.WithTargetID(info.TargetID))
	s.cancel = append(s.cancel, cancelTab)
	if err := connect(ctx, tabCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("attach to target %s: %w", info.TargetID, err)
	}

	s.tab = tabCtx
	s.target = info
	logger.Info("Attached to page.", zap.String("url", info.URL), zap.String("title", info.Title))
	return s, nil
}

// Driver returns the DevTools driver bound to the attached page.
func (s *Session) Driver() Driver {
	return &cdpDriver{tab: s.tab}
}

// URL returns the address of the attached page.
func (s *Session) URL() string {
	if s.target == nil {
		return ""
	}
	return s.target.URL
}

// Close detaches from the page and drops the connection. The browser itself
// keeps running.
func (s *Session) Close() {
	for i := len(s.cancel) - 1; i >= 0; i-- {
		s.cancel[i]()
	}
	s.cancel = nil
}

// connect performs the first Run on c while honoring the caller's
// cancellation. On cancellation the caller closes c, which unblocks Run.
func connect(ctx, c context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(c) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pickTarget skips the helper tab chromedp opens on connect.
func pickTarget(targets []*target.Info, own *chromedp.Target, match string) *target.Info {
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if own != nil && t.TargetID == own.TargetID {
			continue
		}
		if match == "" || strings.Contains(t.URL, match) {
			return t
		}
	}
	return nil
}

// combineContext derives from primary, which carries the CDP target, and is
// also cancelled when secondary is.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
