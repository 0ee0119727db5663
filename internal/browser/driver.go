// File: internal/browser/driver.go
package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// ErrScriptException is returned when a probe script throws inside the page.
var ErrScriptException = errors.New("browser: script exception")

// Driver is the narrow set of DevTools operations the Source needs. It is
// the seam tests replace with a mock.
type Driver interface {
	// QueryNodes returns every node matching selector, without waiting.
	QueryNodes(ctx context.Context, selector string) ([]*cdp.Node, error)
	// CallOnNode runs a function declaration with the node bound to this and
	// returns the JSON encoded result.
	CallOnNode(ctx context.Context, id cdp.BackendNodeID, function string) ([]byte, error)
	// Evaluate runs an expression in the page and returns the JSON result.
	Evaluate(ctx context.Context, expression string) ([]byte, error)
	// DispatchMouseEvent sends one low level mouse event.
	DispatchMouseEvent(ctx context.Context, p *input.DispatchMouseEventParams) error
}

const objectGroup = "cadence"

// cdpDriver runs every operation on the attached tab. The tab context carries
// the CDP target, the operation context carries cancellation.
type cdpDriver struct {
	tab context.Context
}

var _ Driver = (*cdpDriver)(nil)

func (d *cdpDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(d.tab, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (d *cdpDriver) QueryNodes(ctx context.Context, selector string) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	err := d.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	return nodes, err
}

func (d *cdpDriver) CallOnNode(ctx context.Context, id cdp.BackendNodeID, function string) ([]byte, error) {
	var out []byte
	err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(id).WithObjectGroup(objectGroup).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolve node %d: %w", id, err)
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

		res, exc, err := runtime.CallFunctionOn(function).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("%w: %s", ErrScriptException, exceptionText(exc))
		}
		out = []byte(res.Value)
		return nil
	}))
	return out, err
}

func (d *cdpDriver) Evaluate(ctx context.Context, expression string) ([]byte, error) {
	var out []byte
	err := d.run(ctx, chromedp.Evaluate(expression, &out))
	return out, err
}

func (d *cdpDriver) DispatchMouseEvent(ctx context.Context, p *input.DispatchMouseEventParams) error {
	return d.run(ctx, p)
}

func exceptionText(exc *runtime.ExceptionDetails) string {
	if exc.Exception != nil && exc.Exception.Description != "" {
		return exc.Exception.Description
	}
	return exc.Text
}
