// File: internal/browser/source_test.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/cadence/internal/humanoid"
)

// -- Test Doubles --

type mockDriver struct {
	mock.Mock
	events []*input.DispatchMouseEventParams
}

func (m *mockDriver) QueryNodes(ctx context.Context, selector string) ([]*cdp.Node, error) {
	args := m.Called(selector)
	nodes, _ := args.Get(0).([]*cdp.Node)
	return nodes, args.Error(1)
}

func (m *mockDriver) CallOnNode(ctx context.Context, id cdp.BackendNodeID, function string) ([]byte, error) {
	args := m.Called(id, function)
	payload, _ := args.Get(0).([]byte)
	return payload, args.Error(1)
}

func (m *mockDriver) Evaluate(ctx context.Context, expression string) ([]byte, error) {
	args := m.Called(expression)
	payload, _ := args.Get(0).([]byte)
	return payload, args.Error(1)
}

func (m *mockDriver) DispatchMouseEvent(ctx context.Context, p *input.DispatchMouseEventParams) error {
	m.events = append(m.events, p)
	return nil
}

func testOptions() Options {
	return Options{
		ContainerSelector: "div[role='dialog']",
		CandidateSelector: "button",
		RowSelector:       "li, div[role='listitem']",
		ScrollMin:         300,
		ScrollMax:         700,
		ActionTimeout:     time.Second,
	}
}

func newTestSource(t *testing.T, d Driver) (*Source, *humanoid.FakeClock) {
	t.Helper()
	clock := humanoid.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewSource(d, testOptions(), humanoid.NewTestPacer(clock, 3),
		WithRand(rand.New(rand.NewSource(3))),
		WithLogger(zaptest.NewLogger(t)),
	)
	return s, clock
}

// -- Payload Decoding --

const rowPayload = `{
	"text": "Seguir",
	"nestedText": "Seguir",
	"ariaLabel": "",
	"title": "",
	"classes": ["_acan", "_acap"],
	"data": {"data-testid": "follow-button"},
	"parentText": "maria.silva Maria Silva",
	"siblingText": ["maria.silva", "Maria Silva"],
	"geometry": {"width": 88.5, "height": 32, "hidden": false}
}`

func TestDecodeSignals(t *testing.T) {
	raw, err := decodeSignals([]byte(rowPayload))
	require.NoError(t, err)

	assert.Equal(t, "Seguir", raw.Text)
	assert.Equal(t, []string{"_acan", "_acap"}, raw.Classes)
	assert.Equal(t, "follow-button", raw.DataAttributes["data-testid"])
	assert.Equal(t, "maria.silva Maria Silva", raw.ParentText)
	assert.Len(t, raw.SiblingText, 2)
	assert.True(t, raw.Geometry.Visible())

	_, err = decodeSignals([]byte(`{"text": `))
	assert.Error(t, err)
}

func TestScopedSelector(t *testing.T) {
	tests := []struct {
		container, candidate, want string
	}{
		{"", "button", "button"},
		{"div[role='dialog']", "button", "div[role='dialog'] button"},
		{"#list", "button, a[role='button']", "#list button, #list a[role='button']"},
		{"#list", ":is(a, button)", "#list :is(a, button)"},
		{"#list", "a[title='a, b'], button:not(.x, .y)", "#list a[title='a, b'], #list button:not(.x, .y)"},
		{"#a, #b", "button", "#a button, #b button"},
		{"  ", "button", "button"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, scopedSelector(tt.container, tt.candidate))
	}
}

func TestSplitSelectorList(t *testing.T) {
	assert.Equal(t, []string{":is(a, button)", "li"}, splitSelectorList(" :is(a, button) ,li,"))
	assert.Equal(t, []string{`a[title="x,y"]`}, splitSelectorList(`a[title="x,y"]`))
	assert.Empty(t, splitSelectorList(""))
}

func TestQuoteEscapes(t *testing.T) {
	assert.Equal(t, `"li, div[role='row']"`, quote("li, div[role='row']"))
	assert.Equal(t, `"a\"b"`, quote(`a"b`))
}

// -- Source --

func TestSource_Enumerate(t *testing.T) {
	d := &mockDriver{}
	d.On("QueryNodes", "div[role='dialog'] button").
		Return([]*cdp.Node{{BackendNodeID: 11}, nil, {BackendNodeID: 0}, {BackendNodeID: 12}}, nil).Once()
	s, _ := newTestSource(t, d)

	handles, err := s.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, handles, 2)
	assert.Equal(t, "node-11", handles[0].HandleID())
	assert.Equal(t, Handle{ID: 12}, handles[1])
	d.AssertExpectations(t)
}

func TestSource_EnumerateError(t *testing.T) {
	d := &mockDriver{}
	d.On("QueryNodes", mock.Anything).Return(nil, errors.New("target closed")).Once()
	s, _ := newTestSource(t, d)

	_, err := s.Enumerate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query candidates")
}

func TestSource_ReadSignals(t *testing.T) {
	d := &mockDriver{}
	d.On("CallOnNode", cdp.BackendNodeID(11), mock.MatchedBy(func(fn string) bool {
		return strings.Contains(fn, `el.closest("li, div[role='listitem']")`)
	})).Return([]byte(rowPayload), nil).Once()
	s, _ := newTestSource(t, d)

	raw, err := s.ReadSignals(context.Background(), Handle{ID: 11})
	require.NoError(t, err)
	assert.Equal(t, "Seguir", raw.Text)
	d.AssertExpectations(t)
}

func TestSource_ForeignHandle(t *testing.T) {
	s, _ := newTestSource(t, &mockDriver{})
	_, err := s.ReadSignals(context.Background(), foreign("x"))
	assert.ErrorContains(t, err, "foreign element handle")
}

type foreign string

func (f foreign) HandleID() string { return string(f) }

func TestSource_IsVisible(t *testing.T) {
	d := &mockDriver{}
	d.On("CallOnNode", cdp.BackendNodeID(1), geometryProbe).Return([]byte(`{"width": 80, "height": 30, "hidden": false}`), nil).Once()
	d.On("CallOnNode", cdp.BackendNodeID(2), geometryProbe).Return([]byte(`{"width": 80, "height": 30, "hidden": true}`), nil).Once()
	d.On("CallOnNode", cdp.BackendNodeID(3), geometryProbe).Return([]byte(`{"width": 0, "height": 0, "hidden": false}`), nil).Once()
	s, _ := newTestSource(t, d)

	for id, want := range map[cdp.BackendNodeID]bool{1: true, 2: false, 3: false} {
		got, err := s.IsVisible(context.Background(), Handle{ID: id})
		require.NoError(t, err)
		assert.Equal(t, want, got, "node %d", id)
	}
}

func TestSource_TriggerGesture(t *testing.T) {
	d := &mockDriver{}
	d.On("CallOnNode", cdp.BackendNodeID(5), boxProbe).Return([]byte(`{"x": 100, "y": 200, "width": 80, "height": 32}`), nil).Once()
	s, clock := newTestSource(t, d)

	require.NoError(t, s.Trigger(context.Background(), Handle{ID: 5}))

	require.GreaterOrEqual(t, len(d.events), 14, "at least 12 moves plus press and release")
	n := len(d.events)
	press, release := d.events[n-2], d.events[n-1]
	assert.Equal(t, input.MousePressed, press.Type)
	assert.Equal(t, input.MouseReleased, release.Type)
	assert.Equal(t, input.Left, press.Button)
	for _, e := range d.events[:n-2] {
		assert.Equal(t, input.MouseMoved, e.Type)
	}

	last := d.events[n-3]
	assert.Equal(t, press.X, last.X, "pointer rests on the click point")
	assert.Equal(t, press.Y, last.Y)
	assert.InDelta(t, 140, press.X, 20, "click stays in the middle of the box")
	assert.InDelta(t, 216, press.Y, 8)
	assert.Greater(t, clock.TotalSlept(), 700*time.Millisecond)
}

func TestSource_TriggerWithoutBox(t *testing.T) {
	d := &mockDriver{}
	d.On("CallOnNode", cdp.BackendNodeID(5), boxProbe).Return([]byte(`{"x": 0, "y": 0, "width": 0, "height": 0}`), nil).Once()
	s, _ := newTestSource(t, d)

	err := s.Trigger(context.Background(), Handle{ID: 5})
	assert.ErrorIs(t, err, ErrNotClickable)
	assert.Empty(t, d.events)
}

func TestSource_ScrollForMore(t *testing.T) {
	d := &mockDriver{}
	var expr string
	d.On("Evaluate", mock.Anything).Run(func(args mock.Arguments) {
		expr = args.String(0)
	}).Return([]byte(`true`), nil).Once()
	s, _ := newTestSource(t, d)

	require.NoError(t, s.ScrollForMore(context.Background()))
	assert.Contains(t, expr, `const sel = "div[role='dialog']";`)

	var amount int
	for _, line := range strings.Split(expr, "\n") {
		if strings.Contains(line, "const dy = ") {
			_, err := fmt.Sscanf(strings.TrimSpace(line), "const dy = %d;", &amount)
			require.NoError(t, err)
		}
	}
	assert.GreaterOrEqual(t, amount, 300)
	assert.LessOrEqual(t, amount, 700)
}

func TestSource_ScrollRateLimited(t *testing.T) {
	d := &mockDriver{}
	d.On("Evaluate", mock.Anything).Return([]byte(`false`), nil)
	opts := testOptions()
	opts.ScrollRate = 0.001
	s := NewSource(d, opts, humanoid.NewTestPacer(humanoid.NewFakeClock(time.Now()), 1))

	require.NoError(t, s.ScrollForMore(context.Background()), "the first scroll uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, s.ScrollForMore(ctx), "the second scroll would wait far past the deadline")
	d.AssertNumberOfCalls(t, "Evaluate", 1)
}

// -- Gesture Geometry --

func TestPointerPath(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	start, end := point{0, 0}, point{300, 120}

	path := pointerPath(rng, start, end, 20)
	require.Len(t, path, 20)
	assert.InDelta(t, 0, path[0].dist(start), 1e-9)
	assert.Equal(t, end, path[19])

	assert.Equal(t, []point{end}, pointerPath(rng, end, end, 20), "no travel needed")
}

func TestClickTargetInsideBox(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := box{X: 10, Y: 20, Width: 100, Height: 40}
	for i := 0; i < 200; i++ {
		p := clickTarget(rng, b)
		assert.True(t, p.X >= 35 && p.X <= 85 && p.Y >= 30 && p.Y <= 50, "point %v", p)
	}
}

// -- Context Helpers --

func TestCombineContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	type key struct{}
	primary := context.WithValue(context.Background(), key{}, "tab")
	secondary, cancelSecondary := context.WithCancel(context.Background())

	ctx, cancel := combineContext(primary, secondary)
	defer cancel()
	assert.Equal(t, "tab", ctx.Value(key{}), "values come from the primary")
	assert.NoError(t, ctx.Err())

	cancelSecondary()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context not cancelled with the secondary")
	}
}

func TestPickTarget(t *testing.T) {
	own := &chromedp.Target{TargetID: "helper"}
	targets := []*target.Info{
		{TargetID: "sw", Type: "service_worker", URL: "https://www.instagram.com/sw.js"},
		{TargetID: "helper", Type: "page", URL: "about:blank"},
		{TargetID: "feed", Type: "page", URL: "https://www.instagram.com/"},
		{TargetID: "list", Type: "page", URL: "https://www.instagram.com/someone/followers/"},
	}

	assert.Equal(t, target.ID("feed"), pickTarget(targets, own, "").TargetID)
	assert.Equal(t, target.ID("list"), pickTarget(targets, own, "/followers").TargetID)
	assert.Nil(t, pickTarget(targets, own, "example.org"))
}

func TestConnect_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, connect(ctx, context.Background()), context.Canceled)
}
