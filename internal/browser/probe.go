// File: internal/browser/probe.go
package browser

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/cadence/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// signalsProbe reads every signal the classifier consumes in one round trip.
// The row text excludes the element's own subtree so it survives a label
// change. The single verb is the row selector.
const signalsProbe = `function() {
	const el = this;
	const clean = s => (s || '').replace(/\s+/g, ' ').trim();
	const row = el.closest(%s) || el.parentElement;
	const parts = [];
	if (row) {
		const walker = document.createTreeWalker(row, NodeFilter.SHOW_TEXT);
		while (walker.nextNode()) {
			if (!el.contains(walker.currentNode)) parts.push(walker.currentNode.textContent);
		}
	}
	const siblingText = [];
	if (el.parentElement) {
		for (const child of el.parentElement.children) {
			if (child === el) continue;
			const t = clean(child.innerText);
			if (t) siblingText.push(t);
			if (siblingText.length >= 5) break;
		}
	}
	const data = {};
	for (const attr of el.attributes) {
		if (attr.name.startsWith('data-')) data[attr.name] = attr.value;
	}
	return {
		text: clean(el.innerText),
		nestedText: clean(el.textContent),
		ariaLabel: el.getAttribute('aria-label') || '',
		title: el.getAttribute('title') || '',
		classes: Array.from(el.classList),
		data: data,
		parentText: clean(parts.join(' ')),
		siblingText: siblingText,
		geometry: geometryOf(el),
	};
	function geometryOf(node) {
		const r = node.getBoundingClientRect();
		const cs = getComputedStyle(node);
		return {
			width: r.width,
			height: r.height,
			hidden: !node.isConnected || cs.display === 'none' || cs.visibility === 'hidden' || cs.opacity === '0',
		};
	}
}`

const geometryProbe = `function() {
	const r = this.getBoundingClientRect();
	const cs = getComputedStyle(this);
	return {
		width: r.width,
		height: r.height,
		hidden: !this.isConnected || cs.display === 'none' || cs.visibility === 'hidden' || cs.opacity === '0',
	};
}`

// boxProbe centers the element in the viewport and reports its box.
const boxProbe = `function() {
	this.scrollIntoView({block: 'center', inline: 'center'});
	const r = this.getBoundingClientRect();
	return {x: r.left, y: r.top, width: r.width, height: r.height};
}`

// scrollScript scrolls the first scrollable element inside the container by
// the given amount, falling back to the window. Verbs: amount, selector.
const scrollScript = `(() => {
	const dy = %d;
	const sel = %s;
	const scrollable = el => el && el.scrollHeight > el.clientHeight + 1;
	const root = sel ? document.querySelector(sel) : null;
	let target = null;
	if (root) {
		target = scrollable(root) ? root : Array.from(root.querySelectorAll('*')).find(scrollable) || null;
	}
	if (target) {
		target.scrollBy(0, dy);
		return true;
	}
	window.scrollBy(0, dy);
	return false;
})()`

type box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b box) center() point {
	return point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

func quote(s string) string {
	out, err := json.MarshalToString(s)
	if err != nil {
		return `""`
	}
	return out
}

func signalsFunction(rowSelector string) string {
	return fmt.Sprintf(signalsProbe, quote(rowSelector))
}

func scrollExpression(amount int, container string) string {
	return fmt.Sprintf(scrollScript, amount, quote(container))
}

func decodeSignals(payload []byte) (schemas.RawSignals, error) {
	var raw schemas.RawSignals
	if err := json.Unmarshal(payload, &raw); err != nil {
		return schemas.RawSignals{}, fmt.Errorf("decode signals payload: %w", err)
	}
	return raw, nil
}

func decodeGeometry(payload []byte) (schemas.Geometry, error) {
	var g schemas.Geometry
	if err := json.Unmarshal(payload, &g); err != nil {
		return schemas.Geometry{}, fmt.Errorf("decode geometry payload: %w", err)
	}
	return g, nil
}

func decodeBox(payload []byte) (box, error) {
	var b box
	if err := json.Unmarshal(payload, &b); err != nil {
		return box{}, fmt.Errorf("decode box payload: %w", err)
	}
	return b, nil
}
