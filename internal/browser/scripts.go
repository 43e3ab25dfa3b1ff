package browser

import "github.com/polzovatel/browser-pilot/internal/discovery"

// typeTarget is the result of focusTargetScript.
type typeTarget struct {
	Count    int                   `json:"count"`
	Viewport discovery.Viewport    `json:"viewport"`
	Elements []discovery.Candidate `json:"elements"`
	Editable bool                  `json:"editable"`
	Focused  bool                  `json:"focused"`
}

type focusArg struct {
	Selector string `json:"selector"`
	Limit    int    `json:"limit"`
}

// focusTargetScript counts the matches of arg.selector. With exactly one
// editable match it focuses the element and moves the caret to the end.
const focusTargetScript = `(arg) => {` + discovery.HelpersJS + `
	const blocked = ['button', 'submit', 'reset', 'checkbox', 'radio', 'file', 'image', 'hidden', 'range', 'color'];
	const isEditable = (el) => {
		const tag = el.tagName.toLowerCase();
		if (tag === 'input') {
			if (blocked.includes((el.type || 'text').toLowerCase())) return false;
			return !el.readOnly && !el.disabled;
		}
		if (tag === 'textarea') return !el.readOnly && !el.disabled;
		if (el.isContentEditable) return true;
		const role = (el.getAttribute('role') || '').toLowerCase();
		return role === 'textbox' || role === 'searchbox' || role === 'combobox';
	};
	const all = Array.from(document.querySelectorAll(arg.selector));
	if (all.length !== 1) {
		return { count: all.length, viewport: viewport(), elements: all.slice(0, arg.limit).map((el) => describe(el)) };
	}
	const el = all[0];
	if (!isEditable(el)) {
		return { count: 1, viewport: viewport(), elements: [describe(el)], editable: false };
	}
	el.scrollIntoView({ block: 'center', inline: 'center' });
	el.focus();
	if (typeof el.value === 'string' && typeof el.setSelectionRange === 'function') {
		try {
			const n = el.value.length;
			el.setSelectionRange(n, n);
		} catch (e) {}
	} else if (el.isContentEditable) {
		const range = document.createRange();
		range.selectNodeContents(el);
		range.collapse(false);
		const sel = window.getSelection();
		sel.removeAllRanges();
		sel.addRange(range);
	}
	const active = document.activeElement;
	return {
		count: 1,
		viewport: viewport(),
		elements: [describe(el)],
		editable: true,
		focused: active === el || el.contains(active),
	};
}`

type chainArg struct {
	Selector string `json:"selector"`
	Scroll   bool   `json:"scroll"`
}
