package browser

const (
	scrollBinding = "__intentSensorScroll"
	clickBinding  = "__intentSensorClick"
)

// scrollMetricsJS reads the scroll geometry of the document.
const scrollMetricsJS = `() => ({
	scrollTop: window.scrollY || document.documentElement.scrollTop || 0,
	documentHeight: Math.max(
		document.body ? document.body.scrollHeight : 0,
		document.documentElement.scrollHeight || 0),
	viewportHeight: window.innerHeight || 0,
})`

// listenersJS installs a passive scroll listener and a capture-phase click
// listener that forward to the exposed bindings. Scroll events are coalesced
// per animation frame.
const listenersJS = `() => {
	if (window.__intentSensorHooked) return true;
	window.__intentSensorHooked = true;

	const metrics = ` + scrollMetricsJS + `;
	let pending = false;
	window.addEventListener('scroll', () => {
		if (pending) return;
		pending = true;
		requestAnimationFrame(() => {
			pending = false;
			const fn = window.` + scrollBinding + `;
			if (fn) fn(metrics());
		});
	}, { passive: true });

	const describe = (el, depth) => {
		if (!el || !el.tagName || depth > 8) return null;
		return {
			tag: el.tagName.toLowerCase(),
			text: (el.innerText || el.textContent || '').trim().slice(0, 200),
			href: el.getAttribute('href') || '',
			classes: Array.from(el.classList || []),
			parent: describe(el.parentElement, depth + 1),
		};
	};
	document.addEventListener('click', (ev) => {
		const fn = window.` + clickBinding + `;
		const el = describe(ev.target, 0);
		if (fn && el) fn(el);
	}, true);
	return true;
}`

const (
	storageGetJS = `(k) => window.sessionStorage.getItem(k)`
	storageSetJS = `(k, v) => { window.sessionStorage.setItem(k, v); return true; }`
)
