// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package server

import (
	"strconv"
	"strings"
)

const pageStyle = `
mark[data-annotation-ids] { background: #fff3b0; cursor: pointer; border-bottom: 2px solid #f0c419; }
.am-popover, .am-panel, .am-tip { position: absolute; z-index: 1000; background: #fff; border: 1px solid #ddd; border-radius: 6px; box-shadow: 0 4px 12px rgba(0,0,0,0.15); font: 14px -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; }
.am-popover { padding: 8px; transform: translate(-50%, -110%); }
.am-popover textarea, .am-panel textarea { width: 260px; min-height: 60px; }
.am-tip { padding: 4px 8px; max-width: 280px; transform: translate(-50%, -110%); pointer-events: none; }
.am-panel { width: 320px; }
.am-panel header { padding: 6px 10px; background: #f8f9fa; cursor: move; font-style: italic; border-bottom: 1px solid #eee; }
.am-panel li { list-style: none; padding: 6px 10px; border-bottom: 1px solid #f0f0f0; white-space: pre-wrap; }
.am-panel button { margin-left: 6px; font-size: 12px; }
`

const pageScript = `
(function() {
	var CONTEXT = __CONTEXT__, MIN = __MIN__;
	var root = document.querySelector('[data-annotate-root]') || document.body;
	var skip = { SCRIPT: 1, STYLE: 1, TEMPLATE: 1, NOSCRIPT: 1, TEXTAREA: 1, TITLE: 1, XMP: 1, IFRAME: 1, NOEMBED: 1, NOFRAMES: 1, PLAINTEXT: 1 };

	function excluded(n) {
		for (; n && n !== root.parentNode; n = n.parentNode) {
			if (n.nodeType !== 1) continue;
			if (skip[n.tagName] || n.hasAttribute('data-no-annotate') || n.hasAttribute('data-no-suggestions')) return true;
		}
		return false;
	}

	function offsetOf(node, off) {
		var walker = document.createTreeWalker(root, NodeFilter.SHOW_TEXT), n, count = 0;
		if (node.nodeType !== 3) {
			var r = document.createRange();
			r.setStart(node, off);
			while ((n = walker.nextNode())) {
				if (r.comparePoint(n, 0) >= 0) return count;
				if (!excluded(n)) count += n.data.length;
			}
			return count;
		}
		while ((n = walker.nextNode())) {
			if (n === node) return count + (excluded(n) ? 0 : off);
			if (!excluded(n)) count += n.data.length;
		}
		return count;
	}

	function plainText() {
		var walker = document.createTreeWalker(root, NodeFilter.SHOW_TEXT), n, out = '';
		while ((n = walker.nextNode())) if (!excluded(n)) out += n.data;
		return out;
	}

	function api(method, url, body) {
		return fetch(url, {
			method: method,
			headers: { 'Content-Type': 'application/json' },
			body: body ? JSON.stringify(body) : undefined
		}).then(function(res) {
			if (!res.ok) return res.text().then(function(t) { throw new Error(t); });
			return res.status === 204 ? null : res.json();
		});
	}

	function box(cls, x, y) {
		var el = document.createElement('div');
		el.className = cls;
		el.setAttribute('data-no-annotate', '');
		var rr = root.getBoundingClientRect();
		el.style.left = (rr.left + window.scrollX + x) + 'px';
		el.style.top = (rr.top + window.scrollY + y) + 'px';
		document.body.appendChild(el);
		return el;
	}

	var popover = null, panel = null, tip = null;

	root.addEventListener('mouseup', function(e) {
		if (popover && popover.contains(e.target)) return;
		var sel = window.getSelection();
		if (!sel || sel.isCollapsed || sel.rangeCount === 0) {
			if (popover) { popover.remove(); popover = null; }
			return;
		}
		var range = sel.getRangeAt(0);
		if (excluded(range.startContainer)) return;
		var text = plainText();
		var start = offsetOf(range.startContainer, range.startOffset);
		var end = offsetOf(range.endContainer, range.endOffset);
		var raw = text.slice(start, end);
		start += raw.length - raw.replace(/^\s+/, '').length;
		var selected = raw.trim();
		if (selected.length < MIN) return;
		end = start + selected.length;

		var rect = range.getBoundingClientRect(), rr = root.getBoundingClientRect();
		if (popover) popover.remove();
		popover = box('am-popover', rect.left - rr.left + rect.width / 2, rect.top - rr.top);
		var input = document.createElement('textarea');
		input.placeholder = 'Add a note';
		var save = document.createElement('button');
		save.textContent = 'Save';
		popover.appendChild(input);
		popover.appendChild(save);
		input.focus();

		function submit() {
			var note = input.value.trim();
			if (!note) return;
			api('POST', '/api/annotations', {
				selectedText: selected,
				prefix: text.slice(Math.max(0, start - CONTEXT), start),
				suffix: text.slice(end, end + CONTEXT),
				note: note
			}).then(function() { window.getSelection().removeAllRanges(); location.reload(); });
		}
		save.addEventListener('click', submit);
		input.addEventListener('keydown', function(ev) {
			if (ev.key === 'Enter' && !ev.shiftKey) { ev.preventDefault(); submit(); }
		});
	});

	function markerOf(el) {
		return el && el.closest ? el.closest('mark[data-annotation-ids]') : null;
	}

	root.addEventListener('mouseover', function(e) {
		var m = markerOf(e.target);
		if (!m || panel) return;
		var id = m.getAttribute('data-annotation-ids').split(' ')[0];
		api('GET', '/api/markers/' + id + '/preview').then(function(p) {
			var r = m.getBoundingClientRect(), rr = root.getBoundingClientRect();
			if (tip) tip.remove();
			tip = box('am-tip', r.left - rr.left + r.width / 2, r.top - rr.top);
			if (p.html) tip.innerHTML = p.html; else tip.textContent = p.text;
		});
	});

	root.addEventListener('mouseout', function(e) {
		if (markerOf(e.target) && tip) { tip.remove(); tip = null; }
	});

	document.addEventListener('click', function(e) {
		var m = markerOf(e.target);
		if (panel && !panel.contains(e.target) && !m) { panel.remove(); panel = null; return; }
		if (!m) return;
		var ids = m.getAttribute('data-annotation-ids').split(' ');
		api('GET', '/api/annotations').then(function(all) {
			var notes = all.filter(function(a) { return ids.indexOf(a.id) >= 0; });
			if (!notes.length) return;
			var r = m.getBoundingClientRect(), rr = root.getBoundingClientRect();
			if (panel) panel.remove();
			if (tip) { tip.remove(); tip = null; }
			panel = box('am-panel', r.left - rr.left, r.bottom - rr.top + 8);
			var header = document.createElement('header');
			var sel = notes[0].selectedText;
			header.textContent = sel.length > 60 ? sel.slice(0, 60) + '…' : sel;
			panel.appendChild(header);
			var list = document.createElement('ul');
			notes.forEach(function(a) {
				var li = document.createElement('li');
				li.textContent = a.note;
				var edit = document.createElement('button'), del = document.createElement('button');
				edit.textContent = 'Edit';
				del.textContent = 'Remove';
				edit.addEventListener('click', function() {
					var ta = document.createElement('textarea');
					ta.value = a.note;
					li.textContent = '';
					li.appendChild(ta);
					ta.focus();
					ta.addEventListener('keydown', function(ev) {
						if (ev.key === 'Escape') { location.reload(); }
						if (ev.key === 'Enter' && !ev.shiftKey && !ev.ctrlKey && !ev.metaKey && !ev.altKey) {
							ev.preventDefault();
							api('PATCH', '/api/annotations/' + a.id, { note: ta.value }).then(function() { location.reload(); });
						}
					});
				});
				del.addEventListener('click', function() {
					api('DELETE', '/api/annotations/' + a.id).then(function() { location.reload(); });
				});
				li.appendChild(edit);
				li.appendChild(del);
				list.appendChild(li);
			});
			panel.appendChild(list);

			var drag = null;
			header.addEventListener('pointerdown', function(ev) {
				if (ev.target.closest('button, textarea')) return;
				drag = { x: ev.clientX, y: ev.clientY, left: panel.offsetLeft, top: panel.offsetTop };
				header.setPointerCapture(ev.pointerId);
			});
			header.addEventListener('pointermove', function(ev) {
				if (!drag) return;
				panel.style.left = (drag.left + ev.clientX - drag.x) + 'px';
				panel.style.top = (drag.top + ev.clientY - drag.y) + 'px';
			});
			header.addEventListener('pointerup', function() { drag = null; });
		});
	});
})();
`

// script returns pageScript with the anchoring settings filled in.
func script(contextLen, minLen int) string {
	return strings.NewReplacer(
		"__CONTEXT__", strconv.Itoa(contextLen),
		"__MIN__", strconv.Itoa(minLen),
	).Replace(pageScript)
}
