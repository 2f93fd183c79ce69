package finder

import "fmt"

// candidateScript returns the in-page candidate-harvesting walk used by
// Find. It mirrors domserialize's walk shape (return {metaJSON, elements})
// so the same domutil.ResolveBackendIDs call resolves backend node ids for
// both packages (spec §4.9's "backend-id resolution").
func candidateScript(query string) string {
	return fmt.Sprintf(`(function() {
  var SKIP = {SCRIPT:1,STYLE:1,SVG:1,NOSCRIPT:1,META:1,LINK:1,HEAD:1};
  var INTERACTIVE_TAGS = {INPUT:1,BUTTON:1,SELECT:1,TEXTAREA:1,A:1};
  var INTERACTIVE_ROLES = {button:1,link:1,textbox:1,checkbox:1,radio:1,combobox:1,listbox:1,menu:1,menuitem:1,tab:1,switch:1,slider:1,option:1,treeitem:1};
  var EXTRA_SELECTOR = '[onclick],[tabindex],[data-testid],[role="dialog"] *';
  var MAX_CANDIDATES = 30;
  var query = %s;
  var qLower = query.toLowerCase();

  var seen = new Set();
  var candidates = [];
  var elements = [];

  function accessibleName(el) {
    var label = el.getAttribute('aria-label');
    if (label) return label;
    var labelledby = el.getAttribute('aria-labelledby');
    if (labelledby) {
      var parts = labelledby.split(/\s+/).map(function(id) {
        var t = document.getElementById(id);
        return t ? t.textContent : '';
      });
      var joined = parts.join(' ').trim();
      if (joined) return joined;
    }
    return '';
  }

  function isInteractive(el) {
    if (INTERACTIVE_TAGS[el.tagName]) return true;
    var role = el.getAttribute('role');
    return !!(role && INTERACTIVE_ROLES[role.toLowerCase()]);
  }

  function visible(rect, style) {
    if (rect.width <= 0 || rect.height <= 0) return false;
    if (style.visibility === 'hidden' || style.display === 'none' || style.opacity === '0') return false;
    return true;
  }

  function combinedText(el, name) {
    var text = (el.textContent || '').trim().slice(0, 200);
    return [name, text, el.getAttribute('aria-label') || '', el.getAttribute('placeholder') || '']
      .join(' ').toLowerCase();
  }

  function matchesQuery(combined) {
    if (!combined) return false;
    if (combined.indexOf(qLower) !== -1) return true;
    var tokens = qLower.split(/\s+/).filter(function(t) { return t.length > 1; });
    for (var i = 0; i < tokens.length; i++) {
      if (combined.indexOf(tokens[i]) !== -1) return true;
    }
    return false;
  }

  function consider(el) {
    if (!el || el.nodeType !== 1 || seen.has(el)) return;
    if (SKIP[el.tagName]) return;
    seen.add(el);

    var rect = el.getBoundingClientRect();
    var style = window.getComputedStyle(el);
    if (!visible(rect, style)) return;

    var name = accessibleName(el);
    var combined = combinedText(el, name);
    var interactive = isInteractive(el);
    if (!interactive && !matchesQuery(combined)) return;

    if (candidates.length >= MAX_CANDIDATES) return;

    candidates.push({
      role: el.getAttribute('role') || '',
      name: name,
      tag: el.tagName.toLowerCase(),
      inputType: el.getAttribute('type') || '',
      placeholder: el.getAttribute('placeholder') || '',
      ariaLabel: el.getAttribute('aria-label') || '',
      textPrefix: (el.textContent || '').trim().replace(/\s+/g, ' ').slice(0, 50),
      combined: combined,
      x: rect.left + rect.width / 2,
      y: rect.top + rect.height / 2,
      width: rect.width,
      height: rect.height
    });
    elements.push(el);
  }

  var nodes = document.querySelectorAll('a,button,input,select,textarea,' + EXTRA_SELECTOR);
  for (var i = 0; i < nodes.length && candidates.length < MAX_CANDIDATES; i++) consider(nodes[i]);

  if (candidates.length < MAX_CANDIDATES) {
    var walker = document.createTreeWalker(document.body || document.documentElement, NodeFilter.SHOW_ELEMENT);
    var node;
    while ((node = walker.nextNode()) && candidates.length < MAX_CANDIDATES) consider(node);
  }

  return { metaJSON: JSON.stringify(candidates), elements: elements };
})()`, jsStringLiteral(query))
}

func jsStringLiteral(s string) string {
	out := "\""
	for _, r := range s {
		switch r {
		case '\\':
			out += `\\`
		case '"':
			out += `\"`
		case '\n':
			out += `\n`
		default:
			out += string(r)
		}
	}
	return out + "\""
}
