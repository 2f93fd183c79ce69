package domserialize

import "fmt"

// walkScript returns the in-page tree-walk used by Serialize. It runs once
// per call and returns {statsJSON, metaJSON, elements}: the first two are
// JSON-encoded primitives readable straight off the returned object's own
// properties, the third is a live array of the matching DOM elements (or
// null at iframe-separator slots) so their backend node ids can be resolved
// in a single batched domutil.ResolveBackendIDs call.
func walkScript(maxDepth int, pierceIframes, interactiveOnly bool) string {
	return fmt.Sprintf(`(function() {
  var SKIP = {SCRIPT:1,STYLE:1,SVG:1,NOSCRIPT:1,META:1,LINK:1,HEAD:1};
  var KEEP_ATTRS = ["id","name","type","value","placeholder","aria-label","role","href","src","alt","title","data-testid","disabled","checked","selected","required","class"];
  var INTERACTIVE_TAGS = {INPUT:1,BUTTON:1,SELECT:1,TEXTAREA:1,A:1};
  var INTERACTIVE_ROLES = {button:1,link:1,textbox:1,checkbox:1,radio:1,combobox:1,listbox:1,menu:1,menuitem:1,tab:1,switch:1,slider:1};
  var pierceIframes = %t;
  var interactiveOnly = %t;
  var maxDepth = %d;

  var meta = [];
  var elements = [];

  function isInteractive(el) {
    if (INTERACTIVE_TAGS[el.tagName]) return true;
    var role = el.getAttribute('role');
    return !!(role && INTERACTIVE_ROLES[role.toLowerCase()]);
  }

  function directText(el) {
    var parts = [];
    for (var i = 0; i < el.childNodes.length; i++) {
      var n = el.childNodes[i];
      if (n.nodeType === 3) parts.push(n.textContent);
    }
    return parts.join(' ').trim().replace(/\s+/g, ' ').slice(0, 200);
  }

  function attrsFor(el) {
    var out = {};
    for (var i = 0; i < KEEP_ATTRS.length; i++) {
      var a = KEEP_ATTRS[i];
      if (el.hasAttribute(a)) out[a] = el.getAttribute(a);
    }
    return out;
  }

  function visit(el, depth) {
    if (!el || el.nodeType !== 1) return;
    var tag = el.tagName;
    if (SKIP[tag]) return;
    if (tag === '#comment') return;

    var interactive = isInteractive(el);
    if (!interactiveOnly || interactive) {
      meta.push({
        depth: depth, tag: tag.toLowerCase(), attrs: attrsFor(el),
        text: directText(el), interactive: interactive, iframeSrc: null
      });
      elements.push(el);
    }

    if (pierceIframes && tag === 'IFRAME') {
      var src = el.getAttribute('src') || '';
      var cdoc = null;
      try { cdoc = el.contentDocument; } catch (e) {}
      meta.push({ depth: depth, tag: '--iframe-separator--', attrs: {}, text: '', interactive: false, iframeSrc: src });
      elements.push(null);
      if (cdoc && (maxDepth < 0 || depth + 1 <= maxDepth)) {
        var croot = cdoc.documentElement;
        if (croot) visit(croot, depth + 1);
      }
      return;
    }

    if (maxDepth >= 0 && depth + 1 > maxDepth) return;
    for (var i = 0; i < el.children.length; i++) visit(el.children[i], depth + 1);
  }

  var docRoot = document.documentElement;
  if (docRoot) visit(docRoot, 0);

  var stats = {
    url: location.href,
    title: document.title,
    scrollX: window.scrollX,
    scrollY: window.scrollY,
    viewportWidth: window.innerWidth,
    viewportHeight: window.innerHeight,
    scrollWidth: document.documentElement.scrollWidth,
    scrollHeight: document.documentElement.scrollHeight
  };

  return { statsJSON: JSON.stringify(stats), metaJSON: JSON.stringify(meta), elements: elements };
})()`, pierceIframes, interactiveOnly, maxDepth)
}
