package domdelta

// installScript installs (after disconnecting any prior instance) a
// MutationObserver recording the filtered change set described in spec
// §4.10, stored on a well-known window slot so collectScript can read it
// back after the wrapped action runs.
const installScript = `(function() {
  var SKIP = {SCRIPT:1,STYLE:1,LINK:1,META:1,NOSCRIPT:1};
  var WATCHED_ATTRS = {class:1,style:1,hidden:1,disabled:1,'aria-expanded':1,'aria-hidden':1,open:1,checked:1,value:1,src:1,href:1};
  var ANIMATION_RE = /animate|fade|slide|transition|entering|leaving|active|ng-|v-/;
  var MAX_MUTATIONS = 15;
  var SLOT = '__openchrome_delta__';

  if (window[SLOT] && window[SLOT].observer) {
    try { window[SLOT].observer.disconnect(); } catch (e) {}
  }

  function textPreview(el) {
    return (el.textContent || '').trim().replace(/\s+/g, ' ').slice(0, 40);
  }

  function classDiffIsAnimationOnly(oldVal, newVal) {
    var oldSet = (oldVal || '').split(/\s+/).filter(Boolean);
    var newSet = (newVal || '').split(/\s+/).filter(Boolean);
    var oldS = new Set(oldSet), newS = new Set(newSet);
    var changed = [];
    oldSet.forEach(function(c) { if (!newS.has(c)) changed.push(c); });
    newSet.forEach(function(c) { if (!oldS.has(c)) changed.push(c); });
    if (changed.length === 0) return true;
    return changed.every(function(c) { return ANIMATION_RE.test(c); });
  }

  var state = {
    mutations: [],
    initial: { url: location.href, title: document.title, scrollX: window.scrollX, scrollY: window.scrollY }
  };

  var observer = new MutationObserver(function(records) {
    for (var i = 0; i < records.length && state.mutations.length < MAX_MUTATIONS; i++) {
      var r = records[i];
      if (r.type === 'childList') {
        r.addedNodes.forEach(function(n) {
          if (state.mutations.length >= MAX_MUTATIONS) return;
          if (n.nodeType !== 1 || SKIP[n.tagName]) return;
          state.mutations.push({ kind: 'add', tag: n.tagName.toLowerCase(), role: n.getAttribute && n.getAttribute('role') || '', text: textPreview(n) });
        });
        r.removedNodes.forEach(function(n) {
          if (state.mutations.length >= MAX_MUTATIONS) return;
          if (n.nodeType !== 1 || SKIP[n.tagName]) return;
          state.mutations.push({ kind: 'remove', tag: n.tagName.toLowerCase(), role: n.getAttribute && n.getAttribute('role') || '', text: textPreview(n) });
        });
      } else if (r.type === 'attributes') {
        var target = r.target;
        if (target.nodeType !== 1 || SKIP[target.tagName]) continue;
        var attr = r.attributeName;
        if (!WATCHED_ATTRS[attr]) continue;
        var newVal = target.getAttribute(attr);
        if (attr === 'class' && classDiffIsAnimationOnly(r.oldValue, newVal)) continue;
        state.mutations.push({
          kind: 'attr', tag: target.tagName.toLowerCase(), id: target.id || '',
          attr: attr, oldValue: r.oldValue, newValue: newVal
        });
      }
    }
  });

  observer.observe(document.documentElement, {
    childList: true, subtree: true, attributes: true, attributeOldValue: true,
    attributeFilter: Object.keys(WATCHED_ATTRS)
  });

  window[SLOT] = { observer: observer, state: state };
  return true;
})()`

// collectScript disconnects the observer and returns its recorded state
// plus the final url/title/scroll for delta computation.
const collectScript = `(function() {
  var SLOT = '__openchrome_delta__';
  var rec = window[SLOT];
  if (!rec) return { mutations: [], initial: {}, final: {} };
  try { rec.observer.disconnect(); } catch (e) {}
  var final = { url: location.href, title: document.title, scrollX: window.scrollX, scrollY: window.scrollY };
  delete window[SLOT];
  return { mutations: rec.state.mutations, initial: rec.state.initial, final: final };
})()`
