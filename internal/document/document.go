// Package document models the live document the theme core writes to: the
// root element's inline custom properties, attributes and classes, plus named
// style elements and resource hints in the head.
package document

import (
	"sort"
	"strings"
	"sync"
)

// ResourceHint is a <link rel=...> hint such as prefetch.
type ResourceHint struct {
	Rel  string
	Href string
}

// StyleElement is a named <style> element.
type StyleElement struct {
	ID  string
	CSS string
}

// Document is safe for concurrent use.
type Document struct {
	mu         sync.RWMutex
	properties map[string]string
	attributes map[string]string
	classes    map[string]struct{}
	styles     map[string]string
	styleOrder []string
	hints      []ResourceHint
	hintSet    map[ResourceHint]struct{}
}

func New() *Document {
	return &Document{
		properties: make(map[string]string),
		attributes: make(map[string]string),
		classes:    make(map[string]struct{}),
		styles:     make(map[string]string),
		hintSet:    make(map[ResourceHint]struct{}),
	}
}

// SetProperty sets a custom property on the root inline style.
func (d *Document) SetProperty(name, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.properties[name] = value
}

// SetProperties sets every property in vars under one lock.
func (d *Document) SetProperties(vars map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, value := range vars {
		d.properties[name] = value
	}
}

func (d *Document) RemoveProperty(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.properties, name)
}

// Property returns the root inline value of name.
func (d *Document) Property(name string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.properties[name]
	return v, ok
}

// Properties returns a copy of the root inline custom properties.
func (d *Document) Properties() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.properties))
	for k, v := range d.properties {
		out[k] = v
	}
	return out
}

// InlineStyle renders the root inline style attribute value.
func (d *Document) InlineStyle() string {
	props := d.Properties()
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+props[name])
	}
	return strings.Join(parts, "; ")
}

func (d *Document) SetAttribute(name, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attributes[name] = value
}

func (d *Document) RemoveAttribute(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.attributes, name)
}

func (d *Document) Attribute(name string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.attributes[name]
	return v, ok
}

// Attributes returns a copy of the root attributes.
func (d *Document) Attributes() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.attributes))
	for k, v := range d.attributes {
		out[k] = v
	}
	return out
}

func (d *Document) AddClass(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.classes[name] = struct{}{}
}

func (d *Document) RemoveClass(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.classes, name)
}

func (d *Document) HasClass(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.classes[name]
	return ok
}

// Classes returns the root classes sorted.
func (d *Document) Classes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.classes))
	for name := range d.classes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SetStyleElement creates or replaces the style element with the given id.
func (d *Document) SetStyleElement(id, css string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.styles[id]; !ok {
		d.styleOrder = append(d.styleOrder, id)
	}
	d.styles[id] = css
}

func (d *Document) RemoveStyleElement(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.styles[id]; !ok {
		return
	}
	delete(d.styles, id)
	for i, existing := range d.styleOrder {
		if existing == id {
			d.styleOrder = append(d.styleOrder[:i], d.styleOrder[i+1:]...)
			break
		}
	}
}

func (d *Document) StyleElement(id string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	css, ok := d.styles[id]
	return css, ok
}

// StyleElements returns the style elements in insertion order.
func (d *Document) StyleElements() []StyleElement {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]StyleElement, 0, len(d.styleOrder))
	for _, id := range d.styleOrder {
		out = append(out, StyleElement{ID: id, CSS: d.styles[id]})
	}
	return out
}

// AddResourceHint appends a hint unless an identical one exists. It reports
// whether the hint was added.
func (d *Document) AddResourceHint(rel, href string) bool {
	hint := ResourceHint{Rel: rel, Href: href}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.hintSet[hint]; ok {
		return false
	}
	d.hintSet[hint] = struct{}{}
	d.hints = append(d.hints, hint)
	return true
}

func (d *Document) ResourceHints() []ResourceHint {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]ResourceHint(nil), d.hints...)
}
