package document

import "sync/atomic"

// Appearance answers the system dark-mode media query.
type Appearance interface {
	PrefersDark() bool
}

// StaticAppearance is an Appearance whose answer can be changed at runtime.
type StaticAppearance struct {
	dark atomic.Bool
}

func NewStaticAppearance(dark bool) *StaticAppearance {
	a := &StaticAppearance{}
	a.dark.Store(dark)
	return a
}

func (a *StaticAppearance) PrefersDark() bool {
	return a.dark.Load()
}

func (a *StaticAppearance) SetPrefersDark(dark bool) {
	a.dark.Store(dark)
}
