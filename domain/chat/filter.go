package chat

import (
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Filter is an immutable predicate over the event type, and optionally the
// custom type of custom events. The zero Filter matches every event.
type Filter struct {
	types       map[EventType]struct{}
	customTypes map[string]struct{}
}

// AllEvents matches everything.
var AllEvents = Filter{}

func NewFilter(types ...EventType) Filter {
	if len(types) == 0 {
		return Filter{}
	}
	set := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return Filter{types: set}
}

// WithCustomTypes returns a copy of the filter that also accepts custom
// events whose custom type is listed.
func (f Filter) WithCustomTypes(customTypes ...string) Filter {
	set := make(map[string]struct{}, len(f.customTypes)+len(customTypes))
	for t := range f.customTypes {
		set[t] = struct{}{}
	}
	for _, t := range customTypes {
		set[t] = struct{}{}
	}
	return Filter{types: f.types, customTypes: set}
}

func (f Filter) Match(e Event) bool {
	if len(f.types) == 0 && len(f.customTypes) == 0 {
		return true
	}
	if e.Type == CustomEvent && len(f.customTypes) > 0 {
		_, ok := f.customTypes[e.CustomType]
		return ok
	}
	_, ok := f.types[e.Type]
	return ok
}

// Apply keeps the matching events in their original order.
// The result is never nil, an all-excluded batch yields an empty slice.
func (f Filter) Apply(events []Event) []Event {
	return lo.Filter(events, func(e Event, _ int) bool {
		return f.Match(e)
	})
}

// ApplyTo filters the events of a delivery. Failed deliveries pass through.
func (f Filter) ApplyTo(d Delivery) Delivery {
	if d.Failed() {
		return d
	}
	d.Events = f.Apply(d.Events)
	return d
}

func (f Filter) String() string {
	if len(f.types) == 0 && len(f.customTypes) == 0 {
		return "*"
	}
	parts := lo.Map(lo.Keys(f.types), func(t EventType, _ int) string { return string(t) })
	for ct := range f.customTypes {
		parts = append(parts, "custom:"+ct)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
