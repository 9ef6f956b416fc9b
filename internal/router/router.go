// Package router partitions a filtered batch of candidate events into
// named recipient groups based on each event's routing key.
package router

import (
	"strings"

	"eventwatch/internal/event"
	"eventwatch/pkg/logx"
)

// InternalGroup always receives the full batch, with the routing key
// stripped so internal recipients never see the raw classification
// attribute.
const InternalGroup = "internal"

// Rule matches events into one group. Matching is a case-insensitive
// substring test against the routing key; rules are independent, so an
// event may land in several groups or in none.
type Rule struct {
	Group string
	Match string
}

// Router applies a fixed rule set for the lifetime of the process.
type Router struct {
	rules []Rule
	log   logx.Logger
}

func New(rules []Rule, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{rules: rules, log: log}
}

// Groups returns the configured group names, internal first.
func (r *Router) Groups() []string {
	out := []string{InternalGroup}
	for _, rule := range r.rules {
		out = append(out, rule.Group)
	}
	return out
}

// Partition classifies candidates into groups. Every configured group
// is present in the result, empty when nothing matched, so callers can
// iterate uniformly. The internal group holds all candidates with the
// routing key cleared.
func (r *Router) Partition(candidates []event.Event) map[string][]event.Event {
	out := make(map[string][]event.Event, len(r.rules)+1)

	internal := make([]event.Event, 0, len(candidates))
	for _, c := range candidates {
		internal = append(internal, c.WithoutRoutingKey())
	}
	out[InternalGroup] = internal

	for _, rule := range r.rules {
		needle := strings.ToLower(strings.TrimSpace(rule.Match))
		matched := []event.Event{}
		if needle != "" {
			for _, c := range candidates {
				if strings.Contains(strings.ToLower(c.RoutingKey), needle) {
					matched = append(matched, c.WithoutRoutingKey())
				}
			}
		}
		out[rule.Group] = matched
		r.log.Debug("group partitioned",
			logx.String("group", rule.Group), logx.Int("events", len(matched)))
	}
	return out
}
