package constmap

import (
	"log/slog"
	"math"

	"github.com/gobwas/glob"

	"github.com/osu-uwrt/riptide-fw-bridge/spec"
)

// rule is one compiled mapping rule. Rules keep the order in which the
// specification declared them; resolution stops at the first match.
type rule struct {
	pattern string
	dest    string
	matcher glob.Glob
	used    bool
}

// Map resolves a message's constants against its mapping rules and
// returns the enum domain for each referenced field: field name to the
// constants assigned to it, in declaration order.
//
// Constants that are not integers, or whose value does not fit in a
// signed 32-bit integer, are dropped before any rule is consulted. A
// rule with an empty destination excludes its matches from every
// domain. A matched rule whose destination names a field the message
// does not declare is a configuration error. Constants no rule matches
// stay unrestricted and are reported at debug level; rules that never
// matched anything are reported as warnings.
func Map(msg *spec.Message, logger *slog.Logger) (map[string][]spec.Constant, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rules := make([]rule, 0, len(msg.Rules))
	for _, r := range msg.Rules {
		matcher, err := glob.Compile(r.Pattern)
		if err != nil {
			return nil, spec.NewConfigError("invalid constant pattern %q for message %q: %v", r.Pattern, msg.Name, err)
		}
		rules = append(rules, rule{pattern: r.Pattern, dest: r.Destination, matcher: matcher})
	}

	domains := make(map[string][]spec.Constant)
	var unmatched []string
	for _, c := range msg.Constants {
		if !eligible(c) {
			continue
		}
		ri := match(rules, c.Name)
		if ri < 0 {
			unmatched = append(unmatched, c.Name)
			continue
		}
		rules[ri].used = true
		dest := rules[ri].dest
		if dest == "" {
			continue
		}
		if _, ok := msg.Field(dest); !ok {
			return nil, spec.NewConfigError("unable to find referenced field %q in message %q", dest, msg.Name)
		}
		domains[dest] = append(domains[dest], c)
	}

	if len(unmatched) > 0 {
		logger.Debug("constants left unrestricted by mapping rules",
			"message", msg.Name,
			"constants", unmatched)
	}
	for _, r := range rules {
		if !r.used {
			logger.Warn("constant mapping rule matched nothing",
				"message", msg.Name,
				"pattern", r.pattern)
		}
	}
	return domains, nil
}

// match returns the index of the first rule whose pattern matches name,
// or -1 when no rule matches.
func match(rules []rule, name string) int {
	for i := range rules {
		if rules[i].matcher.Match(name) {
			return i
		}
	}
	return -1
}

// eligible reports whether a constant can take part in an enum domain:
// it must be an integer and representable as a signed 32-bit value.
func eligible(c spec.Constant) bool {
	return c.IsInteger && c.Value >= math.MinInt32 && c.Value <= math.MaxInt32
}
