// Package constmap resolves a message type's ordered constant-mapping
// rules into per-field enum domains.
//
// For each named integer constant declared on a message, the rules are
// scanned in declaration order and the first pattern match decides the
// outcome: a non-empty destination adds the constant to that field's
// domain, an empty destination excludes it. Constants that are not
// integers, or that do not fit in a signed 32-bit value, are dropped
// before any rule is consulted. A constant no rule matches stays
// unrestricted.
//
// Patterns are shell globs (`*`, `?`, `[seq]`, `[!seq]`) compiled once
// per rule set and evaluated identically for every constant, so rule
// order is the only thing that decides precedence.
package constmap
