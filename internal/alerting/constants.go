// Package alerting evaluates sensor snapshots against user threshold rules,
// debounces repeated triggers and dispatches notifications.
package alerting

import "time"

// Comparison operators a rule may use.
const (
	ComparisonGreater        = ">"
	ComparisonLess           = "<"
	ComparisonGreaterOrEqual = ">="
	ComparisonLessOrEqual    = "<="
)

// Contact types a rule may notify.
const (
	ContactEmail = "email"
	ContactSMS   = "sms"
)

// DefaultCooldown is the debounce window used when none is configured.
const DefaultCooldown = 60 * time.Second

const component = "alerting"

// comparisons lists every supported operator in display order.
var comparisons = []string{ComparisonGreater, ComparisonLess, ComparisonGreaterOrEqual, ComparisonLessOrEqual}

// contactTypes lists every supported contact type.
var contactTypes = []string{ContactEmail, ContactSMS}
