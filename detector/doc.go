// Package detector evaluates standing rules over the stream of change
// notifications. Each rule keeps a bounded rolling window of recent
// samples per input node and re-evaluates its predicate whenever one of
// its inputs changes; a satisfied predicate outside the rule's cooldown
// period publishes an alert on the synthetic node "alert.<rule id>".
//
// Rules are isolated from each other: every rule runs its own evaluation
// goroutine fed by its own bounded channel, so a slow predicate never
// delays another rule.
package detector
