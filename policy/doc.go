// Package policy decides whether a proposed action needs human approval
// before it runs. A nil *Policy approves everything automatically.
package policy
