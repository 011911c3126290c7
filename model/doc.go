// Package model defines the decision record persisted for every approval
// request together with the outcome handed back to a suspended caller.
//
// A record is created pending, mutated only by delivery bookkeeping and by a
// single terminal resolution, and never deleted by the orchestration layer.
package model
