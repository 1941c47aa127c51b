// Package score owns every write to a lead's score.
//
// The Mutator applies adjustments, absolute sets, multipliers and
// recalculations; the DecayEngine lowers the score of inactive leads. Both
// go through LeadRepository.UpdateScore so the read-modify-write of the
// score is atomic in the store, and both emit a ScoreChangeEvent for every
// persisted change.
//
// The package depends only on the interfaces in repository.go. It never
// imports net/http or database/sql directly.
package score
