package data

import "github.com/khaledhikmat/fr-go/model"

// IService records operational facts: background errors, periodic stats and
// messages the recognition stage gave up on.
type IService interface {
	NewError(err interface{}) error
	NewDetectorStats(stats model.DetectorStats) error
	NewRecognizerStats(stats model.RecognizerStats) error
	NewDeadLetter(letter model.DeadLetter) error
}
