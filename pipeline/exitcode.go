package pipeline

import (
	"errors"

	"github.com/carbocation/pgscalc/ancestry"
	"github.com/carbocation/pgscalc/dosage"
	"github.com/carbocation/pgscalc/fetch"
	"github.com/carbocation/pgscalc/match"
	"github.com/carbocation/pgscalc/scorefile"
)

// Process exit codes. Scripted callers branch on these instead of parsing
// log text.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitUsage          = 2
	ExitMatchRate      = 3
	ExitImputeFloor    = 4
	ExitDownload       = 5
	ExitChecksum       = 6
	ExitSmallReference = 7
	ExitNonAdditive    = 8
)

// ExitCode maps an error onto the exit code describing its kind.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var matchRateErr match.MatchRateError
	var noAccessions match.ErrNoAccessionsPass
	var imputeErr dosage.ErrImputeFloor
	var downloadErr fetch.DownloadError
	var checksumErr fetch.ChecksumError
	var referenceErr ancestry.ErrReferenceTooSmall

	switch {
	case errors.As(err, &matchRateErr), errors.As(err, &noAccessions):
		return ExitMatchRate
	case errors.As(err, &imputeErr):
		return ExitImputeFloor
	case errors.As(err, &checksumErr):
		return ExitChecksum
	case errors.As(err, &downloadErr):
		return ExitDownload
	case errors.As(err, &referenceErr):
		return ExitSmallReference
	case errors.Is(err, scorefile.ErrNonAdditive), errors.Is(err, scorefile.ErrInvalidEffectType):
		return ExitNonAdditive
	default:
		return ExitFailure
	}
}
