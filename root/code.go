package root

import (
	"errors"

	"github.com/JackDrogon/sekas/errs"
	"github.com/JackDrogon/sekas/protocol"
)

// CodeFor maps an error to its wire code. A nil error maps to zero so field
// outcomes can carry acceptance and rejection through the same struct.
func CodeFor(err error) int32 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errs.ErrNotBootstrapped):
		return protocol.CodeNotBootstrapped
	case errors.Is(err, errs.ErrNotRootLeader):
		return protocol.CodeNotRootLeader
	case errors.Is(err, errs.ErrNotLeader):
		return protocol.CodeNotLeader
	case errors.Is(err, errs.ErrStaleEpoch):
		return protocol.CodeStaleEpoch
	case errors.Is(err, errs.ErrStaleTerm):
		return protocol.CodeStaleTerm
	case errors.Is(err, errs.ErrResourceExhausted):
		return protocol.CodeResourceExhausted
	case errors.Is(err, errs.ErrInvalidArgument):
		return protocol.CodeInvalidArgument
	case errors.Is(err, errs.ErrNotFound):
		return protocol.CodeNotFound
	case errors.Is(err, errs.ErrAlreadyExists):
		return protocol.CodeAlreadyExists
	case errors.Is(err, errs.ErrWatcherDropped):
		return protocol.CodeWatcherDropped
	default:
		return protocol.CodeUnknown
	}
}
