package rpc

import (
	"fmt"

	"github.com/JackDrogon/sekas/errs"
	"github.com/JackDrogon/sekas/protocol"
	"github.com/JackDrogon/sekas/root"
)

// Err returns a *protocol.RPCErrorResponse so the transport sends Code and
// Message to the client.
func Err(code int32, message string) error {
	return &protocol.RPCErrorResponse{Code: code, Message: message}
}

// FromError maps a root error to an RPCErrorResponse the transport can send.
// leaderHint is attached on CodeNotRootLeader so the client can redial.
func FromError(err error, leaderHint string) error {
	if err == nil {
		return nil
	}
	resp := &protocol.RPCErrorResponse{Code: root.CodeFor(err), Message: err.Error()}
	if resp.Code == protocol.CodeNotRootLeader {
		resp.LeaderHint = leaderHint
	}
	return resp
}

// ToError is the client-side inverse: it turns a received RPCErrorResponse
// back into an error matching the errs sentinels with errors.Is.
func ToError(resp *protocol.RPCErrorResponse) error {
	sentinel := sentinelFor(resp.Code)
	if sentinel == nil {
		return resp
	}
	return fmt.Errorf("%s: %w", resp.Message, sentinel)
}

func sentinelFor(code int32) error {
	switch code {
	case protocol.CodeNotBootstrapped:
		return errs.ErrNotBootstrapped
	case protocol.CodeNotRootLeader:
		return errs.ErrNotRootLeader
	case protocol.CodeNotLeader:
		return errs.ErrNotLeader
	case protocol.CodeStaleEpoch:
		return errs.ErrStaleEpoch
	case protocol.CodeStaleTerm:
		return errs.ErrStaleTerm
	case protocol.CodeResourceExhausted:
		return errs.ErrResourceExhausted
	case protocol.CodeInvalidArgument:
		return errs.ErrInvalidArgument
	case protocol.CodeNotFound:
		return errs.ErrNotFound
	case protocol.CodeAlreadyExists:
		return errs.ErrAlreadyExists
	case protocol.CodeWatcherDropped:
		return errs.ErrWatcherDropped
	default:
		return nil
	}
}

// Retriable reports whether the caller can retry the call, possibly against a
// different root replica.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	switch root.CodeFor(err) {
	case protocol.CodeNotRootLeader:
		return true
	default:
		return false
	}
}
