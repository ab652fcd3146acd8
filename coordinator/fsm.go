package coordinator

import (
	"encoding/json"
	"io"

	"github.com/JackDrogon/sekas/directory"
	"github.com/JackDrogon/sekas/protocol"
	"github.com/hashicorp/raft"
)

var _ raft.FSM = (*directoryFSM)(nil)

// directoryFSM feeds committed mutations into the directory. The directory
// does its own locking; validation errors travel back to the proposer through
// the apply response instead of failing the raft entry.
type directoryFSM struct {
	dir *directory.Directory
}

// fsmResponse is what raft.Apply futures hand back to Propose. Rejected
// mutations (stale epoch, stale term) are committed log entries whose apply
// was a no-op on every replica; the error here reports that rejection.
type fsmResponse struct {
	Result directory.ApplyResult
	Err    error
}

func newDirectoryFSM(dir *directory.Directory) *directoryFSM {
	return &directoryFSM{dir: dir}
}

func (f *directoryFSM) Apply(l *raft.Log) interface{} {
	var m protocol.Mutation
	if err := json.Unmarshal(l.Data, &m); err != nil {
		return &fsmResponse{Err: err}
	}
	result, err := f.dir.Apply(&m)
	return &fsmResponse{Result: result, Err: err}
}

func (f *directoryFSM) Snapshot() (raft.FSMSnapshot, error) {
	data, err := f.dir.Snapshot()
	if err != nil {
		return nil, err
	}
	return &directorySnapshot{data: data}, nil
}

func (f *directoryFSM) Restore(r io.ReadCloser) error {
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return f.dir.Restore(data)
}

var _ raft.FSMSnapshot = (*directorySnapshot)(nil)

type directorySnapshot struct {
	data []byte
}

func (s *directorySnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if _, err := sink.Write(s.data); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *directorySnapshot) Release() {}
