// Package wire carries requests and responses between the client connector
// and the master.
//
// A request is a compressed-int command, a compressed-int table id and a
// command-specific body. A response starts with a status byte. Failure
// statuses are followed by a UTF message, or by the list of reasons for
// StatusRemovalBlocked. Successful mutations end with the list of
// invalidated table ids, terminated by -1.
package wire

import (
	"fmt"

	"github.com/mesh-intelligence/aoserv/internal/codec"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// Command selects the operation of a request.
type Command int32

// Request commands.
const (
	CmdHello Command = iota + 1
	CmdGetTable
	CmdAdd
	CmdUpdate
	CmdRemove
	CmdCheckRemove
)

var commandNames = map[Command]string{
	CmdHello:       "hello",
	CmdGetTable:    "get_table",
	CmdAdd:         "add",
	CmdUpdate:      "update",
	CmdRemove:      "remove",
	CmdCheckRemove: "check_remove",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("command#%d", int32(c))
}

// Status is the leading byte of every response.
type Status byte

// Response statuses.
const (
	StatusDone Status = iota
	StatusNext
	StatusIOError
	StatusSQLError
	StatusNotFound
	StatusRemovalBlocked
	StatusUnsupportedVersion
	StatusBadRequest
)

var statusNames = map[Status]string{
	StatusDone:               "done",
	StatusNext:               "next",
	StatusIOError:            "io_error",
	StatusSQLError:           "sql_error",
	StatusNotFound:           "not_found",
	StatusRemovalBlocked:     "removal_blocked",
	StatusUnsupportedVersion: "unsupported_version",
	StatusBadRequest:         "bad_request",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status#%d", byte(s))
}

// endOfInvalidations terminates an invalidation list.
const endOfInvalidations = -1

// maxListLength bounds decoded list lengths.
const maxListLength = 1 << 16

// NewRequest starts a request for cmd on table.
func NewRequest(cmd Command, table types.TableID) *codec.Writer {
	w := codec.NewWriter()
	w.WriteCompressedInt(int32(cmd))
	w.WriteCompressedInt(int32(table))
	return w
}

// ReadRequest reads the command and table id that start a request.
func ReadRequest(r *codec.Reader) (Command, types.TableID) {
	cmd := Command(r.ReadCompressedInt())
	table := types.TableID(r.ReadCompressedInt())
	return cmd, table
}

// WriteStatus writes a status byte.
func WriteStatus(w *codec.Writer, s Status) { w.WriteUint8(byte(s)) }

// ReadStatus reads a status byte.
func ReadStatus(r *codec.Reader) Status { return Status(r.ReadUint8()) }

// WriteFailure writes a failure status and its message.
func WriteFailure(w *codec.Writer, s Status, message string) {
	WriteStatus(w, s)
	w.WriteUTF(message)
}

// WriteRemovalBlocked writes StatusRemovalBlocked and every reason.
func WriteRemovalBlocked(w *codec.Writer, reasons []types.CannotRemoveReason) {
	WriteStatus(w, StatusRemovalBlocked)
	WriteReasons(w, reasons)
}

// WriteReasons writes a counted list of removal reasons.
func WriteReasons(w *codec.Writer, reasons []types.CannotRemoveReason) {
	w.WriteCompressedInt(int32(len(reasons)))
	for _, reason := range reasons {
		w.WriteCompressedInt(int32(reason.Table))
		w.WriteUTF(reason.Key)
		w.WriteUTF(reason.Description)
	}
}

// ReadReasons reads a list written by WriteReasons.
func ReadReasons(r *codec.Reader) ([]types.CannotRemoveReason, error) {
	n := r.ReadCompressedInt()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if n < 0 || n > maxListLength {
		return nil, fmt.Errorf("%w: reason count %d", types.ErrDecode, n)
	}
	reasons := make([]types.CannotRemoveReason, 0, n)
	for range n {
		reason := types.CannotRemoveReason{
			Table:       types.TableID(r.ReadCompressedInt()),
			Key:         r.ReadUTF(),
			Description: r.ReadUTF(),
		}
		if err := r.Err(); err != nil {
			return nil, err
		}
		reasons = append(reasons, reason)
	}
	return reasons, nil
}

// ReadFailure converts a failure status, whose payload follows in r, into
// an error. table and key name the row of the request for removal errors.
func ReadFailure(r *codec.Reader, s Status, table types.TableID, key string) error {
	if s == StatusRemovalBlocked {
		reasons, err := ReadReasons(r)
		if err != nil {
			return err
		}
		return &types.CannotRemoveError{Table: table, Key: key, Reasons: reasons}
	}
	message := r.ReadUTF()
	if err := r.Err(); err != nil {
		return err
	}
	switch s {
	case StatusNotFound:
		return types.NewServerError(byte(s), message, types.ErrNotFound)
	case StatusUnsupportedVersion:
		return types.NewServerError(byte(s), message, types.ErrUnsupportedVersion)
	case StatusIOError, StatusSQLError, StatusBadRequest:
		return types.NewServerError(byte(s), message, nil)
	}
	return fmt.Errorf("%w: unexpected status %s", types.ErrDecode, s)
}

// WriteInvalidations writes table ids followed by the terminator.
func WriteInvalidations(w *codec.Writer, ids []types.TableID) {
	for _, id := range ids {
		w.WriteCompressedInt(int32(id))
	}
	w.WriteCompressedInt(endOfInvalidations)
}

// ReadInvalidations reads a list written by WriteInvalidations.
func ReadInvalidations(r *codec.Reader) ([]types.TableID, error) {
	var ids []types.TableID
	for {
		id := r.ReadCompressedInt()
		if err := r.Err(); err != nil {
			return nil, err
		}
		if id == endOfInvalidations {
			return ids, nil
		}
		if len(ids) >= maxListLength {
			return nil, fmt.Errorf("%w: invalidation list too long", types.ErrDecode)
		}
		ids = append(ids, types.TableID(id))
	}
}
