package master

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/aoserv/internal/catalog"
	"github.com/mesh-intelligence/aoserv/internal/codec"
	"github.com/mesh-intelligence/aoserv/internal/protocol"
	"github.com/mesh-intelligence/aoserv/internal/wire"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// session serves one connection. Every row is encoded and decoded with the
// version agreed in the hello exchange.
type session struct {
	backend *Backend
	version protocol.Version
	logger  logrus.FieldLogger
}

// NewSession starts a session that must begin with a hello request.
func (b *Backend) NewSession() wire.Session {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &session{backend: b, logger: b.logger.WithField("session", id.String())}
}

// Handle serves one request and returns the complete response.
func (s *session) Handle(_ context.Context, req []byte) []byte {
	r := codec.NewReader(req, nil)
	w := codec.NewWriter()
	cmd, table := wire.ReadRequest(r)
	if err := r.Err(); err != nil {
		wire.WriteFailure(w, wire.StatusBadRequest, err.Error())
		return w.Bytes()
	}

	log := s.logger.WithFields(logrus.Fields{"command": cmd.String(), "table": table.String()})
	if cmd == wire.CmdHello {
		s.hello(r, w, log)
		return w.Bytes()
	}
	if s.version == 0 {
		wire.WriteFailure(w, wire.StatusBadRequest, "hello required before "+cmd.String())
		return w.Bytes()
	}
	def, err := s.backend.catalog.Get(table)
	if err != nil {
		wire.WriteFailure(w, wire.StatusBadRequest, err.Error())
		return w.Bytes()
	}

	switch cmd {
	case wire.CmdGetTable:
		err = s.getTable(def, w)
	case wire.CmdAdd:
		err = s.add(def, r, w)
	case wire.CmdUpdate:
		err = s.update(def, r, w)
	case wire.CmdRemove:
		err = s.remove(def, r, w)
	case wire.CmdCheckRemove:
		err = s.checkRemove(def, r, w)
	default:
		err = fmt.Errorf("%w: unknown command %s", errBadRequest, cmd)
	}
	if err != nil {
		w.Reset()
		writeError(w, err)
		log.WithError(err).Debug("request failed")
		return w.Bytes()
	}
	log.Debug("request served")
	return w.Bytes()
}

var errBadRequest = errors.New("bad request")

// writeError answers err with the status its kind maps to.
func writeError(w *codec.Writer, err error) {
	var blocked *types.CannotRemoveError
	switch {
	case errors.As(err, &blocked):
		wire.WriteRemovalBlocked(w, blocked.Reasons)
	case errors.Is(err, types.ErrNotFound):
		wire.WriteFailure(w, wire.StatusNotFound, err.Error())
	case errors.Is(err, errPersist):
		wire.WriteFailure(w, wire.StatusIOError, err.Error())
	case errors.Is(err, errBadRequest),
		errors.Is(err, types.ErrDecode),
		errors.Is(err, types.ErrDuplicateKey),
		errors.Is(err, types.ErrInvalidData),
		errors.Is(err, types.ErrDetached):
		wire.WriteFailure(w, wire.StatusBadRequest, err.Error())
	default:
		wire.WriteFailure(w, wire.StatusSQLError, err.Error())
	}
}

// hello agrees on the version the client offered. Every registered version
// is served.
func (s *session) hello(r *codec.Reader, w *codec.Writer, log logrus.FieldLogger) {
	name := r.ReadUTF()
	if err := r.Err(); err != nil {
		wire.WriteFailure(w, wire.StatusBadRequest, err.Error())
		return
	}
	v, err := protocol.Parse(name)
	if err != nil {
		log.WithField("offered", name).Warn("unsupported protocol version")
		wire.WriteFailure(w, wire.StatusUnsupportedVersion, err.Error())
		return
	}
	s.version = v
	s.logger = s.logger.WithField("version", v.String())
	wire.WriteStatus(w, wire.StatusDone)
	w.WriteUTF(v.String())
}

func (s *session) getTable(def *catalog.Definition, w *codec.Writer) error {
	rows, err := s.backend.Rows(def.ID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		wire.WriteStatus(w, wire.StatusNext)
		if err := def.Codec.EncodeAny(w, row, s.version); err != nil {
			return err
		}
	}
	wire.WriteStatus(w, wire.StatusDone)
	return nil
}

func (s *session) add(def *catalog.Definition, r *codec.Reader, w *codec.Writer) error {
	row, err := def.Codec.DecodeAny(r, s.version)
	if err != nil {
		return err
	}
	key, invalidated, err := s.backend.Add(def.ID, row)
	if err != nil {
		return err
	}
	wire.WriteStatus(w, wire.StatusDone)
	if err := def.Codec.EncodeKey(w, key); err != nil {
		return err
	}
	wire.WriteInvalidations(w, invalidated)
	return nil
}

func (s *session) update(def *catalog.Definition, r *codec.Reader, w *codec.Writer) error {
	row, err := def.Codec.DecodeAny(r, s.version)
	if err != nil {
		return err
	}
	invalidated, err := s.backend.Update(def.ID, row, s.version)
	if err != nil {
		return err
	}
	wire.WriteStatus(w, wire.StatusDone)
	wire.WriteInvalidations(w, invalidated)
	return nil
}

func (s *session) readKey(def *catalog.Definition, r *codec.Reader) (any, error) {
	key := def.Codec.DecodeKey(r)
	if err := r.Err(); err != nil {
		return nil, err
	}
	return key, nil
}

func (s *session) remove(def *catalog.Definition, r *codec.Reader, w *codec.Writer) error {
	key, err := s.readKey(def, r)
	if err != nil {
		return err
	}
	invalidated, err := s.backend.Remove(def.ID, key)
	if err != nil {
		return err
	}
	wire.WriteStatus(w, wire.StatusDone)
	wire.WriteInvalidations(w, invalidated)
	return nil
}

func (s *session) checkRemove(def *catalog.Definition, r *codec.Reader, w *codec.Writer) error {
	key, err := s.readKey(def, r)
	if err != nil {
		return err
	}
	reasons, err := s.backend.CheckRemove(def.ID, key)
	if err != nil {
		return err
	}
	wire.WriteStatus(w, wire.StatusDone)
	wire.WriteReasons(w, reasons)
	return nil
}
