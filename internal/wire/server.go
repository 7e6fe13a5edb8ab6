package wire

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Server accepts TCP connections and serves each through its own Session.
type Server struct {
	handler Handler
	logger  logrus.FieldLogger
	wg      sync.WaitGroup
}

// NewServer returns a Server dispatching to h.
func NewServer(h Handler, logger logrus.FieldLogger) *Server {
	return &Server{handler: h, logger: logger.WithField("component", "wire_server")}
}

// Serve accepts connections on ln until ctx is cancelled, then closes ln
// and waits for open connections to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.logger.WithField("address", ln.Addr().String()).Info("serving")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			cancel()
			s.wg.Wait()
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	log := s.logger.WithField("remote", conn.RemoteAddr().String())
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	log.Debug("connection opened")
	session := s.handler.NewSession()
	reader := bufio.NewReader(conn)
	for {
		req, err := ReadFrame(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.WithError(err).Warn("read request")
			}
			log.Debug("connection closed")
			return
		}
		resp := session.Handle(ctx, req)
		if err := WriteFrame(conn, resp); err != nil {
			log.WithError(err).Warn("write response")
			return
		}
	}
}
