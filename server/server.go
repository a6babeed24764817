// Package server runs the accept loop and serves each connection on its own
// goroutine.
package server

import (
	"context"
	stderrors "errors"
	"net"
	"sync"
	"time"

	"github.com/iceber/iouring-go"
	"github.com/sirupsen/logrus"

	"github.com/nczempin/httpd-go-uring/endpoint"
	"github.com/nczempin/httpd-go-uring/errors"
	"github.com/nczempin/httpd-go-uring/protocol"
	"github.com/nczempin/httpd-go-uring/socket"
	"github.com/nczempin/httpd-go-uring/static"
	"github.com/nczempin/httpd-go-uring/transport"
)

const (
	// DefaultReadTimeout bounds every read on an accepted connection
	DefaultReadTimeout = 30 * time.Second

	// acceptBackoff spaces out retries after a hard accept failure
	acceptBackoff = 100 * time.Millisecond
)

// Config holds the listener and per-connection settings
type Config struct {
	Port           uint16
	Family         endpoint.Family
	Backend        transport.Backend
	ReadTimeout    time.Duration
	MaxHeaderBytes int
	NoReverseDNS   bool
}

// Handler turns a request into a response
type Handler interface {
	ServeRequest(req *protocol.HttpRequest, remote, local endpoint.Identity) *protocol.HttpResponse
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(req *protocol.HttpRequest, remote, local endpoint.Identity) *protocol.HttpResponse

// ServeRequest calls f
func (f HandlerFunc) ServeRequest(req *protocol.HttpRequest, remote, local endpoint.Identity) *protocol.HttpResponse {
	return f(req, remote, local)
}

// HttpServer accepts connections and answers their requests in order
type HttpServer struct {
	Config   Config
	Handler  Handler
	Logger   logrus.FieldLogger
	Resolver *endpoint.Resolver

	mu      sync.Mutex
	sock    *socket.ServerSocket
	ring    *iouring.IOURing
	backend transport.Backend
	conns   map[*protocol.Connection]struct{}
	wg      sync.WaitGroup
}

// Run listens and serves until ctx is done
func (s *HttpServer) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Listen binds the listening socket and prepares the I/O backend. When the
// kernel refuses io_uring the server falls back to plain syscalls.
func (s *HttpServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sock != nil {
		return errors.NewInvalidArgumentError("server is already listening")
	}

	resolver := s.Resolver
	if resolver == nil {
		resolver = &endpoint.Resolver{Disabled: s.Config.NoReverseDNS}
	}

	sock := socket.NewServerSocket(s.Config.Port, resolver)
	if err := sock.BindAndListen(s.Config.Family); err != nil {
		return err
	}

	backend := s.Config.Backend
	if backend == "" {
		backend = transport.BackendIoUring
	}
	switch backend {
	case transport.BackendIoUring:
		ring, err := transport.NewSharedRing()
		if err != nil {
			s.logger().WithError(err).Warn("io_uring unavailable, falling back to syscall backend")
			backend = transport.BackendSyscall
		} else {
			s.ring = ring
		}
	case transport.BackendUring:
		if err := transport.ProbeUring(); err != nil {
			s.logger().WithError(err).Warn("io_uring unavailable, falling back to syscall backend")
			backend = transport.BackendSyscall
		}
	}

	s.sock = sock
	s.backend = backend
	s.conns = make(map[*protocol.Connection]struct{})

	s.logger().WithFields(logrus.Fields{
		"port":    sock.Port(),
		"family":  sock.Family().String(),
		"backend": string(backend),
	}).Info("Listening")
	return nil
}

// Port returns the bound port, or the configured one before Listen
func (s *HttpServer) Port() uint16 {
	s.mu.Lock()
	sock := s.sock
	s.mu.Unlock()
	if sock == nil {
		return s.Config.Port
	}
	return sock.Port()
}

// Backend returns the I/O backend in use after Listen
func (s *HttpServer) Backend() transport.Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// Serve runs the accept loop. When ctx is done the listener and every open
// connection are closed and Serve returns once all connection goroutines
// have finished.
func (s *HttpServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	sock := s.sock
	s.mu.Unlock()
	if sock == nil {
		return errors.NewInvalidArgumentError("server is not listening")
	}

	stop := context.AfterFunc(ctx, func() {
		sock.Close()
		s.closeConnections()
	})
	defer stop()
	defer s.shutdown()

	for {
		acc, err := sock.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				s.logger().Info("Accept loop stopped")
				return nil
			}
			if he, ok := errors.As(err); ok && he.Type == errors.ErrorResolution {
				s.logger().WithError(err).Warn("Dropped connection with unresolvable endpoint")
				continue
			}
			s.logger().WithError(err).Error("Accept failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(acceptBackoff):
			}
			continue
		}

		s.wg.Add(1)
		go s.serveConn(ctx, acc)
	}
}

// shutdown waits for connection goroutines and releases shared resources
func (s *HttpServer) shutdown() {
	s.mu.Lock()
	sock := s.sock
	s.mu.Unlock()
	sock.Close()
	s.closeConnections()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ring != nil {
		s.ring.Close()
		s.ring = nil
	}
}

func (s *HttpServer) serveConn(ctx context.Context, acc *socket.Accepted) {
	defer s.wg.Done()

	log := s.logger().WithFields(logrus.Fields{
		"remote":     acc.Remote.String(),
		"remote_dns": acc.Remote.DNSName,
		"local":      acc.Local.String(),
	})

	t, err := transport.New(s.backend, acc.Fd, transport.Options{Ring: s.ring})
	if err != nil {
		log.WithError(err).Error("Failed to set up connection transport")
		return
	}

	readTimeout := s.Config.ReadTimeout
	if readTimeout == 0 {
		readTimeout = DefaultReadTimeout
	}
	if err := t.SetReadTimeout(readTimeout); err != nil {
		log.WithError(err).Warn("Failed to set read timeout")
	}

	conn := protocol.NewConnection(t, s.Config.MaxHeaderBytes)
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer func() {
		s.untrack(conn)
		conn.Close()
	}()

	log.Debug("Connection accepted")
	handler := s.handler()

	for ctx.Err() == nil {
		req, err := conn.GetNextRequest()
		if err != nil {
			logReadFailure(log, err)
			if isBadRequest(err) {
				if werr := conn.WriteResponse(static.ErrorResponse(400, "Bad Request", "The request could not be understood.")); werr != nil {
					log.WithError(werr).Debug("Failed to write 400 response")
				}
			}
			return
		}

		resp := handler.ServeRequest(req, acc.Remote, acc.Local)
		if resp == nil {
			resp = static.ErrorResponse(500, "Internal Server Error", "No response was produced.")
		}
		closing := req.WantsClose()
		if closing {
			resp.SetHeader("Connection", "close")
		}

		log.WithFields(logrus.Fields{
			"uri":    req.URI,
			"status": resp.StatusCode,
		}).Info("Served request")

		if err := conn.WriteResponse(resp); err != nil {
			log.WithError(err).Warn("Failed to write response")
			return
		}
		if closing {
			return
		}
	}
}

func logReadFailure(log logrus.FieldLogger, err error) {
	switch {
	case errors.IsTransport(err, errors.TransportErrorConnectionClosed):
		log.Debug("Connection closed by peer")
	case errors.IsTransport(err, errors.TransportErrorTimeout):
		log.Info("Connection timed out")
	case isBadRequest(err):
		log.WithError(err).Warn("Bad request")
	default:
		log.WithError(err).Warn("Failed to read request")
	}
}

// isBadRequest reports whether the peer sent something that is not a
// request, as opposed to going away or stalling.
func isBadRequest(err error) bool {
	return errors.IsProtocol(err, errors.ProtocolErrorMissingMethod) ||
		errors.IsProtocol(err, errors.ProtocolErrorMalformedRequestLine) ||
		errors.IsProtocol(err, errors.ProtocolErrorUnsupportedMethod) ||
		errors.IsProtocol(err, errors.ProtocolErrorHeaderTooLarge)
}

// track registers conn for shutdown. It refuses once shutdown has started.
func (s *HttpServer) track(conn *protocol.Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *HttpServer) untrack(conn *protocol.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// closeConnections shuts every open connection down. Their goroutines notice
// on the next read.
func (s *HttpServer) closeConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Shutdown()
	}
	s.conns = nil
}

func (s *HttpServer) handler() Handler {
	if s.Handler != nil {
		return s.Handler
	}
	return HandlerFunc(func(req *protocol.HttpRequest, remote, local endpoint.Identity) *protocol.HttpResponse {
		return static.ErrorResponse(404, "Not Found", "No handler is configured.")
	})
}

func (s *HttpServer) logger() logrus.FieldLogger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}
