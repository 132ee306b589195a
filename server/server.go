package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relay/protocol"
	"relay/session"
	"relay/storage"
)

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server accepts client connections and runs one supervisor goroutine per
// connection. Storage and the session registry are shared, injected state;
// the server itself holds only the connection table.
type Server struct {
	storage  storage.Storage
	registry *session.Registry
	codec    protocol.Codec
	config   *Config
	log      zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[*client]struct{}
}

func New(store storage.Storage, registry *session.Registry, codec protocol.Codec, config *Config, log zerolog.Logger) *Server {
	return &Server{
		storage:  store,
		registry: registry,
		codec:    codec,
		config:   config,
		log:      log,
		conns:    make(map[*client]struct{}),
	}
}

// client wraps one connection. Responses and asynchronous pushes share the
// socket, so every write goes through writeMu.
type client struct {
	conn         net.Conn
	codec        protocol.Codec
	writeTimeout time.Duration

	writeMu sync.Mutex

	// listenToken is set when this connection attaches a live channel;
	// the supervisor detaches it on exit.
	tokenMu     sync.Mutex
	listenToken string
}

func (c *client) send(env protocol.Envelope) error {
	frame, err := c.codec.Encode(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	_, err = c.conn.Write(frame)
	return err
}

func (c *client) setListenToken(token string) {
	c.tokenMu.Lock()
	c.listenToken = token
	c.tokenMu.Unlock()
}

func (c *client) getListenToken() string {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.listenToken
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Info().Str("addr", listener.Addr().String()).Str("codec", s.codec.Name()).Msg("relay server started")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error().Err(err).Msg("accept failed")
			continue
		}

		go s.HandleConnection(conn)
	}
}

// Addr returns the bound listen address, once Start has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HandleConnection runs the supervisor loop for one connection: decode a
// frame, dispatch, write the response. Exported so tests can drive it over
// a pipe.
func (s *Server) HandleConnection(conn net.Conn) {
	c := &client{
		conn:         conn,
		codec:        s.codec,
		writeTimeout: s.config.WriteTimeout,
	}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	remoteAddr := conn.RemoteAddr().String()
	s.log.Debug().Str("remote", remoteAddr).Msg("client connected")

	defer func() {
		if token := c.getListenToken(); token != "" {
			s.registry.DetachChannel(token)
		}
		conn.Close()

		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()

		s.log.Debug().Str("remote", remoteAddr).Msg("client disconnected")
	}()

	reader := bufio.NewReader(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		env, err := s.codec.Decode(reader)
		if err != nil {
			if errors.Is(err, protocol.ErrDecode) {
				// Malformed frame: report it and keep the
				// connection open.
				s.log.Debug().Str("remote", remoteAddr).Err(err).Msg("decode error")
				if werr := c.send(protocol.Failure(protocol.ActionUnknown, "Malformed request")); werr != nil {
					return
				}
				continue
			}
			if err != io.EOF {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					s.log.Debug().Str("remote", remoteAddr).Msg("read timeout, closing connection")
					return
				}
				if !strings.Contains(err.Error(), "use of closed network connection") &&
					!errors.Is(err, io.ErrClosedPipe) {
					s.log.Debug().Str("remote", remoteAddr).Err(err).Msg("read failed")
				}
			}
			return
		}

		resp := s.dispatch(c, env)
		if err := c.send(resp); err != nil {
			s.log.Debug().Str("remote", remoteAddr).Err(err).Msg("write failed")
			return
		}
	}
}

// Stats returns connection and session counts for the control socket.
func (s *Server) Stats() string {
	s.mu.Lock()
	conns := len(s.conns)
	s.mu.Unlock()

	users := s.registry.Usernames()
	return "connections=" + strconv.Itoa(conns) +
		",sessions=" + strconv.Itoa(s.registry.Count()) +
		",users=" + strings.Join(users, ";")
}

// Close stops accepting and drops every open connection. Queued messages
// stay in storage; live sessions expire on their own schedule.
func (s *Server) Close() {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	conns := make([]*client, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.conn.Close()
	}
}
