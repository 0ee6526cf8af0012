// Package adminsock exposes daemon diagnostics over a Unix domain socket.
//
// The transport is JSON-RPC with a single Admin.Command method; commands are
// dispatched through a registry of named hooks populated by the runtime
// context. The socket path, its mode, and its owner are all driven by
// configuration.
package adminsock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"

	"stashd/internal/logging"
)

// Hook executes one or more registered commands. A hook returns the encoded
// result or an error; user-input problems belong inside the result's
// "error" field, not in the returned error.
type Hook interface {
	Call(command string, args map[string]string, format string) ([]byte, error)
}

type registration struct {
	name string
	desc string
	hook Hook
}

// Server owns the command registry and, once Serve is called, the socket.
type Server struct {
	logger *slog.Logger

	mu       sync.Mutex
	commands map[string]*registration

	path     string
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer creates a server whose registry can be populated before the
// socket exists.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{
		logger:   logging.NewComponentLogger(logger, "adminsock"),
		commands: make(map[string]*registration),
	}
}

// Register adds a named command backed by hook. Registering a duplicate
// name is an error.
func (s *Server) Register(name, desc string, hook Hook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.commands[name]; exists {
		return fmt.Errorf("admin command %q already registered", name)
	}
	s.commands[name] = &registration{name: name, desc: desc, hook: hook}
	return nil
}

// UnregisterAll removes every command registered with the given hook.
func (s *Server) UnregisterAll(hook Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, reg := range s.commands {
		if reg.hook == hook {
			delete(s.commands, name)
		}
	}
}

// Commands lists the registered catalog sorted by name.
func (s *Server) Commands() []CommandInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CommandInfo, 0, len(s.commands))
	for _, reg := range s.commands {
		out = append(out, CommandInfo{Name: reg.name, Description: reg.desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Server) dispatch(req CommandRequest) ([]byte, error) {
	s.mu.Lock()
	reg, ok := s.commands[req.Command]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown admin command %q", req.Command)
	}
	return reg.hook.Call(req.Command, req.Args, req.Format)
}

// Serve binds the socket at path and accepts connections until ctx is
// cancelled or Close is called. A stale socket file from a previous run is
// removed first.
func (s *Server) Serve(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale admin socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen on admin socket: %w", err)
	}

	rpcSrv := rpc.NewServer()
	if err := rpcSrv.RegisterName("Admin", &service{server: s}); err != nil {
		listener.Close()
		return fmt.Errorf("register admin rpc service: %w", err)
	}

	serveCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.path = path
	s.listener = listener
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Debug("admin socket listening", logging.String("socket", path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-serveCtx.Done():
					return
				default:
				}
				s.logger.Warn("admin socket accept failed", logging.Error(err))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				rpcSrv.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
	return nil
}

// Serving reports whether the socket is bound.
func (s *Server) Serving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil
}

// Path returns the bound socket path, or empty before Serve.
func (s *Server) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Chmod applies an octal permission string to the bound socket.
func (s *Server) Chmod(mode string) error {
	path := s.Path()
	if path == "" || mode == "" {
		return nil
	}
	parsed, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		return fmt.Errorf("invalid admin socket mode %q: %w", mode, err)
	}
	if parsed&^uint64(0o777) != 0 {
		return fmt.Errorf("invalid admin socket mode %q: not a permission mask", mode)
	}
	if err := unix.Chmod(path, uint32(parsed)); err != nil {
		return fmt.Errorf("chmod admin socket: %w", err)
	}
	return nil
}

// Chown reassigns socket ownership, used when the daemon will drop
// privileges after binding.
func (s *Server) Chown(uid, gid int) error {
	path := s.Path()
	if path == "" {
		return nil
	}
	if err := unix.Chown(path, uid, gid); err != nil {
		return fmt.Errorf("chown admin socket: %w", err)
	}
	return nil
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() {
	s.mu.Lock()
	cancel := s.cancel
	listener := s.listener
	path := s.path
	s.cancel = nil
	s.listener = nil
	s.path = ""
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if listener != nil {
		_ = listener.Close()
	}
	s.wg.Wait()
	if path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove admin socket", logging.String("socket", path), logging.Error(err))
		}
	}
}

type service struct {
	server *Server
}

// Command executes one admin command. Unknown names are a client error at
// this layer; the fatal unknown-command contract applies past the registry,
// inside a hook that receives a command it never handled.
func (s *service) Command(req CommandRequest, resp *CommandResponse) error {
	result, err := s.server.dispatch(req)
	if err != nil {
		return err
	}
	resp.Result = result
	return nil
}
