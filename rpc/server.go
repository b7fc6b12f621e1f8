// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/gifops/internal/slogext"
	"github.com/kortschak/gifops/internal/version"
	"github.com/kortschak/gifops/internal/xdg"
	"github.com/kortschak/gifops/ops"
)

// RuntimeDir is the path within XDG_RUNTIME_DIR that unix sockets
// are created in if the unix network is used without an address.
const RuntimeDir = "gifops"

// Server is a JSON RPC 2 server for GIF frame operations.
type Server struct {
	listener *netListener
	server   *jsonrpc2.Server
	network  string
	sock     string

	proc atomic.Pointer[ops.Processor]

	log *slog.Logger
}

// NewServer returns a new Server listening on the provided network, which
// may be either "unix" or "tcp", and address. If addr is empty, a socket
// is created in the gifops XDG runtime directory for unix, and a
// loopback address with a dynamic port is used for tcp. Operations are
// performed with a copy of proc.
func NewServer(ctx context.Context, network, addr string, proc ops.Processor, options jsonrpc2.NetListenOptions, log *slog.Logger) (*Server, error) {
	s := Server{
		network: network,
		log:     log.With(slog.String("component", "rpc")),
	}
	s.SetProcessor(proc)

	if addr == "" {
		switch network {
		case "unix":
			dir, err := xdg.MakeRuntime(RuntimeDir)
			if err != nil {
				return nil, err
			}
			s.sock, err = os.MkdirTemp(dir, fmt.Sprintf("sock-%d-*", os.Getpid()))
			if err != nil {
				return nil, err
			}
			addr = filepath.Join(s.sock, "gifops")
			s.log.LogAttrs(ctx, slog.LevelDebug, "server socket", slog.String("path", addr))
		case "tcp":
			addr = "localhost:0"
		}
	}

	var err error
	s.listener, err = newNetListener(ctx, network, addr, options)
	if err != nil {
		if s.sock != "" {
			os.RemoveAll(s.sock)
		}
		return nil, err
	}
	s.server = jsonrpc2.NewServer(ctx, s.listener, &s)

	s.log.LogAttrs(ctx, slog.LevelInfo, "new server", slog.String("network", network), slog.Any("addr", slogext.Stringer{Stringer: s.listener.Addr()}))
	return &s, nil
}

// Addr returns the listener address of the server.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Network returns the network the server is listening on.
func (s *Server) Network() string {
	return s.network
}

// SetProcessor replaces the processor used for subsequent requests. If
// proc has no logger, the server's logger is used.
func (s *Server) SetProcessor(proc ops.Processor) {
	if proc.Log == nil {
		proc.Log = s.log
	}
	s.proc.Store(&proc)
}

// Processor returns a copy of the processor used for requests.
func (s *Server) Processor() ops.Processor {
	return *s.proc.Load()
}

// Bind binds the server's handler to a connection.
func (s *Server) Bind(ctx context.Context, conn *jsonrpc2.Connection) jsonrpc2.ConnectionOptions {
	s.log.LogAttrs(ctx, slog.LevelDebug, "binding")
	return jsonrpc2.ConnectionOptions{
		Handler: s,
	}
}

// Handle is the server's message handler.
func (s *Server) Handle(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	s.log.LogAttrs(ctx, slog.LevelDebug, "handle", slog.Any("req", slogext.Request{Request: req}))
	if !req.IsCall() {
		s.log.LogAttrs(ctx, slog.LevelWarn, "dropping notification", slog.String("method", req.Method))
		return nil, jsonrpc2.ErrNotHandled
	}

	proc := s.Processor()
	var (
		res any
		err error
	)
	switch req.Method {
	case Who:
		v, verr := version.String()
		if verr != nil {
			v = verr.Error()
		}
		return WhoResult{Version: v}, nil

	case Split:
		var p SplitParams
		err = UnmarshalParams(req.Params, &p)
		if err != nil {
			break
		}
		if p.Format != "" {
			proc.Format, err = ops.ParseFormat(p.Format)
			if err != nil {
				err = &ops.Error{Op: ops.OpSplit, Kind: ops.KindEncode, Err: err}
				break
			}
		}
		var frames [][]byte
		frames, err = proc.Split(p.Animation)
		res = SplitResult{Frames: frames}

	case Merge:
		var p MergeParams
		err = UnmarshalParams(req.Params, &p)
		if err != nil {
			break
		}
		if p.Filter != "" {
			proc.Filter = p.Filter
		}
		if p.Dither != nil {
			proc.Dither = *p.Dither
		}
		var b []byte
		b, err = proc.Merge(p.Images, p.Duration)
		res = AnimationResult{Animation: b}

	case Reverse:
		var p ReverseParams
		err = UnmarshalParams(req.Params, &p)
		if err != nil {
			break
		}
		var b []byte
		b, err = proc.Reverse(p.Animation)
		res = AnimationResult{Animation: b}

	case Retime:
		var p RetimeParams
		err = UnmarshalParams(req.Params, &p)
		if err != nil {
			break
		}
		var b []byte
		b, err = proc.Retime(p.Animation, p.Duration)
		res = AnimationResult{Animation: b}

	default:
		return nil, jsonrpc2.ErrNotHandled
	}
	if err != nil {
		s.log.LogAttrs(ctx, slog.LevelError, req.Method, slog.Any("error", err))
		return nil, wireError(err)
	}
	return res, nil
}

// Close stops the server and waits for all connections to close.
func (s *Server) Close() error {
	s.log.LogAttrs(context.Background(), slog.LevelDebug, "close")
	s.server.Shutdown()
	err := s.server.Wait()
	if s.sock != "" {
		s.log.LogAttrs(context.Background(), slog.LevelDebug, "remove sockets dir", slog.String("dir", s.sock))
		err := os.RemoveAll(s.sock)
		if err != nil {
			s.log.LogAttrs(context.Background(), slog.LevelWarn, "failed to remove sockets dir", slog.Any("error", err))
		}
	}
	return err
}

// newNetListener returns a new Listener that listens on a socket using the net package.
func newNetListener(ctx context.Context, network, address string, options jsonrpc2.NetListenOptions) (*netListener, error) {
	ln, err := options.NetListenConfig.Listen(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return &netListener{net: ln}, nil
}

// netListener is the implementation of jsonrpc2.Listener for connections made using the net package.
type netListener struct {
	net net.Listener
}

// Addr returns the NetListener's network address.
func (l *netListener) Addr() net.Addr {
	return l.net.Addr()
}

// Accept blocks waiting for an incoming connection to the listener.
func (l *netListener) Accept(context.Context) (io.ReadWriteCloser, error) {
	return l.net.Accept()
}

// Close will cause the listener to stop listening and removes the socket
// file of a unix listener. It will not close any connections that have
// already been accepted.
func (l *netListener) Close() error {
	addr := l.net.Addr()
	err := l.net.Close()
	if addr.Network() == "unix" {
		rerr := os.Remove(addr.String())
		if rerr != nil && !errors.Is(rerr, os.ErrNotExist) && err == nil {
			err = rerr
		}
	}
	return err
}

// Dialer returns a nil jsonrpc2.Dialer.
func (l *netListener) Dialer() jsonrpc2.Dialer {
	return nil
}
