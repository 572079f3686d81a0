package process

import (
	"context"
	"fmt"
	"sync"
)

// Session ties a server's running lifetime to a block of work.
//
// Closing a session requests a stop on a background goroutine and returns
// immediately, so the server may still be shutting down when Close
// returns. Callers that must not proceed until the server is gone wait on
// Done.
type Session struct {
	srv *Server

	once sync.Once
	done chan struct{}

	mu   sync.Mutex
	code int
	err  error
}

// OpenSession starts srv and returns a session owning its lifetime.
func OpenSession(ctx context.Context, srv *Server) (*Session, error) {
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	return &Session{srv: srv, done: make(chan struct{})}, nil
}

// Server returns the supervised server.
func (s *Session) Server() *Server {
	return s.srv
}

// Close requests a graceful stop and returns without waiting for it. It
// always returns nil; the outcome of the stop is reported by Err once Done
// is closed. Calls after the first are no-ops.
func (s *Session) Close() error {
	s.end(nil)
	return nil
}

// CloseWithError requests a stop after cause ended the work early. The
// cause is logged and the server is killed rather than stopped gracefully.
func (s *Session) CloseWithError(cause error) {
	s.end(cause)
}

func (s *Session) end(cause error) {
	s.once.Do(func() {
		go func() {
			defer close(s.done)
			ctx := context.Background()
			var (
				code int
				err  error
			)
			if cause != nil {
				code, err = s.srv.Abort(ctx, cause)
			} else {
				code, err = s.srv.Stop(ctx)
			}
			if err != nil {
				s.srv.logger.Warn("session stop failed", "name", s.srv.cfg.Name, "error", err)
			}
			s.mu.Lock()
			s.code, s.err = code, err
			s.mu.Unlock()
		}()
	})
}

// Done is closed once the stop requested by Close has finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error from the stop, valid after Done is closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ExitCode returns the exit code from the stop, valid after Done is closed.
func (s *Session) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// RunSession starts srv, runs fn, then closes the session. When fn fails
// or panics the server is aborted with that failure; otherwise it is
// stopped gracefully. RunSession does not wait for the stop to finish.
func RunSession(ctx context.Context, srv *Server, fn func(ctx context.Context, srv *Server) error) (err error) {
	sess, err := OpenSession(ctx, srv)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			sess.CloseWithError(fmt.Errorf("panic: %v", r))
			panic(r)
		}
		if err != nil {
			sess.CloseWithError(err)
			return
		}
		sess.Close() //nolint:errcheck // always nil
	}()
	return fn(ctx, srv)
}
