package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/davroz/fotolink/camera"
	"github.com/davroz/fotolink/logger"
	"github.com/davroz/fotolink/transfer"
)

// DefaultLastImagePath is where the most recent capture is persisted so
// it survives a server restart.
const DefaultLastImagePath = "/tmp/last.jpg"

// lineWait bounds one iteration of the server's command read loop. A
// timeout just loops; it exists so ctx cancellation is noticed on an
// idle link.
const lineWait = 5 * time.Second

// Server answers photo commands on a half-duplex link. Commands are
// handled strictly one at a time: the link cannot carry a command
// exchange and a payload stream concurrently.
type Server struct {
	link   transfer.Link
	cam    *camera.Camera
	tcfg   *transfer.Config
	logger logger.Logger

	lastPath string

	// captures holds in-memory payloads by name. Today only
	// StoredCaptureName is written; the map keeps named slots cheap to
	// add.
	captures *xsync.MapOf[string, []byte]
}

// ServerOption configures a Server.
type ServerOption interface {
	apply(*Server) error
}

type serverOptFunc func(*Server) error

func (f serverOptFunc) apply(s *Server) error { return f(s) }

// WithLastImagePath sets where the most recent capture is persisted.
func WithLastImagePath(path string) ServerOption {
	return serverOptFunc(func(s *Server) error {
		if path == "" {
			return errors.New("command: last image path must not be empty")
		}
		s.lastPath = path

		return nil
	})
}

// WithServerLogger sets the server's logger.
func WithServerLogger(l logger.Logger) ServerOption {
	return serverOptFunc(func(s *Server) error {
		if l == nil {
			return errors.New("command: logger must not be nil")
		}
		s.logger = l

		return nil
	})
}

// NewServer creates a Server answering commands on link, capturing with
// cam and streaming payloads per tcfg.
func NewServer(link transfer.Link, cam *camera.Camera, tcfg *transfer.Config, opts ...ServerOption) (*Server, error) {
	if link == nil || cam == nil || tcfg == nil {
		return nil, errors.New("command: link, camera and transfer config are required")
	}

	s := &Server{
		link:     link,
		cam:      cam,
		tcfg:     tcfg,
		logger:   logger.GetLogger(),
		lastPath: DefaultLastImagePath,
		captures: xsync.NewMapOf[string, []byte](),
	}

	for _, opt := range opts {
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Run reads command lines until ctx is cancelled or the link dies.
// Unparseable lines are logged as noise and skipped.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("command server started", "lastPath", s.lastPath)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := transfer.ReadLine(ctx, s.link, lineWait)
		if errors.Is(err, transfer.ErrLineTimeout) {
			continue
		}
		if err != nil {
			return fmt.Errorf("command: read command line: %w", err)
		}

		cmd := Parse(line)
		if cmd.Kind == KindNone {
			if line != "" {
				s.logger.Debug("ignoring noise line", "line", line)
			}

			continue
		}

		s.logger.Info("command received", "kind", cmd.Kind, "arg", cmd.Arg)
		s.handle(ctx, cmd)
	}
}

func (s *Server) handle(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case KindCapturar:
		s.handleCapturar(ctx, cmd.Arg)
	case KindEnviar:
		s.handleEnviar(ctx, cmd.Arg)
	case KindFoto:
		s.handleFoto(ctx, cmd.Arg)
	default:
	}
}

// handleCapturar captures a photo and stores it without streaming it. The
// client fetches it later with ENVIAR LAST.
func (s *Server) handleCapturar(ctx context.Context, sizeName string) {
	data, err := s.cam.Capture(ctx, sizeName)
	if err != nil {
		s.logger.Error("capture failed", "size", sizeName, "error", err)
		s.respond(badLine(ReasonNoImage))

		return
	}

	s.storeCapture(data)
	s.respond(okLine(len(data)))
	s.logger.Info("capture stored", "size", sizeName, "bytes", len(data))
}

// handleEnviar streams a stored capture or an on-disk file.
func (s *Server) handleEnviar(ctx context.Context, arg string) {
	payload, err := s.loadPayload(arg)
	if err != nil {
		s.logger.Error("no payload to send", "arg", arg, "error", err)
		s.respond(badLine(ReasonNoFile))

		return
	}

	s.respond(okLine(len(payload)))
	s.stream(ctx, payload)
}

// handleFoto captures and streams in one exchange.
func (s *Server) handleFoto(ctx context.Context, sizeName string) {
	data, err := s.cam.Capture(ctx, sizeName)
	if err != nil {
		s.logger.Error("capture failed", "size", sizeName, "error", err)
		s.respond(badLine(ReasonNoImage))

		return
	}

	s.storeCapture(data)
	s.respond(okLine(len(data)))
	s.stream(ctx, data)
}

// stream runs one send session for payload. On failure a best-effort
// BAD|SEND_FAILED is written; the client may see it as noise if it is
// already past its line phase, which is harmless.
func (s *Server) stream(ctx context.Context, payload []byte) {
	session := transfer.NewSession(s.link, s.tcfg)
	if err := session.Send(ctx, payload); err != nil {
		s.logger.Error("payload send failed", "bytes", len(payload), "error", err)
		s.respond(badLine(ReasonSendFailed))

		return
	}

	s.logger.Info("payload sent", "bytes", len(payload))
}

// storeCapture records data as the most recent capture, in memory and
// best-effort on disk.
func (s *Server) storeCapture(data []byte) {
	s.captures.Store(StoredCaptureName, data)

	if err := os.WriteFile(s.lastPath, data, 0o644); err != nil {
		s.logger.Warn("failed to persist capture", "path", s.lastPath, "error", err)
	}
}

// loadPayload resolves an ENVIAR argument: the stored capture name, with
// the persisted file as a fallback, or an arbitrary file path.
func (s *Server) loadPayload(arg string) ([]byte, error) {
	if arg == StoredCaptureName {
		if data, ok := s.captures.Load(StoredCaptureName); ok {
			return data, nil
		}

		return os.ReadFile(s.lastPath)
	}

	return os.ReadFile(arg)
}

// respond writes one response line. Write failures are logged; the client
// will time out on its side.
func (s *Server) respond(line string) {
	data := []byte(line)
	for written := 0; written < len(data); {
		n, err := s.link.Write(data[written:])
		written += n

		if err != nil {
			s.logger.Error("failed to write response", "error", err)

			return
		}
	}
}
