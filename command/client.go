package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/davroz/fotolink/internal/poll"
	"github.com/davroz/fotolink/logger"
	"github.com/davroz/fotolink/transfer"
)

// DefaultResponseTimeout bounds the wait for an OK|/BAD| line after a
// command is sent. Captures can take several seconds on real hardware.
const DefaultResponseTimeout = 15 * time.Second

// responsePollWait is the per-attempt line wait inside the response poll
// loop.
const responsePollWait = 200 * time.Millisecond

// Client issues photo commands over a half-duplex link and receives the
// resulting payload streams.
type Client struct {
	link   transfer.Link
	tcfg   *transfer.Config
	logger logger.Logger

	responseTimeout time.Duration
}

// ClientOption configures a Client.
type ClientOption interface {
	apply(*Client) error
}

type clientOptFunc func(*Client) error

func (f clientOptFunc) apply(c *Client) error { return f(c) }

// WithResponseTimeout sets the wait for the server's OK|/BAD| line.
func WithResponseTimeout(d time.Duration) ClientOption {
	return clientOptFunc(func(c *Client) error {
		if d <= 0 {
			return errors.New("command: response timeout must be positive")
		}
		c.responseTimeout = d

		return nil
	})
}

// WithClientLogger sets the client's logger.
func WithClientLogger(l logger.Logger) ClientOption {
	return clientOptFunc(func(c *Client) error {
		if l == nil {
			return errors.New("command: logger must not be nil")
		}
		c.logger = l

		return nil
	})
}

// NewClient creates a Client speaking on link, receiving payloads per
// tcfg.
func NewClient(link transfer.Link, tcfg *transfer.Config, opts ...ClientOption) (*Client, error) {
	if link == nil || tcfg == nil {
		return nil, errors.New("command: link and transfer config are required")
	}

	c := &Client{
		link:            link,
		tcfg:            tcfg,
		logger:          logger.GetLogger(),
		responseTimeout: DefaultResponseTimeout,
	}

	for _, opt := range opts {
		if err := opt.apply(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Capture asks the server to capture and store a photo without streaming
// it. Returns the stored size.
func (c *Client) Capture(ctx context.Context, sizeName string) (int, error) {
	resp, err := c.exchange(ctx, Command{Kind: KindCapturar, Arg: sizeName})
	if err != nil {
		return 0, err
	}

	c.logger.Info("capture stored on server", "size", sizeName, "bytes", resp.size)

	return resp.size, nil
}

// Fetch asks the server to capture a photo and stream it back. The
// returned Result always carries the best available buffer; err is
// non-nil when the transfer did not complete.
func (c *Client) Fetch(ctx context.Context, sizeName string) (*transfer.Result, error) {
	return c.request(ctx, Command{Kind: KindFoto, Arg: sizeName})
}

// Download asks the server to stream a stored capture (StoredCaptureName)
// or an on-disk file.
func (c *Client) Download(ctx context.Context, path string) (*transfer.Result, error) {
	return c.request(ctx, Command{Kind: KindEnviar, Arg: path})
}

// FetchToFile fetches a photo and writes whatever arrived to outPath. The
// file is written even when the transfer failed partway: a partial image
// is still worth inspecting. The returned error reflects the transfer
// outcome.
func (c *Client) FetchToFile(ctx context.Context, sizeName, outPath string) (*transfer.Result, error) {
	res, fetchErr := c.Fetch(ctx, sizeName)
	if res == nil || len(res.Data) == 0 {
		return res, fetchErr
	}

	if err := os.WriteFile(outPath, res.Data, 0o644); err != nil {
		return res, fmt.Errorf("command: write %s: %w", outPath, err)
	}

	c.logger.Info("image written",
		"path", outPath,
		"bytes", len(res.Data),
		"complete", res.Complete,
	)

	return res, fetchErr
}

// request runs a full command exchange: send the line, await the size
// response, then receive the payload stream.
func (c *Client) request(ctx context.Context, cmd Command) (*transfer.Result, error) {
	resp, err := c.exchange(ctx, cmd)
	if err != nil {
		return nil, err
	}

	c.logger.Info("payload announced", "kind", cmd.Kind, "bytes", resp.size)

	session := transfer.NewSession(c.link, c.tcfg)

	return session.Receive(ctx, resp.size)
}

// exchange sends one command line and waits for its OK|/BAD| response.
func (c *Client) exchange(ctx context.Context, cmd Command) (response, error) {
	// Stale bytes from a previous exchange would only confuse the
	// response wait.
	_ = c.link.ResetInputBuffer()
	_ = c.link.ResetOutputBuffer()

	if err := c.writeLine(cmd.Line()); err != nil {
		return response{}, fmt.Errorf("command: send %v: %w", cmd.Kind, err)
	}

	c.logger.Info("command sent", "kind", cmd.Kind, "arg", cmd.Arg)

	resp, err := c.awaitResponse(ctx)
	if err != nil {
		return response{}, err
	}

	if !resp.ok {
		return response{}, fmt.Errorf("%w: %v: %s", ErrRejected, cmd.Kind, resp.reason)
	}

	return resp, nil
}

// awaitResponse polls for a response line, skipping noise, until the
// response timeout elapses.
func (c *Client) awaitResponse(ctx context.Context) (response, error) {
	var resp response

	err := poll.Until(ctx, c.responseTimeout, 0, func() (bool, error) {
		line, err := transfer.ReadLine(ctx, c.link, responsePollWait)
		if errors.Is(err, transfer.ErrLineTimeout) {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		r, valid := parseResponse(line)
		if !valid {
			if line != "" {
				c.logger.Debug("ignoring line while awaiting response", "line", line)
			}

			return false, nil
		}

		resp = r

		return true, nil
	})
	if errors.Is(err, poll.ErrDeadline) {
		return response{}, ErrNoResponse
	}
	if err != nil {
		return response{}, err
	}

	return resp, nil
}

func (c *Client) writeLine(line string) error {
	data := []byte(line)
	for written := 0; written < len(data); {
		n, err := c.link.Write(data[written:])
		written += n

		if err != nil {
			return err
		}
	}

	return nil
}
