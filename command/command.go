// Package command implements the line-oriented command protocol spoken
// before a transfer session: a client asks for a photo or a file, the
// server answers with a size response and then streams the payload as one
// framed transfer.
//
// Command grammar:
//
//	<FOTO:{size_name:THUMBNAIL}>      capture and stream in one step
//	<CAPTURAR:{size_name:FULL_HD}>    capture and store only
//	<ENVIAR:{path:LAST}>              stream a stored capture or a file
//
// Responses are single lines: "OK|<size>" announces the payload that
// follows (or was stored); "BAD|<reason>" reports a failure. Anything
// else on the line is noise and ignored by both sides.
package command

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrRejected reports a BAD|<reason> response from the server.
	ErrRejected = errors.New("command: server rejected command")

	// ErrNoResponse reports that no OK or BAD line arrived in time.
	ErrNoResponse = errors.New("command: no response from server")
)

// Failure reasons carried in BAD| responses.
const (
	ReasonNoImage    = "NO_IMAGE"
	ReasonNoFile     = "NO_FILE"
	ReasonSendFailed = "SEND_FAILED"
)

// Kind identifies a parsed command.
type Kind int

const (
	KindNone Kind = iota
	KindFoto
	KindCapturar
	KindEnviar
)

func (k Kind) String() string {
	switch k {
	case KindFoto:
		return "FOTO"
	case KindCapturar:
		return "CAPTURAR"
	case KindEnviar:
		return "ENVIAR"
	default:
		return "NONE"
	}
}

// Command is one parsed command line. Arg carries the size name for FOTO
// and CAPTURAR, and the path (or "LAST") for ENVIAR.
type Command struct {
	Kind Kind
	Arg  string
}

// StoredCaptureName is the ENVIAR argument addressing the most recent
// stored capture instead of a file path.
const StoredCaptureName = "LAST"

const (
	respOKPrefix  = "OK|"
	respBadPrefix = "BAD|"
)

var (
	reFoto     = regexp.MustCompile(`^<FOTO:\{size_name:(\w+)\}>$`)
	reCapturar = regexp.MustCompile(`^<CAPTURAR:\{size_name:(\w+)\}>$`)
	reEnviar   = regexp.MustCompile(`^<ENVIAR:\{path:([^}]+)\}>$`)
)

// Parse matches line against the command grammar. Lines that match
// nothing return a Command with KindNone; they are link noise, not
// errors.
func Parse(line string) Command {
	line = strings.TrimSpace(line)

	if m := reFoto.FindStringSubmatch(line); m != nil {
		return Command{Kind: KindFoto, Arg: m[1]}
	}
	if m := reCapturar.FindStringSubmatch(line); m != nil {
		return Command{Kind: KindCapturar, Arg: m[1]}
	}
	if m := reEnviar.FindStringSubmatch(line); m != nil {
		return Command{Kind: KindEnviar, Arg: m[1]}
	}

	return Command{Kind: KindNone}
}

// Line renders the command in wire form, CRLF terminated.
func (c Command) Line() string {
	switch c.Kind {
	case KindFoto:
		return fmt.Sprintf("<FOTO:{size_name:%s}>\r\n", c.Arg)
	case KindCapturar:
		return fmt.Sprintf("<CAPTURAR:{size_name:%s}>\r\n", c.Arg)
	case KindEnviar:
		return fmt.Sprintf("<ENVIAR:{path:%s}>\r\n", c.Arg)
	default:
		return ""
	}
}

// response is one parsed OK|/BAD| line.
type response struct {
	ok     bool
	size   int
	reason string
}

// parseResponse matches line against the response grammar. valid is false
// for noise lines.
func parseResponse(line string) (resp response, valid bool) {
	line = strings.TrimSpace(line)

	if rest, found := strings.CutPrefix(line, respOKPrefix); found {
		size, err := strconv.Atoi(rest)
		if err != nil || size < 0 {
			return response{}, false
		}

		return response{ok: true, size: size}, true
	}

	if rest, found := strings.CutPrefix(line, respBadPrefix); found {
		return response{reason: rest}, true
	}

	return response{}, false
}

func okLine(size int) string {
	return fmt.Sprintf("%s%d\r\n", respOKPrefix, size)
}

func badLine(reason string) string {
	return fmt.Sprintf("%s%s\r\n", respBadPrefix, reason)
}
