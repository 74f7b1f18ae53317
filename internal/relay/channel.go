package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"cockpit-ssh-relay/internal/problem"
	"cockpit-ssh-relay/internal/protocol"
)

// conduit is the relay's channel I/O loop (§4.F): §4.G step 5 opens
// exactly one SSH "session" channel and execs the bridge command once,
// then the loop shuttles the framed stdio stream across that one SSH
// channel byte-for-byte. The relay never parses channel ids out of the
// frames it forwards — the remote cockpit-bridge is the one that
// demultiplexes logical channels from the frames it receives (§1: "the
// relay does not interpret payload bytes once framing is established;
// it is a byte-accurate conduit").
type conduit struct {
	client        *ssh.Client
	in            io.Reader
	out           io.Writer
	bridgeCommand string

	writeMu sync.Mutex

	mu            sync.Mutex
	receivedFrame bool
	sentEOF       bool
	receivedEOF   bool
	closeOnce     sync.Once
}

func newConduit(client *ssh.Client, in io.Reader, out io.Writer, bridgeCommand string) *conduit {
	return &conduit{
		client:        client,
		in:            in,
		out:           out,
		bridgeCommand: bridgeCommand,
	}
}

// Run opens the single SSH session channel, execs the bridge command on
// it, and pumps bytes bidirectionally until the channel or the local
// pipe is torn down (§4.F, §4.G steps 5-6).
func (m *conduit) Run(ctx context.Context) error {
	channel, requests, err := m.client.OpenChannel("session", nil)
	if err != nil {
		return fmt.Errorf("relay: open session channel: %w", err)
	}

	execPayload := ssh.Marshal(&struct{ Command string }{Command: m.bridgeCommand})
	ok, err := channel.SendRequest("exec", true, execPayload)
	if err != nil {
		channel.Close()
		return fmt.Errorf("relay: exec request: %w", err)
	}
	if !ok {
		channel.Close()
		return errNoCockpit
	}

	exitProblem := make(chan problem.Code, 1)
	go m.watchRequests(channel, requests, exitProblem)

	stdinDone := make(chan error, 1)
	go func() { stdinDone <- m.pumpFromStdin(channel) }()

	chanDone := make(chan error, 1)
	go func() { chanDone <- m.pumpFromChannel(channel) }()

	var runErr error
	select {
	case <-ctx.Done():
		m.closeChannel(channel)
		<-stdinDone
		<-chanDone
		return ctx.Err()
	case prob := <-exitProblem:
		m.closeChannel(channel)
		<-stdinDone
		<-chanDone
		if prob != problem.None {
			runErr = problemError{prob}
		}
		return runErr
	case err := <-stdinDone:
		if err != nil {
			m.closeChannel(channel)
			<-chanDone
			return err
		}
		// Local EOF: half-close the SSH channel and keep reading the
		// bridge's output until it too finishes (§4.F step 4).
		select {
		case prob := <-exitProblem:
			m.closeChannel(channel)
			<-chanDone
			if prob != problem.None {
				return problemError{prob}
			}
			return nil
		case err := <-chanDone:
			m.closeChannel(channel)
			return err
		}
	case err := <-chanDone:
		m.closeChannel(channel)
		<-stdinDone
		return err
	}
}

// errNoCockpit is returned when the remote end refuses the exec
// request outright (no shell output to sniff at all).
var errNoCockpit = problemError{problem.NoCockpit}

// problemError carries a problem.Code as an error so Run's caller can
// recover it without a type-switch on a bespoke sentinel per code.
type problemError struct{ code problem.Code }

func (e problemError) Error() string { return string(e.code) }

// pumpFromStdin copies the broker's framed stdin stream onto the SSH
// channel byte-for-byte, sending the SSH channel's EOF once the local
// pipe is drained.
func (m *conduit) pumpFromStdin(channel ssh.Channel) error {
	buf := make([]byte, 64*1024)
	for {
		n, err := m.in.Read(buf)
		if n > 0 {
			if _, werr := channel.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			m.mu.Lock()
			m.sentEOF = true
			m.mu.Unlock()
			channel.CloseWrite()
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// pumpFromChannel copies the SSH channel's output back onto local
// stdout byte-for-byte, applying the first-frame heuristic (§4.F) only
// to decide whether a later nonzero exit happened before or after the
// bridge ever spoke the framed protocol.
func (m *conduit) pumpFromChannel(channel ssh.Channel) error {
	buf := make([]byte, 64*1024)
	for {
		n, err := channel.Read(buf)
		if n > 0 {
			m.observeFrame(buf[:n])
			m.writeOut(buf[:n])
		}
		if err != nil {
			m.mu.Lock()
			m.receivedEOF = true
			m.mu.Unlock()
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// observeFrame latches receivedFrame once the remote bridge's output
// looks like a well-formed length-prefixed frame (a newline-terminated
// decimal on the first bytes seen); until then, output is tolerated as
// plain shell text (e.g. "cockpit-bridge: not found") rather than a
// frame (§4.F "First-frame heuristic").
func (m *conduit) observeFrame(chunk []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.receivedFrame {
		return
	}
	nl := bytes.IndexByte(chunk, '\n')
	if nl < 0 {
		return
	}
	if _, err := protocol.ParseDecimalLength(chunk[:nl]); err == nil {
		m.receivedFrame = true
	}
}

func (m *conduit) hasSeenFrame() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receivedFrame
}

// watchRequests consumes the session channel's request stream, mapping
// exit-status/exit-signal to the problem.Code vocabulary (§4.F) and
// signalling Run once either arrives. Every other request type is
// replied to negatively (mirroring ssh.DiscardRequests, which this
// replaces) so the remote side does not block waiting on a reply.
func (m *conduit) watchRequests(channel ssh.Channel, requests <-chan *ssh.Request, exitProblem chan<- problem.Code) {
	for req := range requests {
		switch req.Type {
		case "exit-status":
			var status struct{ Code uint32 }
			if err := ssh.Unmarshal(req.Payload, &status); err != nil {
				if req.WantReply {
					req.Reply(false, nil)
				}
				continue
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
			select {
			case exitProblem <- exitStatusProblem(int(status.Code), m.hasSeenFrame()):
			default:
			}
		case "exit-signal":
			var sig struct {
				Signal       string
				CoreDumped   bool
				ErrorMessage string
				Lang         string
			}
			if err := ssh.Unmarshal(req.Payload, &sig); err != nil {
				if req.WantReply {
					req.Reply(false, nil)
				}
				continue
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
			select {
			case exitProblem <- exitSignalProblem(sig.Signal):
			default:
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// exitStatusProblem maps a remote bridge's exit-status to a problem
// code (§4.F): 127 always means the command was not found; any other
// nonzero status before the bridge ever produced a frame is presumed to
// be a shell reporting "command not found" too, while the same status
// after a frame has been seen is treated as a genuine bridge failure.
func exitStatusProblem(code int, sawFrame bool) problem.Code {
	if code == 127 {
		return problem.NoCockpit
	}
	if code == 0 {
		return problem.None
	}
	if !sawFrame {
		return problem.NoCockpit
	}
	return problem.InternalError
}

// exitSignalProblem maps a remote bridge's terminating signal to a
// problem code (§4.F, §9 Open Question): only TERM/Terminated is
// recognized as an orderly kill, mirroring the source's own aliasing.
func exitSignalProblem(signal string) problem.Code {
	if signal == "TERM" || signal == "Terminated" {
		return problem.Terminated
	}
	return problem.InternalError
}

func (m *conduit) writeOut(b []byte) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if _, err := m.out.Write(b); err != nil {
		log.WithError(err).Debug("relay: write to stdio failed")
	}
}

func (m *conduit) closeChannel(channel ssh.Channel) {
	m.closeOnce.Do(func() {
		channel.Close()
	})
}
