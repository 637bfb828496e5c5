package bridge

import (
	"errors"
	"io"
	"log"
	"net"
	"os"
)

// A session is one emulator connection. Frames and responses strictly
// alternate. The frames channel is closed when the connection drops so
// that the simulation side can notice and reset.
type session struct {
	frames    chan [FrameSize]byte
	responses chan response
}

func newSession() *session {
	return &session{
		frames:    make(chan [FrameSize]byte, 1),
		responses: make(chan response, 1),
	}
}

// A listener owns the unix socket and runs entirely outside the simulation
// goroutine. It serves a single emulator session and hands it to the
// simulation side through the sessions channel.
type listener struct {
	sockPath string
	ln       net.Listener

	sessions chan *session
}

func newListener(sockPath string) *listener {
	return &listener{
		sockPath: sockPath,
		sessions: make(chan *session, 1),
	}
}

// start binds the socket. A stale socket file from a previous run is
// removed first.
func (l *listener) start() error {
	if err := os.Remove(l.sockPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	ln, err := net.Listen("unix", l.sockPath)
	if err != nil {
		return err
	}

	l.ln = ln
	go l.acceptLoop()

	return nil
}

func (l *listener) stop() {
	if l.ln != nil {
		l.ln.Close()
	}
}

// acceptLoop serves a single emulator session. The run of the simulation
// is tied to that session: when it ends, the bridge shuts the socket down
// and the engine drains.
func (l *listener) acceptLoop() {
	conn, err := l.ln.Accept()
	if err != nil {
		if !errors.Is(err, net.ErrClosed) {
			log.Printf("bridge: accept: %v", err)
		}
		return
	}

	go l.rejectExtras()

	l.serve(conn)
}

// rejectExtras turns away connections that arrive while the session is
// live. The emulator owns the socket exclusively. It exits when the
// socket is closed.
func (l *listener) rejectExtras() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}

		log.Print("bridge: rejecting connection, a session is active")
		conn.Close()
	}
}

// serve runs one session to completion. It always consumes the response
// for every frame it forwarded, so a dead connection can never leave a
// stale response behind for the next session.
func (l *listener) serve(conn net.Conn) {
	defer conn.Close()

	sess := newSession()
	l.sessions <- sess
	defer close(sess.frames)

	log.Print("bridge: session started")
	defer log.Print("bridge: session ended")

	for {
		var frame [FrameSize]byte
		if _, err := io.ReadFull(conn, frame[:]); err != nil {
			if err != io.EOF {
				log.Printf("bridge: read: %v", err)
			}
			return
		}

		sess.frames <- frame

		resp := <-sess.responses
		if resp.fatal {
			return
		}

		if _, err := conn.Write(resp.payload); err != nil {
			log.Printf("bridge: write: %v", err)
			return
		}
	}
}
