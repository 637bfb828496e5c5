package gpio

import (
	"errors"
	"log"
	"net"
	"os"
)

// A session is one client connection. The reader goroutine feeds requests
// in, the simulation side pushes replies and notifications out. Replies
// travel on their own channel: the protocol owes the client exactly one
// reply per request, so replies must never be dropped, while notifications
// on the out channel may be shed when the client does not drain them. The
// replies channel is closed by the simulation side once the session is
// over, which makes the writer goroutine close the connection and exit.
type session struct {
	requests chan message
	replies  chan []byte
	out      chan []byte
}

func newSession() *session {
	return &session{
		requests: make(chan message, 1),
		replies:  make(chan []byte, 1),
		out:      make(chan []byte, 64),
	}
}

// A server owns the unix socket. Unlike the register bridge, it keeps
// re-accepting clients after a disconnect. Clients are served one at a
// time, a second connector waits in the listen backlog.
type server struct {
	sockPath string
	ln       net.Listener

	sessions chan *session
}

func newServer(sockPath string) *server {
	return &server{
		sockPath: sockPath,
		sessions: make(chan *session, 1),
	}
}

func (s *server) start() error {
	if err := os.Remove(s.sockPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	ln, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return err
	}

	s.ln = ln
	go s.acceptLoop()

	return nil
}

func (s *server) stop() {
	if s.ln != nil {
		s.ln.Close()
	}
}

func (s *server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Printf("gpio: accept: %v", err)
			}
			return
		}

		s.serve(conn)
	}
}

func (s *server) serve(conn net.Conn) {
	sess := newSession()
	s.sessions <- sess

	log.Print("gpio: client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			// A pending reply goes out ahead of queued notifications.
			// Write errors are ignored; the reader notices the dead
			// connection and ends the session.
			select {
			case msg, ok := <-sess.replies:
				if !ok {
					conn.Close()
					return
				}
				conn.Write(msg)
				continue
			default:
			}

			select {
			case msg, ok := <-sess.replies:
				if !ok {
					conn.Close()
					return
				}
				conn.Write(msg)
			case msg := <-sess.out:
				conn.Write(msg)
			}
		}
	}()

	for {
		msg, err := readMessage(conn)
		if err != nil {
			break
		}

		select {
		case sess.requests <- msg:
		case <-writerDone:
			// The simulation side already dropped this session.
		}
	}

	close(sess.requests)
	<-writerDone
	conn.Close()

	log.Print("gpio: client disconnected")
}
