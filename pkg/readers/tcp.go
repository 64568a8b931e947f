package readers

import (
	"bufio"
	"context"
	"net"
	"time"

	"mirrordb/pkg/dbsync"
	"mirrordb/pkg/logger"
)

const (
	greetingTimeout = 30 * time.Second
	writeTimeout    = 30 * time.Second
)

// TCPServer accepts data-reader connections and bridges them onto the
// registry and the sync bus.
type TCPServer struct {
	Addr        string
	Registry    *Registry
	Bus         *dbsync.Bus
	PingTimeout time.Duration
}

func NewTCPServer(addr string, registry *Registry, bus *dbsync.Bus) *TCPServer {
	return &TCPServer{
		Addr:        addr,
		Registry:    registry,
		Bus:         bus,
		PingTimeout: 60 * time.Second,
	}
}

// Run listens until ctx is cancelled.
func (srv *TCPServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	logger.Info("tcp_reader_listening", "addr", srv.Addr)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			logger.Warn("tcp_accept_failed", "err", err)
			continue
		}
		go srv.handleConn(ctx, conn)
	}
}

func (srv *TCPServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	br := bufio.NewReader(conn)

	_ = conn.SetReadDeadline(time.Now().Add(greetingTimeout))
	greeting, err := ReadPacket(br)
	if err != nil || greeting.Op != PacketGreeting {
		logger.Warn("tcp_greeting_failed", "remote", conn.RemoteAddr().String(), "err", err)
		return
	}

	session := srv.Registry.NewSession(TransportTCP, greeting.Name, greeting.Version, greeting.Compress)
	session.RemoteAddr = conn.RemoteAddr().String()
	defer srv.Registry.Remove(session.ID)

	go srv.flush(ctx, conn, session)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(srv.PingTimeout))
		packet, err := ReadPacket(br)
		if err != nil {
			logger.Info("tcp_reader_closed", "session", session.ID, "err", err)
			return
		}
		session.Touch()

		switch packet.Op {
		case PacketPing:
			_ = session.Enqueue(PackPong())
		case PacketPong:
			// liveness only
		case PacketSubscribe:
			srv.subscribe(session, packet.Table)
		default:
			logger.Warn("tcp_unexpected_packet", "session", session.ID, "opcode", packet.Op)
			return
		}

		if session.Closed() {
			return
		}
	}
}

// subscribe registers interest and routes the first-init snapshot
// through the bus so it stays ordered against concurrent writes.
func (srv *TCPServer) subscribe(session *Session, table string) {
	session.Subscribe(table)
	PublishFirstInit(srv.Bus, session, table)
}

// PublishFirstInit emits the subscription marker event for a session.
// It carries no snapshot: the broadcaster reads the table when it
// handles the event, after every write queued ahead of it.
func PublishFirstInit(bus *dbsync.Bus, session *Session, table string) {
	bus.Publish(dbsync.Event{
		Kind:      dbsync.KindTableFirstInit,
		Source:    dbsync.SourceInitialization,
		Table:     table,
		SessionID: session.ID,
	})
}

// flush drains the session's outgoing queue to the socket.
func (srv *TCPServer) flush(ctx context.Context, conn net.Conn, session *Session) {
	for {
		for {
			payload, ok := session.TryDequeue()
			if !ok {
				break
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := conn.Write(payload); err != nil {
				logger.Warn("tcp_write_failed", "session", session.ID, "err", err)
				srv.Registry.Remove(session.ID)
				_ = conn.Close()
				return
			}
		}
		if session.Closed() {
			_ = conn.Close()
			return
		}
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-session.Wake():
		}
	}
}
