// Package ws hosts connected client sessions over websocket. The handshake
// is JSON; in-game traffic is opaque binary packets fanned out by the field
// runtime.
package ws

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arcfield.gg/internal/migration"
	"arcfield.gg/internal/persistence/accountdb"
	plog "arcfield.gg/internal/persistence/log"
	"arcfield.gg/internal/protocol"
	"arcfield.gg/internal/sim/field"
)

type Server struct {
	fields  *field.Registry
	coord   *migration.Coordinator
	db      *accountdb.DB
	cfg     migration.Config
	traffic *plog.TrafficLogger
	audit   *plog.MigrationLogger
	log     *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(
	fields *field.Registry,
	coord *migration.Coordinator,
	db *accountdb.DB,
	cfg migration.Config,
	traffic *plog.TrafficLogger,
	audit *plog.MigrationLogger,
	logger *log.Logger,
) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		fields:  fields,
		coord:   coord,
		db:      db,
		cfg:     cfg,
		traffic: traffic,
		audit:   audit,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess, char := s.handshake(conn)
		if sess == nil {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sess.cancel = cancel

		// Writer goroutine. On shutdown it drains whatever is already
		// queued; the migrate command is enqueued moments before the
		// session ends and must still reach the client.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			write := func(p []byte) bool {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				return conn.WriteMessage(websocket.BinaryMessage, p) == nil
			}
			for {
				select {
				case <-ctx.Done():
					for {
						select {
						case p := <-sess.out:
							if !write(p) {
								return
							}
						default:
							return
						}
					}
				case p, ok := <-sess.out:
					if !ok {
						return
					}
					if !write(p) {
						cancel()
						return
					}
				}
			}
		}()

		user := field.NewUser(char, sess)
		f, err := s.fields.Field(char.FieldID)
		if err == nil {
			err = f.Enter(user)
		}
		if err != nil {
			s.log.Printf("ws %s: enter field %d: %v", sess.id, char.FieldID, err)
			_ = writeJSON(conn, protocol.RejectMsg{
				Type:            protocol.TypeReject,
				ProtocolVersion: protocol.Version,
				Reason:          "field unavailable",
			})
			s.teardown(sess, char)
			return
		}

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			s.logTraffic(sess, char, "in", msg)
			s.handlePacket(ctx, sess, user, msg)
			if sess.isMigrated() {
				break
			}
		}

		if fld := user.Field(); fld != nil {
			if err := fld.Leave(user); err != nil && !errors.Is(err, field.ErrNotInPool) {
				s.log.Printf("ws %s: leave field: %v", sess.id, err)
			}
		}
		s.teardown(sess, char)
		cancel()
		<-writerDone
	}
}

// handshake authenticates the connection. Migration completion is attempted
// first; an invalid migration (absent, expired, wrong target) falls through
// to ordinary login validation rather than surfacing an error to the client.
func (s *Server) handshake(conn *websocket.Conn) (*session, *field.Character) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"),
			time.Now().Add(time.Second))
		return nil, nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil, nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"),
			time.Now().Add(time.Second))
		return nil, nil
	}

	ctx, cancelAuth := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelAuth()

	reject := func(reason string) (*session, *field.Character) {
		_ = writeJSON(conn, protocol.RejectMsg{
			Type:            protocol.TypeReject,
			ProtocolVersion: protocol.Version,
			Reason:          reason,
		})
		return nil, nil
	}

	acc, err := s.db.AccountByName(ctx, hello.Account)
	if err != nil {
		return reject("unknown account")
	}
	char, err := s.db.CharacterByID(ctx, hello.CharacterID)
	if err != nil || char.AccountID != acc.ID {
		return reject("unknown character")
	}

	migrated, err := s.coord.CompleteMigration(ctx, char, s.coord.Info())
	if err != nil {
		// Cache down: deny rather than guess.
		s.log.Printf("ws: complete migration for character %d: %v", char.ID, err)
		return reject("service unavailable")
	}
	s.logMigration(char, "complete", migrated)
	if !migrated {
		// Ordinary login.
		if state, held, err := s.coord.AccountState(ctx, char.AccountID); err != nil {
			s.log.Printf("ws: account state for %d: %v", char.AccountID, err)
			return reject("service unavailable")
		} else if held {
			s.log.Printf("ws: account %d already %s", char.AccountID, state)
			return reject("account already connected")
		}
		if err := s.coord.MarkLoggedIn(ctx, char.AccountID); err != nil {
			return reject("service unavailable")
		}
		char.Account.LatestConnectedService = s.coord.Info().Name
		if err := s.db.SaveAccount(ctx, char.Account); err != nil {
			s.log.Printf("ws: save account %d: %v", char.AccountID, err)
		}
	}

	if err := writeJSON(conn, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ServiceName:     s.coord.Info().Name,
		CharacterID:     char.ID,
		FieldID:         char.FieldID,
	}); err != nil {
		return nil, nil
	}

	return newSession(s, char), char
}

func (s *Server) handlePacket(ctx context.Context, sess *session, user *field.User, msg []byte) {
	r := protocol.NewReader(msg)
	op, err := r.Opcode()
	if err != nil {
		return
	}
	char := user.Character()

	switch op {
	case protocol.OpUserMove:
		x, err1 := r.Uint16()
		y, err2 := r.Uint16()
		fh, err3 := r.Uint16()
		if err1 != nil || err2 != nil || err3 != nil {
			return
		}
		user.SetPosition(field.Point{X: int16(x), Y: int16(y)})
		user.SetFoothold(int16(fh))
		if f := user.Field(); f != nil {
			f.BroadcastPacketFrom(user, protocol.NewWriter(protocol.OpUserMove).
				Int64(user.ID()).
				Uint16(x).Uint16(y).Uint16(fh).
				Bytes())
		}

	case protocol.OpTransferField:
		fieldID, err1 := r.Int32()
		portalName, err2 := r.String()
		if err1 != nil || err2 != nil {
			return
		}
		dst, err := s.fields.Field(fieldID)
		if err != nil {
			s.log.Printf("ws %s: transfer to field %d: %v", sess.id, fieldID, err)
			return
		}
		at := field.PortalRef{}
		if portalName != "" {
			at = field.PortalByName(portalName)
		}
		if err := dst.EnterAt(user, at, nil); err != nil {
			s.log.Printf("ws %s: enter field %d: %v", sess.id, fieldID, err)
			return
		}
		if err := s.db.SaveCharacter(ctx, char); err != nil {
			s.log.Printf("ws %s: save character %d: %v", sess.id, char.ID, err)
		}

	case protocol.OpMigrateRequest:
		target, err := r.String()
		if err != nil {
			return
		}
		peer, ok := s.cfg.Peer(target)
		if !ok {
			s.log.Printf("ws %s: migrate to unknown service %q", sess.id, target)
			return
		}
		ok, err = s.coord.InitiateMigration(ctx, sess, char, peer, nil)
		if err != nil {
			s.log.Printf("ws %s: initiate migration: %v", sess.id, err)
		}
		s.logMigration(char, "initiate", ok)
		if ok {
			sess.markMigrated()
		}
	}
}

// teardown persists bookkeeping and releases the account soft lock. The lock
// stays when the session migrated away: the target service owns it now and
// TTL expiry covers the client never arriving.
func (s *Server) teardown(sess *session, char *field.Character) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.db.SaveCharacter(ctx, char); err != nil {
		s.log.Printf("ws %s: save character %d: %v", sess.id, char.ID, err)
	}
	if !sess.isMigrated() {
		if err := s.coord.ClearAccountState(ctx, char.AccountID); err != nil {
			s.log.Printf("ws %s: clear account state %d: %v", sess.id, char.AccountID, err)
		}
	}
}

func (s *Server) logTraffic(sess *session, char *field.Character, dir string, p []byte) {
	if s.traffic == nil || len(p) == 0 {
		return
	}
	_ = s.traffic.WritePacket(plog.TrafficEntry{
		Time:      time.Now().UTC(),
		Session:   sess.id,
		Character: char.ID,
		Dir:       dir,
		Opcode:    p[0],
		Size:      len(p),
	})
}

func (s *Server) logMigration(char *field.Character, op string, ok bool) {
	if s.audit == nil {
		return
	}
	_ = s.audit.WriteMigration(plog.MigrationEntry{
		Time:        time.Now().UTC(),
		CharacterID: char.ID,
		From:        char.Account.PreviousConnectedService,
		To:          char.Account.LatestConnectedService,
		Op:          op,
		OK:          ok,
	})
}

// session is one connected client; it implements field.Transport. Sends
// enqueue to the writer goroutine and never block, so one slow client cannot
// stall a field broadcast.
type session struct {
	id     string
	out    chan []byte
	cancel context.CancelFunc

	srv  *Server
	char *field.Character

	mu       sync.Mutex
	migrated bool
}

func newSession(s *Server, char *field.Character) *session {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return &session{
		id:   hex.EncodeToString(b),
		out:  make(chan []byte, 64),
		srv:  s,
		char: char,
	}
}

func (s *session) SendPacket(p []byte) error {
	select {
	case s.out <- p:
		s.srv.logTraffic(s, s.char, "out", p)
		return nil
	default:
		return fmt.Errorf("ws: session %s send queue full", s.id)
	}
}

func (s *session) markMigrated() {
	s.mu.Lock()
	s.migrated = true
	s.mu.Unlock()
}

func (s *session) isMigrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.migrated
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
