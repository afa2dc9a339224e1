// Package chat relays player chat and answers the chat commands that need the
// server's view of the session.
package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nebulamp/netcore/internal/dispatch"
	"github.com/nebulamp/netcore/internal/session"
)

// SystemSender is the sender name used for messages generated by the server.
const SystemSender = "SYSTEM"

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUnknownCommand = errors.New("unknown command")
)

// Server handles chat packets for the players in a session.
type Server struct {
	Lifecycle *session.Lifecycle
	Logger    logrus.FieldLogger
	// Version and StartedAt are reported by the info command.
	Version   string
	StartedAt time.Time

	now func() time.Time
}

// Register installs the chat handlers on d.
func (s *Server) Register(d *dispatch.Dispatcher) error {
	if s.Logger == nil {
		s.Logger = logrus.StandardLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = s.now()
	}

	if err := dispatch.Handle(d, s.handleWhisper); err != nil {
		return err
	}
	if err := dispatch.Handle(d, s.handleWho); err != nil {
		return err
	}
	if err := dispatch.Handle(d, s.handleChatMessage); err != nil {
		return err
	}
	return dispatch.Handle(d, s.handleRemoteCommand)
}

// sender returns the connected player on c, or nil if c may not chat.
func (s *Server) sender(c *session.Conn) *session.Player {
	p := s.Lifecycle.Players().Get(c)
	if p == nil || p.Status() != session.Connected {
		s.Logger.Debugf("[CHAT] ignoring chat from %s", c)
		return nil
	}
	return p
}

func (s *Server) handleWhisper(pkt *ChatCommandWhisper, c *session.Conn) {
	from := s.sender(c)
	if from == nil {
		return
	}
	pkt.Sender = from.Username

	recipient := s.Lifecycle.Players().FindByUsername(pkt.Recipient)
	if recipient == nil || recipient.Status() != session.Connected {
		s.Logger.Infof("[CHAT] whisper from %s to unknown player %s", from.Username, pkt.Recipient)
		c.SendPacket(&ChatCommandWhisper{
			Sender:    SystemSender,
			Recipient: from.Username,
			Message:   errorMessage(ErrUserNotFound, pkt.Recipient),
		})
		return
	}
	recipient.Conn.SendPacket(pkt)
}

func (s *Server) handleWho(pkt *ChatCommandWho, c *session.Conn) {
	if pkt.Response || s.sender(c) == nil {
		return
	}
	c.SendPacket(&ChatCommandWho{Response: true, Body: strings.Join(s.connectedNames(), ", ")})
}

// handleChatMessage stamps a player's message with their name and relays it to
// everybody else.
func (s *Server) handleChatMessage(pkt *NewChatMessage, c *session.Conn) {
	from := s.sender(c)
	if from == nil {
		return
	}
	pkt.UserName = from.Username
	pkt.Type = PlayerMessage
	if pkt.SentAt.IsZero() {
		pkt.SentAt = s.now().UTC()
	}
	s.Lifecycle.SendPacketExcluding(pkt, c)
}

func (s *Server) handleRemoteCommand(pkt *RemoteServerCommand, c *session.Conn) {
	if s.sender(c) == nil {
		return
	}

	reply := &NewChatMessage{Type: CommandOutputMessage, SentAt: s.now().UTC(), UserName: SystemSender}
	switch pkt.Command {
	case CommandWho:
		names := s.connectedNames()
		reply.Text = fmt.Sprintf("%d players online: %s", len(names), strings.Join(names, ", "))
	case CommandInfo:
		reply.Text = fmt.Sprintf("Nebula server %s, up %s, %d players",
			s.Version, s.now().Sub(s.StartedAt).Truncate(time.Second), s.Lifecycle.NumPlayers())
	default:
		reply.Type = CommandErrorMessage
		reply.Text = errorMessage(ErrUnknownCommand, fmt.Sprint(pkt.Command))
	}
	c.SendPacket(reply)
}

func (s *Server) connectedNames() []string {
	var names []string
	for _, p := range s.Lifecycle.Players().Subset(session.Connected) {
		names = append(names, p.Username)
	}
	return names
}

func errorMessage(err error, subject string) string {
	return cases.Title(language.English).String(err.Error()) + ": " + subject
}
