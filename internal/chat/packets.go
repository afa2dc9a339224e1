package chat

import (
	"time"

	"github.com/nebulamp/netcore/internal/packets"
)

const (
	WhisperTag             packets.Tag = 16
	WhoTag                 packets.Tag = 17
	NewChatMessageTag      packets.Tag = 18
	RemoteServerCommandTag packets.Tag = 19
)

// Packets is the chat packet set.
var Packets = packets.DefinitionList{
	packets.Define[ChatCommandWhisper](WhisperTag),
	packets.Define[ChatCommandWho](WhoTag),
	packets.Define[NewChatMessage](NewChatMessageTag),
	packets.Define[RemoteServerCommand](RemoteServerCommandTag),
}

type MessageType uint8

const (
	PlayerMessage MessageType = iota
	SystemInfoMessage
	SystemWarnMessage
	CommandUsageMessage
	CommandOutputMessage
	CommandErrorMessage
	PlayerMessagePrivate
)

// RemoteCommand is a command a client asks the server to run on its behalf.
type RemoteCommand uint8

const (
	CommandWho RemoteCommand = iota + 1
	CommandInfo
)

// ChatCommandWhisper is a private message. The server relays it to Recipient.
type ChatCommandWhisper struct {
	Sender    string
	Recipient string
	Message   string
}

func (p *ChatCommandWhisper) MarshalBinary() ([]byte, error) {
	var e packets.Encoder
	e.Text(1, p.Sender)
	e.Text(2, p.Recipient)
	e.Text(3, p.Message)
	return e.Bytes(), nil
}

func (p *ChatCommandWhisper) UnmarshalBinary(b []byte) error {
	d := packets.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			p.Sender = d.Text()
		case 2:
			p.Recipient = d.Text()
		case 3:
			p.Message = d.Text()
		}
	}
	return d.Err()
}

// ChatCommandWho asks for, or when Response is set answers with, the list of
// connected players.
type ChatCommandWho struct {
	Response bool
	Body     string
}

func (p *ChatCommandWho) MarshalBinary() ([]byte, error) {
	var e packets.Encoder
	e.Bool(1, p.Response)
	e.Text(2, p.Body)
	return e.Bytes(), nil
}

func (p *ChatCommandWho) UnmarshalBinary(b []byte) error {
	d := packets.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			p.Response = d.Bool()
		case 2:
			p.Body = d.Text()
		}
	}
	return d.Err()
}

type NewChatMessage struct {
	Type     MessageType
	Text     string
	SentAt   time.Time
	UserName string
}

func (p *NewChatMessage) MarshalBinary() ([]byte, error) {
	var e packets.Encoder
	e.Uint(1, uint64(p.Type))
	e.Text(2, p.Text)
	e.Time(3, p.SentAt)
	e.Text(4, p.UserName)
	return e.Bytes(), nil
}

func (p *NewChatMessage) UnmarshalBinary(b []byte) error {
	d := packets.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			p.Type = MessageType(d.Uint())
		case 2:
			p.Text = d.Text()
		case 3:
			p.SentAt = d.Time()
		case 4:
			p.UserName = d.Text()
		}
	}
	return d.Err()
}

type RemoteServerCommand struct {
	Command RemoteCommand
	Content string
}

func (p *RemoteServerCommand) MarshalBinary() ([]byte, error) {
	var e packets.Encoder
	e.Uint(1, uint64(p.Command))
	e.Text(2, p.Content)
	return e.Bytes(), nil
}

func (p *RemoteServerCommand) UnmarshalBinary(b []byte) error {
	d := packets.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			p.Command = RemoteCommand(d.Uint())
		case 2:
			p.Content = d.Text()
		}
	}
	return d.Err()
}
