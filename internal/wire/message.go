// Package wire defines the binary messages exchanged between voice clients
// and the relay.
//
// Every message is a single WebSocket binary frame: a one-byte opcode
// followed by its fields. Strings are prefixed with a big-endian uint16
// length; an audio payload always runs to the end of the frame.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Op identifies a message type.
type Op byte

const (
	OpJoinVoice    Op = 1
	OpLeaveVoice   Op = 2
	OpSendAudio    Op = 3
	OpReceiveAudio Op = 4
	OpAck          Op = 5
)

func (o Op) String() string {
	switch o {
	case OpJoinVoice:
		return "join_voice"
	case OpLeaveVoice:
		return "leave_voice"
	case OpSendAudio:
		return "send_audio"
	case OpReceiveAudio:
		return "receive_audio"
	case OpAck:
		return "ack"
	default:
		return fmt.Sprintf("op(%d)", byte(o))
	}
}

// Status is the outcome carried by an Ack.
type Status byte

const (
	StatusOK Status = iota
	StatusEngineInitFailed
	StatusMaxSessions
	StatusBadRequest
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEngineInitFailed:
		return "engine_init_failed"
	case StatusMaxSessions:
		return "max_sessions"
	case StatusBadRequest:
		return "bad_request"
	default:
		return fmt.Sprintf("status(%d)", byte(s))
	}
}

var (
	// ErrTextFrame is returned when a peer sends a text message.
	ErrTextFrame = errors.New("text frames are not supported")
	// ErrShortMessage is returned when a message ends before its fields do.
	ErrShortMessage = errors.New("short message")
	// ErrUnknownOp is returned for an unrecognized opcode.
	ErrUnknownOp = errors.New("unknown opcode")
)

const maxStringLen = 1<<16 - 1

// Message is a decoded wire message. Only the fields used by Op are set.
type Message struct {
	Op        Op
	ChannelID string // join, leave, send, ack
	SenderID  string // receive
	Payload   []byte // send, receive
	AckOp     Op     // ack
	Status    Status // ack
	Text      string // ack
}

// JoinVoice builds a join request.
func JoinVoice(channelID string) Message {
	return Message{Op: OpJoinVoice, ChannelID: channelID}
}

// LeaveVoice builds a leave request.
func LeaveVoice(channelID string) Message {
	return Message{Op: OpLeaveVoice, ChannelID: channelID}
}

// SendAudio builds a client audio frame.
func SendAudio(channelID string, pcm []byte) Message {
	return Message{Op: OpSendAudio, ChannelID: channelID, Payload: pcm}
}

// ReceiveAudio builds a relayed audio frame.
func ReceiveAudio(senderID string, pcm []byte) Message {
	return Message{Op: OpReceiveAudio, SenderID: senderID, Payload: pcm}
}

// Ack builds an acknowledgement for a join or leave request.
func Ack(op Op, status Status, channelID, text string) Message {
	return Message{Op: OpAck, AckOp: op, Status: status, ChannelID: channelID, Text: text}
}

// Encode serializes m.
func Encode(m Message) ([]byte, error) {
	switch m.Op {
	case OpJoinVoice, OpLeaveVoice:
		buf := make([]byte, 0, 3+len(m.ChannelID))
		buf = append(buf, byte(m.Op))
		return appendString(buf, m.ChannelID)
	case OpSendAudio:
		buf := make([]byte, 0, 3+len(m.ChannelID)+len(m.Payload))
		buf = append(buf, byte(m.Op))
		buf, err := appendString(buf, m.ChannelID)
		if err != nil {
			return nil, err
		}
		return append(buf, m.Payload...), nil
	case OpReceiveAudio:
		buf := make([]byte, 0, 3+len(m.SenderID)+len(m.Payload))
		buf = append(buf, byte(m.Op))
		buf, err := appendString(buf, m.SenderID)
		if err != nil {
			return nil, err
		}
		return append(buf, m.Payload...), nil
	case OpAck:
		buf := make([]byte, 0, 7+len(m.ChannelID)+len(m.Text))
		buf = append(buf, byte(m.Op), byte(m.AckOp), byte(m.Status))
		buf, err := appendString(buf, m.ChannelID)
		if err != nil {
			return nil, err
		}
		return appendString(buf, m.Text)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOp, byte(m.Op))
	}
}

// Decode parses a binary message. Payload slices alias data.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, ErrShortMessage
	}
	m := Message{Op: Op(data[0])}
	rest := data[1:]
	var err error

	switch m.Op {
	case OpJoinVoice, OpLeaveVoice:
		m.ChannelID, _, err = readString(rest)
	case OpSendAudio:
		m.ChannelID, rest, err = readString(rest)
		m.Payload = rest
	case OpReceiveAudio:
		m.SenderID, rest, err = readString(rest)
		m.Payload = rest
	case OpAck:
		if len(rest) < 2 {
			return Message{}, fmt.Errorf("%w: ack header", ErrShortMessage)
		}
		m.AckOp, m.Status = Op(rest[0]), Status(rest[1])
		m.ChannelID, rest, err = readString(rest[2:])
		if err == nil {
			m.Text, _, err = readString(rest)
		}
	default:
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownOp, data[0])
	}
	if err != nil {
		return Message{}, fmt.Errorf("decode %s: %w", m.Op, err)
	}
	return m, nil
}

func appendString(buf []byte, s string) ([]byte, error) {
	if len(s) > maxStringLen {
		return nil, fmt.Errorf("string field too long: %d bytes", len(s))
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...), nil
}

func readString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, ErrShortMessage
	}
	n := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if len(b) < n {
		return "", nil, ErrShortMessage
	}
	return string(b[:n]), b[n:], nil
}
