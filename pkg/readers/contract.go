// Package readers implements the change-distribution side of the server:
// reader sessions, the subscription registry, the TCP contract and the
// broadcast sink that fans bus events out to subscribers.
package readers

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// TCP packet opcodes. Values are part of the wire contract.
const (
	PacketPing          byte = 0
	PacketPong          byte = 1
	PacketGreeting      byte = 2
	PacketSubscribe     byte = 3
	PacketInitTable     byte = 4
	PacketInitPartition byte = 5
	PacketUpdateRows    byte = 6
	PacketDeleteRows    byte = 7
	PacketCompressed    byte = 8
)

// Payloads at or above this size are gzip-wrapped for sessions that
// negotiated compression in their greeting.
const CompressThreshold = 1024

// KeyPair identifies one row inside a DeleteRows packet.
type KeyPair struct {
	PartitionKey string
	RowKey       string
}

// Packet is one decoded contract message.
type Packet struct {
	Op           byte
	Name         string
	Version      string
	Compress     bool
	Table        string
	PartitionKey string
	Data         []byte
	Deleted      []KeyPair
}

func appendPascalString(dst []byte, s string) ([]byte, error) {
	if len(s) > 255 {
		return nil, errors.Errorf("string %q exceeds pascal string limit", s[:32])
	}
	dst = append(dst, byte(len(s)))
	return append(dst, s...), nil
}

func appendUint32(dst []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, v)
}

func appendSlice(dst, data []byte) []byte {
	dst = appendUint32(dst, uint32(len(data)))
	return append(dst, data...)
}

// PackPing and PackPong are single-byte packets.
func PackPing() []byte { return []byte{PacketPing} }
func PackPong() []byte { return []byte{PacketPong} }

// PackGreeting carries "name;version" plus a compression flag byte.
func PackGreeting(name, version string, compress bool) ([]byte, error) {
	out, err := appendPascalString([]byte{PacketGreeting}, name+";"+version)
	if err != nil {
		return nil, err
	}
	var flag byte
	if compress {
		flag = 1
	}
	return append(out, flag), nil
}

func PackSubscribe(table string) ([]byte, error) {
	return appendPascalString([]byte{PacketSubscribe}, table)
}

func PackInitTable(table string, rowsJSON []byte) ([]byte, error) {
	out, err := appendPascalString([]byte{PacketInitTable}, table)
	if err != nil {
		return nil, err
	}
	return appendSlice(out, rowsJSON), nil
}

func PackInitPartition(table, partitionKey string, rowsJSON []byte) ([]byte, error) {
	out, err := appendPascalString([]byte{PacketInitPartition}, table)
	if err != nil {
		return nil, err
	}
	if out, err = appendPascalString(out, partitionKey); err != nil {
		return nil, err
	}
	return appendSlice(out, rowsJSON), nil
}

func PackUpdateRows(table string, rowsJSON []byte) ([]byte, error) {
	out, err := appendPascalString([]byte{PacketUpdateRows}, table)
	if err != nil {
		return nil, err
	}
	return appendSlice(out, rowsJSON), nil
}

func PackDeleteRows(table string, rows []KeyPair) ([]byte, error) {
	out, err := appendPascalString([]byte{PacketDeleteRows}, table)
	if err != nil {
		return nil, err
	}
	out = appendUint32(out, uint32(len(rows)))
	for _, kp := range rows {
		if out, err = appendPascalString(out, kp.PartitionKey); err != nil {
			return nil, err
		}
		if out, err = appendPascalString(out, kp.RowKey); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CompressPacket wraps a whole packet inside a gzip-compressed envelope.
func CompressPacket(packet []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(packet); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return appendSlice([]byte{PacketCompressed}, buf.Bytes()), nil
}

func readPascalString(r *bufio.Reader) (string, error) {
	size, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readUint32(r *bufio.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readSlice(r *bufio.Reader, limit uint32) ([]byte, error) {
	size, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if size > limit {
		return nil, errors.Errorf("packet payload of %d bytes exceeds limit %d", size, limit)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

const maxPayloadSize = 256 << 20

// ReadPacket decodes the next contract message from the stream.
func ReadPacket(r *bufio.Reader) (Packet, error) {
	op, err := r.ReadByte()
	if err != nil {
		return Packet{}, err
	}
	p := Packet{Op: op}

	switch op {
	case PacketPing, PacketPong:
		return p, nil

	case PacketGreeting:
		greeting, err := readPascalString(r)
		if err != nil {
			return Packet{}, err
		}
		p.Name = greeting
		if i := bytes.IndexByte([]byte(greeting), ';'); i >= 0 {
			p.Name, p.Version = greeting[:i], greeting[i+1:]
		}
		flag, err := r.ReadByte()
		if err != nil {
			return Packet{}, err
		}
		p.Compress = flag != 0
		return p, nil

	case PacketSubscribe:
		p.Table, err = readPascalString(r)
		return p, err

	case PacketInitTable, PacketUpdateRows:
		if p.Table, err = readPascalString(r); err != nil {
			return Packet{}, err
		}
		p.Data, err = readSlice(r, maxPayloadSize)
		return p, err

	case PacketInitPartition:
		if p.Table, err = readPascalString(r); err != nil {
			return Packet{}, err
		}
		if p.PartitionKey, err = readPascalString(r); err != nil {
			return Packet{}, err
		}
		p.Data, err = readSlice(r, maxPayloadSize)
		return p, err

	case PacketDeleteRows:
		if p.Table, err = readPascalString(r); err != nil {
			return Packet{}, err
		}
		count, err := readUint32(r)
		if err != nil {
			return Packet{}, err
		}
		for i := uint32(0); i < count; i++ {
			var kp KeyPair
			if kp.PartitionKey, err = readPascalString(r); err != nil {
				return Packet{}, err
			}
			if kp.RowKey, err = readPascalString(r); err != nil {
				return Packet{}, err
			}
			p.Deleted = append(p.Deleted, kp)
		}
		return p, nil

	case PacketCompressed:
		compressed, err := readSlice(r, maxPayloadSize)
		if err != nil {
			return Packet{}, err
		}
		gz, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return Packet{}, err
		}
		defer gz.Close()
		inner, err := io.ReadAll(gz)
		if err != nil {
			return Packet{}, err
		}
		return ReadPacket(bufio.NewReader(bytes.NewReader(inner)))

	default:
		return Packet{}, errors.Errorf("unknown packet opcode %d", op)
	}
}
