package blemidi

import (
	"crypto/rand"
	"errors"
	"sync"

	"github.com/flynn/noise"
)

// sourceHandshake marks records carrying Noise handshake messages.
const sourceHandshake Source = 0b1111

// PresharedKeySize is the size of the optional key mixed into the handshake.
const PresharedKeySize = 32

var (
	ErrHandshake          = errors.New("blemidi: handshake failed")
	ErrPresharedKeyLength = errors.New("blemidi: preshared key must be 32 bytes")
	ErrRecordTampered     = errors.New("blemidi: capture record authentication failed")
)

var (
	cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)
	prologue    = []byte("blemidi capture v1")
)

// A SecureConn seals the data of every record sent over a Conn. Keys come
// from a Noise NN handshake, or NNpsk0 when a preshared key is given.
type SecureConn struct {
	conn *Conn

	sendMu sync.Mutex
	send   *noise.CipherState

	recvMu sync.Mutex
	recv   *noise.CipherState
}

// Client performs the initiator side of the handshake on conn.
func Client(conn *Conn, psk []byte) (*SecureConn, error) {
	return handshake(conn, psk, true)
}

// Server performs the responder side of the handshake on conn.
func Server(conn *Conn, psk []byte) (*SecureConn, error) {
	return handshake(conn, psk, false)
}

func handshake(conn *Conn, psk []byte, initiator bool) (*SecureConn, error) {
	cfg := noise.Config{
		CipherSuite: cipherSuite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeNN,
		Initiator:   initiator,
		Prologue:    prologue,
	}
	if len(psk) > 0 {
		if len(psk) != PresharedKeySize {
			return nil, ErrPresharedKeyLength
		}
		cfg.PresharedKey = psk
		cfg.PresharedKeyPlacement = 0
	}

	hs, err := noise.NewHandshakeState(cfg)
	if err != nil {
		return nil, err
	}

	write := func(seq int) (*noise.CipherState, *noise.CipherState, error) {
		msg, cs1, cs2, err := hs.WriteMessage(nil, nil)
		if err != nil {
			return nil, nil, err
		}
		if _, err := conn.Send(NewRecord(seq, sourceHandshake, msg)); err != nil {
			return nil, nil, err
		}
		return cs1, cs2, nil
	}

	read := func() (*noise.CipherState, *noise.CipherState, error) {
		rec, err := conn.ReadRecord()
		if err != nil {
			return nil, nil, err
		}
		if rec.Source != sourceHandshake {
			return nil, nil, ErrHandshake
		}
		_, cs1, cs2, err := hs.ReadMessage(nil, rec.Data)
		if err != nil {
			return nil, nil, ErrHandshake
		}
		return cs1, cs2, nil
	}

	// -> e
	// <- e, ee
	s := &SecureConn{conn: conn}
	if initiator {
		if _, _, err := write(0); err != nil {
			return nil, err
		}
		cs1, cs2, err := read()
		if err != nil {
			return nil, err
		}
		s.send, s.recv = cs1, cs2
	} else {
		if _, _, err := read(); err != nil {
			return nil, err
		}
		cs1, cs2, err := write(1)
		if err != nil {
			return nil, err
		}
		s.send, s.recv = cs2, cs1
	}

	if s.send == nil || s.recv == nil {
		return nil, ErrHandshake
	}
	return s, nil
}

// Send seals and sends records in order.
func (s *SecureConn) Send(records ...*Record) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	sealed := make([]*Record, 0, len(records))
	for _, r := range records {
		ad := encode(r.Seq, r.Source, nil)
		data, err := s.send.Encrypt(nil, ad, r.Data)
		if err != nil {
			return err
		}
		sealed = append(sealed, NewRecord(r.Seq, r.Source, data))
	}

	_, err := s.conn.Send(sealed...)
	return err
}

// WriteRecord is Send, so a SecureConn can stand in for a capture Writer.
func (s *SecureConn) WriteRecord(records ...*Record) error {
	return s.Send(records...)
}

// ReadRecord reads and opens the next record.
func (s *SecureConn) ReadRecord() (*Record, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	r, err := s.conn.ReadRecord()
	if err != nil {
		return nil, err
	}

	ad := encode(r.Seq, r.Source, nil)
	data, err := s.recv.Decrypt(nil, ad, r.Data)
	if err != nil {
		return nil, ErrRecordTampered
	}
	r.Data = data
	return r, nil
}

// Close closes the underlying connection.
func (s *SecureConn) Close() error {
	return s.conn.Close()
}
