package blemidi_test

import (
	"bytes"
	"context"
	"net"
	"testing"

	"github.com/onur1/blemidi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipe() (*blemidi.Conn, *blemidi.Conn) {
	a, b := net.Pipe()
	return blemidi.NewConn(a), blemidi.NewConn(b)
}

type handshakeResult struct {
	conn *blemidi.SecureConn
	err  error
}

func secure(t *testing.T, clientPSK, serverPSK []byte) (*blemidi.SecureConn, *blemidi.SecureConn, *blemidi.Conn, error) {
	t.Helper()

	cc, sc := pipe()
	done := make(chan handshakeResult, 1)
	go func() {
		c, err := blemidi.Client(cc, clientPSK)
		done <- handshakeResult{c, err}
	}()

	s, err := blemidi.Server(sc, serverPSK)
	if err != nil {
		sc.Close()
		<-done
		return nil, nil, nil, err
	}
	res := <-done
	return res.conn, s, cc, res.err
}

func TestConnSend(t *testing.T) {
	cc, sc := pipe()
	defer cc.Close()
	defer sc.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := cc.Send(noteOnRec, readOnlyRec)
		errc <- err
	}()

	for _, want := range []*blemidi.Record{noteOnRec, readOnlyRec} {
		got, err := sc.ReadRecord()
		require.NoError(t, err)
		assert.EqualValues(t, want, got)
	}
	assert.NoError(t, <-errc)
}

func TestDialContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *blemidi.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- blemidi.NewConn(c)
	}()

	cc, err := blemidi.DialContext(context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	defer cc.Close()

	sc := <-accepted
	require.NotNil(t, sc)
	defer sc.Close()

	id, err := cc.Send(noteOnRec)
	require.NoError(t, err)
	assert.EqualValues(t, 0, id)

	got, err := sc.ReadRecord()
	require.NoError(t, err)
	assert.EqualValues(t, noteOnRec, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = blemidi.DialContext(ctx, "tcp", ln.Addr().String())
	assert.Error(t, err)
}

func TestSecureConn(t *testing.T) {
	for _, psk := range [][]byte{nil, bytes.Repeat([]byte{0x42}, blemidi.PresharedKeySize)} {
		client, server, _, err := secure(t, psk, psk)
		require.NoError(t, err)

		errc := make(chan error, 1)
		go func() {
			errc <- client.Send(noteOnRec, readOnlyRec)
		}()

		for _, want := range []*blemidi.Record{noteOnRec, readOnlyRec} {
			got, err := server.ReadRecord()
			require.NoError(t, err)
			assert.EqualValues(t, want, got)
		}
		require.NoError(t, <-errc)

		// and back
		go func() {
			errc <- server.WriteRecord(readOnlyRec)
		}()
		got, err := client.ReadRecord()
		require.NoError(t, err)
		assert.EqualValues(t, readOnlyRec, got)
		require.NoError(t, <-errc)

		client.Close()
		server.Close()
	}
}

func TestSecureConnPresharedKeyMismatch(t *testing.T) {
	_, _, _, err := secure(t, bytes.Repeat([]byte{1}, 32), bytes.Repeat([]byte{2}, 32))
	assert.ErrorIs(t, err, blemidi.ErrHandshake)
}

func TestSecureConnPresharedKeyLength(t *testing.T) {
	cc, sc := pipe()
	defer cc.Close()
	defer sc.Close()

	_, err := blemidi.Client(cc, []byte{1, 2, 3})
	assert.ErrorIs(t, err, blemidi.ErrPresharedKeyLength)
}

func TestSecureConnRejectsPlainRecords(t *testing.T) {
	client, server, raw, err := secure(t, nil, nil)
	require.NoError(t, err)
	defer client.Close()

	go raw.Send(noteOnRec)

	_, err = server.ReadRecord()
	assert.ErrorIs(t, err, blemidi.ErrRecordTampered)
}
