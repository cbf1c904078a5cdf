package chat

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayForwardsBothWays(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte("echo " + line))
	}()

	rl, err := newRelay(ln.Addr().String(), false, time.Second)
	require.NoError(t, err)
	defer rl.Close()

	client, err := net.Dial("tcp", rl.Addr())
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.SetDeadline(time.Now().Add(2*time.Second)))

	_, err = client.Write([]byte("NICK pulsebot\r\n"))
	require.NoError(t, err)
	got, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "echo NICK pulsebot\r\n", got)
	assert.NoError(t, rl.Err())
}

func TestRelayRecordsUpstreamDialError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	rl, err := newRelay(addr, false, time.Second)
	require.NoError(t, err)
	defer rl.Close()

	client, err := net.Dial("tcp", rl.Addr())
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = client.Read(make([]byte, 1))
	require.Error(t, err)
	assert.Error(t, rl.Err())

	_, err = net.DialTimeout("tcp", rl.Addr(), time.Second)
	assert.Error(t, err, "relay keeps accepting after its upstream failed")
}
