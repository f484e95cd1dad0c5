//go:build linux

package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-reactor/config"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServe_Echo(t *testing.T) {
	cfg := config.Default()
	cfg.Listen = `127.0.0.1:0`
	cfg.Server.Threads = 2
	cfg.Server.BufferSize = 3

	var buf bytes.Buffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&syncWriter{w: &buf})),
		stumpy.L.WithLevel(logiface.LevelInformational),
	).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrs := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, logger, func(addr net.Addr) { addrs <- addr }) }()

	var addr net.Addr
	select {
	case addr = <-addrs:
	case err := <-done:
		t.Fatal(err)
	case <-time.After(5 * time.Second):
		t.Fatal(`timed out waiting for listeners`)
	}

	for i := 0; i < 4; i++ {
		conn, err := net.Dial(`tcp`, addr.String())
		require.NoError(t, err)
		require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
		msg := strings.Repeat(`echo `, 1+i*1000)
		go func() { _, _ = conn.Write([]byte(msg)) }()
		got := make([]byte, len(msg))
		_, err = io.ReadFull(conn, got)
		require.NoError(t, err)
		assert.Equal(t, msg, string(got))
		require.NoError(t, conn.Close())
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal(`timed out waiting for shutdown`)
	}
}

func TestRun_InvalidFlags(t *testing.T) {
	var stderr bytes.Buffer
	err := run(context.Background(), []string{`--threads`, `0`}, &stderr)
	assert.Error(t, err)

	err = run(context.Background(), []string{`--bogus`}, &stderr)
	assert.Error(t, err)

	err = run(context.Background(), []string{`--config`, `/does/not/exist.yaml`}, &stderr)
	assert.Error(t, err)
}

func TestRun_Help(t *testing.T) {
	var stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{`--help`}, &stderr))
	assert.Contains(t, stderr.String(), `--listen`)
}

func TestRun_ListenConflict(t *testing.T) {
	l, err := net.Listen(`tcp`, `127.0.0.1:0`)
	require.NoError(t, err)
	defer l.Close()

	var stderr bytes.Buffer
	err = run(context.Background(), []string{`--listen`, l.Addr().String()}, &stderr)
	assert.Error(t, err)
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (x *syncWriter) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.w.Write(p)
}
