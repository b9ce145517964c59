//go:build unix

package streaming

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"showtime/config"
)

// fakeFFmpeg writes an executable shell script standing in for ffmpeg.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	p := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

func testTranscoder(bin string) *Transcoder {
	return &Transcoder{ffmpegPath: bin, preset: defaultPreset, crf: defaultCRF, audioCodec: defaultAudioCodec, grace: 500 * time.Millisecond}
}

type trackedSource struct {
	io.Reader
	closer func() error
	closed atomic.Bool
}

func (s *trackedSource) Close() error {
	s.closed.Store(true)
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

func TestTranscoderArgs(t *testing.T) {
	args := strings.Join(testTranscoder("ffmpeg").Args(), " ")
	assert.Contains(t, args, "-i pipe:0")
	assert.Contains(t, args, "-c:v libx264 -preset ultrafast -crf 23 -c:a aac")
	assert.Contains(t, args, "-movflags frag_keyframe+empty_moov+default_base_moof -f mp4 pipe:1")
}

func TestNewTranscoder(t *testing.T) {
	assert.Nil(t, NewTranscoder(config.TranscodeSettings{Enabled: false, FFmpegPath: "ffmpeg"}))
	assert.Nil(t, NewTranscoder(config.TranscodeSettings{Enabled: true, FFmpegPath: "/nonexistent/ffmpeg"}))

	bin := fakeFFmpeg(t, "exit 0")
	tr := NewTranscoder(config.TranscodeSettings{Enabled: true, FFmpegPath: bin, Preset: "veryfast"})
	require.NotNil(t, tr)
	assert.Equal(t, "veryfast", tr.preset)
	assert.Equal(t, defaultCRF, tr.crf)
	assert.Equal(t, defaultAudioCodec, tr.audioCodec)
}

func TestSessionPipesThroughProcess(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr := testTranscoder(fakeFFmpeg(t, "exec cat"))
	input := bytes.Repeat([]byte("frame"), 100_000)
	src := &trackedSource{Reader: bytes.NewReader(input)}

	session, err := tr.Start(context.Background(), "/show.mkv", src)
	require.NoError(t, err)

	out, err := io.ReadAll(session)
	require.NoError(t, err)
	require.NoError(t, session.Close())

	assert.Equal(t, input, out)
	assert.True(t, src.closed.Load())
	select {
	case <-session.Done():
	default:
		t.Fatal("process not reaped after Close")
	}
}

func TestSessionStopsWhenContextEnds(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr := testTranscoder(fakeFFmpeg(t, "exec sleep 30"))
	pr, pw := io.Pipe()
	defer pw.Close()
	src := &trackedSource{Reader: pr, closer: pr.Close}

	ctx, cancel := context.WithCancel(context.Background())
	session, err := tr.Start(ctx, "/show.mkv", src)
	require.NoError(t, err)

	cancel()
	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("ffmpeg still running after client disconnect")
	}
	require.NoError(t, session.Close())
	assert.True(t, src.closed.Load())

	n, err := session.Read(make([]byte, 16))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSessionKillsProcessIgnoringTerm(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr := testTranscoder(fakeFFmpeg(t, "trap '' TERM\necho ready\nwhile :; do sleep 1; done"))
	src := &trackedSource{Reader: bytes.NewReader(nil)}

	session, err := tr.Start(context.Background(), "/show.avi", src)
	require.NoError(t, err)

	// the trap is installed once the script has printed its marker
	marker := make([]byte, len("ready\n"))
	_, err = io.ReadFull(session, marker)
	require.NoError(t, err)
	require.Equal(t, "ready\n", string(marker))

	start := time.Now()
	require.NoError(t, session.Close())
	assert.GreaterOrEqual(t, time.Since(start), tr.grace)
	select {
	case <-session.Done():
	default:
		t.Fatal("process group not killed")
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestSessionUpstreamErrorTearsDown(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr := testTranscoder(fakeFFmpeg(t, "exec cat"))
	src := &trackedSource{Reader: &failingReader{data: []byte("partial"), err: errors.New("smb read: input/output error")}}

	session, err := tr.Start(context.Background(), "/show.mkv", src)
	require.NoError(t, err)

	_, err = io.ReadAll(session)
	require.NoError(t, err)
	require.NoError(t, session.Close())
	assert.True(t, src.closed.Load())
}

func TestSessionUpstreamResetStopsProcess(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr := testTranscoder(fakeFFmpeg(t, "exec sleep 30"))
	reset := &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}
	src := &trackedSource{Reader: &failingReader{data: []byte("head"), err: reset}}

	session, err := tr.Start(context.Background(), "/show.mkv", src)
	require.NoError(t, err)

	select {
	case <-session.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("ffmpeg still running after the remote reset the connection")
	}
	require.NoError(t, session.Close())
	assert.True(t, src.closed.Load())
}

func TestSessionStartFailureClosesSource(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr := testTranscoder(filepath.Join(t.TempDir(), "missing-ffmpeg"))
	src := &trackedSource{Reader: bytes.NewReader(nil)}

	_, err := tr.Start(context.Background(), "/show.mkv", src)
	require.Error(t, err)
	assert.True(t, src.closed.Load())

	var nilTranscoder *Transcoder
	src = &trackedSource{Reader: bytes.NewReader(nil)}
	_, err = nilTranscoder.Start(context.Background(), "/show.mkv", src)
	assert.ErrorIs(t, err, ErrTranscodeUnavailable)
	assert.True(t, src.closed.Load())
}

func TestTailBufferKeepsEnd(t *testing.T) {
	b := &tailBuffer{max: 8}
	_, _ = b.Write([]byte("0123456789"))
	_, _ = b.Write([]byte("ab"))
	assert.Equal(t, "456789ab", b.String())
}
