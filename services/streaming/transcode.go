package streaming

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"showtime/config"
	"showtime/internal/metrics"
	"showtime/internal/procgroup"
)

const (
	defaultPreset     = "ultrafast"
	defaultCRF        = 23
	defaultAudioCodec = "aac"

	feedBufferSize = 128 * 1024
	killGrace      = 2 * time.Second
	stderrTail     = 4096
)

var ErrTranscodeUnavailable = errors.New("transcoding unavailable")

// Transcoder turns an arbitrary container into fragmented MP4 with ffmpeg.
type Transcoder struct {
	ffmpegPath string
	preset     string
	crf        int
	audioCodec string
	grace      time.Duration
}

// NewTranscoder returns nil when transcoding is disabled or ffmpeg cannot be
// found.
func NewTranscoder(settings config.TranscodeSettings) *Transcoder {
	if !settings.Enabled {
		log.Printf("[transcode] disabled by settings")
		return nil
	}
	bin := strings.TrimSpace(settings.FFmpegPath)
	if bin == "" {
		bin = "ffmpeg"
	}
	resolved, err := exec.LookPath(bin)
	if err != nil {
		log.Printf("[transcode] ffmpeg not found (%s), non-native files will be rejected: %v", bin, err)
		return nil
	}

	t := &Transcoder{
		ffmpegPath: resolved,
		preset:     strings.TrimSpace(settings.Preset),
		crf:        settings.CRF,
		audioCodec: strings.TrimSpace(settings.AudioCodec),
		grace:      killGrace,
	}
	if t.preset == "" {
		t.preset = defaultPreset
	}
	if t.crf <= 0 {
		t.crf = defaultCRF
	}
	if t.audioCodec == "" {
		t.audioCodec = defaultAudioCodec
	}
	log.Printf("[transcode] using %s (preset=%s crf=%d audio=%s)", t.ffmpegPath, t.preset, t.crf, t.audioCodec)
	return t
}

// Args is the ffmpeg command line: stdin to fragmented MP4 on stdout.
func (t *Transcoder) Args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-preset", t.preset,
		"-crf", strconv.Itoa(t.crf),
		"-c:a", t.audioCodec,
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4",
		"pipe:1",
	}
}

// Start launches ffmpeg reading from source. The returned session owns
// source and is torn down by Close, by ctx ending, by an upstream read error
// or when ffmpeg's output ends.
func (t *Transcoder) Start(ctx context.Context, name string, source io.ReadCloser) (*Session, error) {
	if t == nil {
		source.Close()
		return nil, ErrTranscodeUnavailable
	}

	cmd := exec.Command(t.ffmpegPath, t.Args()...)
	procgroup.Set(cmd)

	// stdout is an os.Pipe so cmd.Wait never races the reader
	out, outW, err := os.Pipe()
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	cmd.Stdout = outW

	stdin, err := cmd.StdinPipe()
	if err != nil {
		out.Close()
		outW.Close()
		source.Close()
		return nil, fmt.Errorf("ffmpeg stdin pipe: %w", err)
	}

	tail := &tailBuffer{max: stderrTail}
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		out.Close()
		outW.Close()
		source.Close()
		metrics.TranscodeFailuresTotal.WithLabelValues("start").Inc()
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}
	outW.Close()

	s := &Session{
		name:   name,
		cmd:    cmd,
		out:    out,
		source: source,
		stderr: tail,
		grace:  t.grace,
		exited: make(chan struct{}),
		fed:    make(chan struct{}),
	}
	go s.feed(stdin)
	go s.wait()
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()

	log.Printf("[transcode] started pid=%d for %q", cmd.Process.Pid, name)
	return s, nil
}

// Session is one running ffmpeg pipeline. Read returns the MP4 output.
type Session struct {
	name   string
	cmd    *exec.Cmd
	out    *os.File
	source io.ReadCloser
	stderr *tailBuffer
	grace  time.Duration

	exited  chan struct{}
	waitErr error
	fed     chan struct{}

	once   sync.Once
	mu     sync.Mutex
	stop   func() bool
	killed bool
}

// feed copies the remote stream into ffmpeg. It blocks on the pipe, so the
// remote is only read as fast as ffmpeg consumes. A failed read from the
// remote tears the session down; a failed write means ffmpeg already exited
// and wait reports it.
func (s *Session) feed(stdin io.WriteCloser) {
	defer close(s.fed)
	src := &upstreamReader{r: s.source}
	buf := make([]byte, feedBufferSize)
	_, _ = io.CopyBuffer(stdin, src, buf)
	_ = stdin.Close()
	if src.err == nil || s.isKilled() {
		return
	}
	log.Printf("[transcode] upstream read for %q failed: %v", s.name, src.err)
	metrics.TranscodeFailuresTotal.WithLabelValues("upstream").Inc()
	go s.Close()
}

// upstreamReader remembers the first read error other than io.EOF.
type upstreamReader struct {
	r   io.Reader
	err error
}

func (u *upstreamReader) Read(p []byte) (int, error) {
	n, err := u.r.Read(p)
	if err != nil && err != io.EOF && u.err == nil {
		u.err = err
	}
	return n, err
}

func (s *Session) wait() {
	s.waitErr = s.cmd.Wait()
	close(s.exited)
	if s.waitErr != nil && !s.isKilled() {
		metrics.TranscodeFailuresTotal.WithLabelValues("exit").Inc()
		log.Printf("[transcode] ffmpeg for %q exited: %v: %s", s.name, s.waitErr, s.stderr.String())
	}
}

func (s *Session) isKilled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}

func (s *Session) Read(p []byte) (int, error) {
	n, err := s.out.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && s.isKilled() {
		// reads after teardown end the stream cleanly
		return n, io.EOF
	}
	return n, err
}

// Close stops ffmpeg and its children, closes the remote stream and waits
// for the pipeline goroutines. It is safe to call more than once.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		stop := s.stop
		s.killed = true
		s.mu.Unlock()
		if stop != nil {
			stop()
		}

		select {
		case <-s.exited:
		default:
			_ = procgroup.Terminate(s.cmd)
			select {
			case <-s.exited:
			case <-time.After(s.grace):
				log.Printf("[transcode] ffmpeg for %q ignored SIGTERM, killing", s.name)
				_ = procgroup.Kill(s.cmd)
				<-s.exited
			}
		}
		_ = s.source.Close()
		<-s.fed
		_ = s.out.Close()
		log.Printf("[transcode] session for %q closed", s.name)
	})
	return nil
}

// Done is closed once ffmpeg has exited.
func (s *Session) Done() <-chan struct{} { return s.exited }

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if extra := b.buf.Len() - b.max; extra > 0 {
		b.buf.Next(extra)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}
