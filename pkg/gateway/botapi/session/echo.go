package session

import (
	"bytes"
	"time"
)

// echoState buffers the audio of the current user stream so it can be played
// back after userStream.stop. Guarded by Session.mu.
type echoState struct {
	buf   []byte
	timer *time.Timer
}

func (e *echoState) append(p []byte) {
	e.buf = append(e.buf, p...)
}

func (e *echoState) reset() {
	e.buf = nil
}

func (e *echoState) stop() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.buf = nil
}

func (s *Session) scheduleEcho() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return
	}
	audio := s.echo.buf
	s.echo.buf = nil
	if len(audio) == 0 {
		return
	}
	if s.echo.timer != nil {
		s.echo.timer.Stop()
	}
	s.echo.timer = time.AfterFunc(s.cfg.EchoDelay, func() {
		if _, err := s.PlayAudio(s.ctx, bytes.NewReader(audio), PlayAudioOptions{}); err != nil {
			s.log().Warn("echo playback failed", "error", err)
		}
	})
}
