package runtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/saker-ai/multimodal-dialog/internal/storage"
	"github.com/saker-ai/multimodal-dialog/pkg/audio"
	"github.com/saker-ai/multimodal-dialog/pkg/dialog"
)

// session is the Runner's dialog handler. It records downstream audio and
// transcripts and signals the conversation loop. Its methods run on the
// dialog's read goroutine and never block.
type session struct {
	dialog.NopHandler

	r        *Runner
	owner    string
	started  chan struct{}
	turnDone chan struct{}
	closed   chan struct{}

	startOnce sync.Once
	closeOnce sync.Once

	mu         sync.Mutex
	uid        string
	recordedID string
	wav        *audio.WAVWriter
	speech     string
	reply      string
}

func newSession(r *Runner) *session {
	return &session{
		r:        r,
		owner:    r.cfg.Client.DeviceUUID,
		started:  make(chan struct{}),
		turnDone: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

// open creates the transcript and the output audio file.
func (s *session) open() error {
	uid, err := s.r.store.Create(s.owner)
	if err != nil {
		return err
	}
	var wav *audio.WAVWriter
	if path := s.r.cfg.Output.AudioPath; path != "" {
		rate := s.r.cfg.Downstream.SampleRate
		if rate <= 0 {
			rate = defaultDownstreamRate
		}
		if wav, err = audio.CreateWAV(path, rate, 1); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.uid = uid
	s.wav = wav
	s.mu.Unlock()
	s.r.logger.Info("dialog transcript created", zap.String("transcript", uid))
	return nil
}

// finish persists any unflushed text and closes the audio file.
func (s *session) finish() {
	s.flushTurn()

	s.mu.Lock()
	wav := s.wav
	s.wav = nil
	s.mu.Unlock()
	if wav == nil {
		return
	}
	if err := wav.Close(); err != nil {
		s.r.logger.Error("close output audio failed", zap.Error(err))
		return
	}
	s.r.logger.Info("output audio written",
		zap.String("path", s.r.cfg.Output.AudioPath),
		zap.Int("bytes", wav.Len()),
	)
}

func (s *session) transcriptUID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uid
}

func (s *session) flushTurn() {
	s.mu.Lock()
	uid, speech, reply := s.uid, s.speech, s.reply
	s.speech, s.reply = "", ""
	s.mu.Unlock()
	if uid == "" {
		return
	}
	if err := s.r.store.Append(s.owner, uid, storage.RoleUser, speech); err != nil {
		s.r.logger.Warn("persist speech text failed", zap.Error(err))
	}
	if err := s.r.store.Append(s.owner, uid, storage.RoleAssistant, reply); err != nil {
		s.r.logger.Warn("persist reply text failed", zap.Error(err))
	}
}

func (s *session) OnStarted(dialogID string) {
	s.recordDialogID(dialogID)
	s.startOnce.Do(func() { close(s.started) })
}

func (s *session) OnStateChanged(state string) {
	turnDone, err := s.r.machine.Observe(state)
	if err != nil {
		s.r.logger.Debug("ignoring dialog state", zap.String("state", state), zap.Error(err))
		return
	}
	s.recordDialogID(s.r.dialog.DialogID())
	if !turnDone {
		return
	}
	s.flushTurn()
	select {
	case s.turnDone <- struct{}{}:
	default:
	}
}

func (s *session) OnSpeechAudioData(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wav == nil {
		return
	}
	if _, err := s.wav.Write(data); err != nil {
		s.r.logger.Warn("write output audio failed", zap.Error(err))
	}
}

// Speech and reply events carry the full text so far; the latest wins.
func (s *session) OnSpeechContent(text string) {
	s.mu.Lock()
	s.speech = text
	s.mu.Unlock()
}

func (s *session) OnRespondingContent(text string) {
	s.mu.Lock()
	s.reply = text
	s.mu.Unlock()
}

func (s *session) OnError(err error) {
	s.r.logger.Warn("dialog error", zap.Error(err))
}

func (s *session) OnStopped() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *session) recordDialogID(dialogID string) {
	if dialogID == "" {
		return
	}
	s.mu.Lock()
	uid := s.uid
	changed := s.recordedID != dialogID
	s.recordedID = dialogID
	s.mu.Unlock()
	if uid == "" || !changed {
		return
	}
	if err := s.r.store.SetDialogID(s.owner, uid, dialogID); err != nil {
		s.r.logger.Warn("persist dialog id failed", zap.Error(err))
	}
}
