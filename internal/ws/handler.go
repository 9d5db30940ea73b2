package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/denoise-bridge/internal/protocol"
	"github.com/saker-ai/denoise-bridge/internal/session/fsm"
	"github.com/saker-ai/denoise-bridge/internal/storage"
	"github.com/saker-ai/denoise-bridge/internal/transport/codec"
	"github.com/saker-ai/denoise-bridge/pkg/audio"
	"github.com/saker-ai/denoise-bridge/pkg/denoise"
)

// Config holds the per-session settings of the stream endpoint.
type Config struct {
	// Inline runs the transform inside the callback instead of a worker.
	Inline bool
	// PresetsDir is searched by apply-preset.
	PresetsDir string
	// ReportsDir receives a report per closed session; empty disables reports.
	ReportsDir string
	// IdleTimeout closes sessions that send nothing for this long; 0 disables it.
	IdleTimeout time.Duration
}

// Handler serves /stream. Each connection owns one effect instance.
type Handler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	effect   *denoise.Effect
	config   Config
	sessions map[string]*session
	mu       sync.Mutex
}

type session struct {
	id         string
	remoteAddr string
	startedAt  time.Time
	conn       *websocket.Conn
	sendMu     sync.Mutex
	logger     *zap.Logger
	handler    *Handler
	machine    *fsm.Machine

	// procMu guards swaps of proc. The session goroutine reads it unlocked.
	procMu sync.Mutex
	proc   denoise.Processor

	in  []denoise.Frame
	out []denoise.Frame
	pcm []byte
}

// NewHandler creates the stream handler for effect.
func NewHandler(logger *zap.Logger, effect *denoise.Effect, cfg Config) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:   logger,
		effect:   effect,
		config:   cfg,
		sessions: make(map[string]*session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  codec.HeaderSize + codec.MaxPayload,
			WriteBufferSize: codec.HeaderSize + codec.MaxPayload,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handle upgrades the request and runs the session until the client leaves.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(codec.HeaderSize + codec.MaxPayload)

	sess := &session{
		id:         uuid.NewString(),
		remoteAddr: r.RemoteAddr,
		startedAt:  time.Now(),
		conn:       conn,
		handler:    h,
		machine:    fsm.New(),
		proc:       h.effect.NewProcessor(h.config.Inline),
		in:         make([]denoise.Frame, 0, codec.MaxAudioFrames),
		out:        make([]denoise.Frame, 0, codec.MaxAudioFrames),
	}
	sess.logger = h.logger.With(zap.String("session_id", sess.id))
	sess.logger.Info("ws session opened",
		zap.String("remote_addr", sess.remoteAddr),
		zap.Bool("inline", h.config.Inline),
	)

	h.registerSession(sess)
	sess.send(true, protocol.ServerMessage{
		Type:      protocol.TypeSession,
		SessionID: sess.id,
		MixRate:   h.effect.Options().MixRate,
		MaxFrames: codec.MaxAudioFrames,
	})

	closeErr := sess.readLoop()

	h.unregisterSession(sess.id)
	sess.finish(closeErr)
}

// Sessions returns a snapshot of every live session, oldest first.
func (h *Handler) Sessions() []SessionStats {
	h.mu.Lock()
	list := make([]*session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		list = append(list, sess)
	}
	h.mu.Unlock()

	out := make([]SessionStats, 0, len(list))
	for _, sess := range list {
		out = append(out, sess.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// CloseAll asks every live session to close. Handle returns once the
// client's read fails, writing the session report on the way out.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	for _, sess := range h.sessions {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown")
		if err := sess.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			_ = sess.conn.Close()
		}
	}
}

func (s *session) readLoop() error {
	for {
		s.extendDeadline()
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Debug("ws connection closed", zap.Error(err))
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		switch kind {
		case websocket.TextMessage:
			s.handleCommand(false, data)
		case websocket.BinaryMessage:
			msg, err := codec.Decode(data)
			if err != nil {
				s.logger.Debug("ws bad frame", zap.Error(err), zap.Int("bytes", len(data)))
				s.send(true, protocol.ServerMessage{Type: protocol.TypeError, Message: err.Error()})
				continue
			}
			switch msg.Kind {
			case codec.KindAudio:
				s.handleAudio(msg)
			case codec.KindCommand:
				s.handleCommand(true, msg.Payload)
			}
		}
	}
}

func (s *session) extendDeadline() {
	if timeout := s.handler.config.IdleTimeout; timeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	}
}

func (s *session) snapshot() SessionStats {
	s.procMu.Lock()
	stats := s.proc.Stats()
	s.procMu.Unlock()
	return SessionStats{
		ID:         s.id,
		RemoteAddr: s.remoteAddr,
		StartedAt:  s.startedAt,
		State:      string(s.machine.State()),
		Mode:       string(s.machine.Mode()),
		Segments:   s.machine.Segments(),
		Stats:      stats,
	}
}

// restart replaces the effect instance at a segment boundary.
func (s *session) restart() {
	next := s.handler.effect.NewProcessor(s.handler.config.Inline)
	s.procMu.Lock()
	prev := s.proc
	s.proc = next
	s.procMu.Unlock()
	if err := prev.Close(); err != nil {
		s.logger.Warn("effect instance close failed", zap.Error(err))
	}
	s.logger.Debug("effect instance restarted", zap.Int("segment", s.machine.Segments()))
}

// handleAudio runs one host callback and answers with the same frame count.
func (s *session) handleAudio(msg codec.Message) {
	if s.machine.OnAudio() {
		s.restart()
	}
	s.in = audio.PCM16ToFramesInto(s.in, msg.Payload)
	if cap(s.out) < len(s.in) {
		s.out = make([]denoise.Frame, len(s.in))
	}
	s.out = s.out[:len(s.in)]
	s.proc.Process(s.in, s.out)

	var flags uint8
	if msg.Has(codec.FlagEndOfStream) {
		flags |= codec.FlagEndOfStream
		s.machine.OnEndOfStream()
	}
	if s.proc.Stats().Passthrough {
		flags |= codec.FlagPassthrough
	}

	s.pcm = audio.FramesToPCM16Into(s.pcm, s.out)
	buf := audio.AcquireBytes(codec.HeaderSize + len(s.pcm))
	frame, err := codec.AppendFrame(buf[:0], codec.KindAudio, flags, s.pcm)
	if err == nil {
		err = s.write(websocket.BinaryMessage, frame)
	}
	audio.ReleaseBytes(frame)
	if err != nil {
		s.logger.Debug("ws audio send failed", zap.Error(err))
	}
}

func (s *session) handleCommand(binary bool, data []byte) {
	var msg protocol.ClientCommand
	if err := json.Unmarshal(data, &msg); err != nil {
		s.send(binary, protocol.ServerMessage{Type: protocol.TypeError, Message: "invalid json"})
		return
	}
	if msg.Type != protocol.TypeHeartbeat {
		s.logger.Debug("ws incoming command", zap.String("type", msg.Type))
	}
	s.dispatchIncoming(binary, msg)
}

func (s *session) send(binary bool, msg protocol.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("ws encode reply failed", zap.Error(err))
		return
	}
	kind := websocket.TextMessage
	if binary {
		if data, err = codec.Pack(codec.KindCommand, 0, data); err != nil {
			s.logger.Warn("ws pack reply failed", zap.Error(err))
			return
		}
		kind = websocket.BinaryMessage
	}
	if err := s.write(kind, data); err != nil {
		s.logger.Debug("ws reply send failed", zap.Error(err))
	}
}

func (s *session) write(kind int, data []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.conn.WriteMessage(kind, data)
}

// finish stops the instance and stores the session report.
func (s *session) finish(readErr error) {
	s.machine.OnClose()
	if err := s.proc.Close(); err != nil {
		s.logger.Warn("effect instance close failed", zap.Error(err))
	}
	stats := s.proc.Stats()
	s.logger.Info("ws session closed",
		zap.Uint64("frames", stats.Frames),
		zap.Uint64("dropped_samples", stats.DroppedSamples),
		zap.Uint64("underrun_frames", stats.UnderrunFrames),
		zap.Uint64("hop_failures", stats.HopFailures),
	)

	dir := s.handler.config.ReportsDir
	if dir == "" {
		return
	}
	params, _ := s.handler.effect.Params()
	report := storage.Report{
		SessionID:  s.id,
		RemoteAddr: s.remoteAddr,
		StartedAt:  s.startedAt,
		EndedAt:    time.Now(),
		Params:     params,
		Stats:      stats,
	}
	var closeErr *websocket.CloseError
	if readErr != nil && !errors.As(readErr, &closeErr) {
		report.CloseError = readErr.Error()
	}
	id, err := storage.WriteReport(dir, report)
	if err != nil {
		s.logger.Warn("write session report failed", zap.Error(err))
		return
	}
	s.logger.Debug("session report written", zap.String("report_id", id))
}

func (h *Handler) registerSession(sess *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[sess.id] = sess
}

func (h *Handler) unregisterSession(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, id)
}
