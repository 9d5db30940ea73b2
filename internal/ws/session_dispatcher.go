package ws

import (
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/denoise-bridge/internal/config"
	"github.com/saker-ai/denoise-bridge/internal/protocol"
)

type incomingHandler func(binary bool, msg protocol.ClientCommand)

func (s *session) dispatchIncoming(binary bool, msg protocol.ClientCommand) {
	handlers := map[string]incomingHandler{
		protocol.TypeSetParams:   s.onSetParams,
		protocol.TypeGetParams:   s.onGetParams,
		protocol.TypeGetStats:    s.onGetStats,
		protocol.TypeApplyPreset: s.onApplyPreset,
		protocol.TypeStreamMode:  s.onStreamMode,
		protocol.TypeHeartbeat:   s.onNoop,
	}

	if handler, ok := handlers[msg.Type]; ok {
		handler(binary, msg)
		return
	}
	s.logger.Debug("ws unknown message type", zap.String("type", msg.Type))
	s.send(binary, protocol.ServerMessage{Type: protocol.TypeError, RequestID: msg.RequestID, Message: "unknown command " + msg.Type})
}

func (s *session) onSetParams(binary bool, msg protocol.ClientCommand) {
	if msg.Params == nil || msg.Params.Empty() {
		s.send(binary, protocol.ServerMessage{Type: protocol.TypeError, RequestID: msg.RequestID, Message: "set-params needs params"})
		return
	}
	params, revision := s.handler.effect.UpdateParams(*msg.Params)
	s.send(binary, protocol.ServerMessage{Type: protocol.TypeParams, RequestID: msg.RequestID, Revision: revision, Params: &params})
}

func (s *session) onGetParams(binary bool, msg protocol.ClientCommand) {
	params, revision := s.handler.effect.Params()
	s.send(binary, protocol.ServerMessage{Type: protocol.TypeParams, RequestID: msg.RequestID, Revision: revision, Params: &params})
}

func (s *session) onGetStats(binary bool, msg protocol.ClientCommand) {
	stats := s.proc.Stats()
	s.send(binary, protocol.ServerMessage{Type: protocol.TypeStats, RequestID: msg.RequestID, SessionID: s.id, Stats: &stats})
}

func (s *session) onApplyPreset(binary bool, msg protocol.ClientCommand) {
	preset, err := appconfig.FindPreset(s.handler.config.PresetsDir, msg.Preset)
	if err != nil {
		s.send(binary, protocol.ServerMessage{Type: protocol.TypeError, RequestID: msg.RequestID, Message: err.Error()})
		return
	}
	params, err := preset.Params()
	if err != nil {
		s.send(binary, protocol.ServerMessage{Type: protocol.TypeError, RequestID: msg.RequestID, Message: err.Error()})
		return
	}
	params, revision := s.handler.effect.SetParams(params)
	s.logger.Info("preset applied", zap.String("preset", preset.Name), zap.Uint64("revision", revision))
	s.send(binary, protocol.ServerMessage{
		Type:      protocol.TypePresetApplied,
		RequestID: msg.RequestID,
		Preset:    preset.Name,
		Revision:  revision,
		Params:    &params,
	})
}

func (s *session) onStreamMode(binary bool, msg protocol.ClientCommand) {
	mode := s.machine.SetMode(msg.Mode)
	s.send(binary, protocol.ServerMessage{Type: protocol.TypeStreamMode, RequestID: msg.RequestID, Mode: string(mode)})
}

func (s *session) onNoop(bool, protocol.ClientCommand) {}
