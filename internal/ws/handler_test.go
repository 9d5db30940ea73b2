package ws

import (
	"encoding/json"
	"math"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/saker-ai/denoise-bridge/internal/protocol"
	"github.com/saker-ai/denoise-bridge/internal/storage"
	"github.com/saker-ai/denoise-bridge/internal/transport/codec"
	"github.com/saker-ai/denoise-bridge/pkg/audio"
	"github.com/saker-ai/denoise-bridge/pkg/denoise"
	"github.com/saker-ai/denoise-bridge/pkg/denoise/spectral"
)

type testServer struct {
	handler *Handler
	effect  *denoise.Effect
	url     string
	cfg     Config
}

func newTestServer(t *testing.T, opts denoise.Options, cfg Config) *testServer {
	t.Helper()
	log := zaptest.NewLogger(t)
	opts.Logger = log
	effect := denoise.NewEffect(spectral.Factory, denoise.DefaultParams(), opts)
	handler := NewHandler(log, effect, cfg)
	srv := httptest.NewServer(httpHandler(handler))
	t.Cleanup(srv.Close)
	return &testServer{
		handler: handler,
		effect:  effect,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		cfg:     cfg,
	}
}

func (s *testServer) dial(t *testing.T) (*websocket.Conn, protocol.ServerMessage) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	hello := readCommand(t, conn)
	if hello.Type != "session" || hello.SessionID == "" {
		t.Fatalf("hello=%+v, want session message", hello)
	}
	return conn, hello
}

func readFrame(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return kind, data
}

func readCommand(t *testing.T, conn *websocket.Conn) protocol.ServerMessage {
	t.Helper()
	kind, data := readFrame(t, conn)
	if kind == websocket.BinaryMessage {
		msg, err := codec.Decode(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Kind != codec.KindCommand {
			t.Fatalf("kind=%v, want command", msg.Kind)
		}
		data = msg.Payload
	}
	var reply protocol.ServerMessage
	if err := json.Unmarshal(data, &reply); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return reply
}

func sendText(t *testing.T, conn *websocket.Conn, body string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(body)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func sendAudio(t *testing.T, conn *websocket.Conn, frames []denoise.Frame, flags uint8) {
	t.Helper()
	frame, err := codec.Pack(codec.KindAudio, flags, audio.FramesToPCM16Into(nil, frames))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write audio: %v", err)
	}
}

func readAudio(t *testing.T, conn *websocket.Conn) (codec.Message, []denoise.Frame) {
	t.Helper()
	kind, data := readFrame(t, conn)
	if kind != websocket.BinaryMessage {
		t.Fatalf("message kind=%d, want binary", kind)
	}
	msg, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Kind != codec.KindAudio {
		t.Fatalf("kind=%v, want audio", msg.Kind)
	}
	return msg, audio.PCM16ToFramesInto(nil, msg.Payload)
}

func sine(n int, offset int) []denoise.Frame {
	frames := make([]denoise.Frame, n)
	for i := range frames {
		v := float32(0.3 * math.Sin(2*math.Pi*440*float64(i+offset)/48_000))
		frames[i] = denoise.Frame{Left: v, Right: v}
	}
	return frames
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionHello(t *testing.T) {
	srv := newTestServer(t, denoise.DefaultOptions(), Config{})
	_, hello := srv.dial(t)
	if hello.MixRate != 48_000 || hello.MaxFrames != codec.MaxAudioFrames {
		t.Fatalf("hello=%+v", hello)
	}
	waitFor(t, func() bool { return len(srv.handler.Sessions()) == 1 })
	if got := srv.handler.Sessions()[0].ID; got != hello.SessionID {
		t.Fatalf("session id=%q, want %q", got, hello.SessionID)
	}
}

func TestAudioReplyKeepsFrameCount(t *testing.T) {
	srv := newTestServer(t, denoise.DefaultOptions(), Config{})
	conn, _ := srv.dial(t)

	for i, n := range []int{512, 1, 0, 1024} {
		sendAudio(t, conn, sine(n, i*512), 0)
		msg, frames := readAudio(t, conn)
		if len(frames) != n {
			t.Fatalf("callback %d: frames=%d, want %d", i, len(frames), n)
		}
		if msg.Has(codec.FlagPassthrough) {
			t.Fatalf("callback %d flagged passthrough at matching rates", i)
		}
	}

	sendText(t, conn, `{"type":"get-stats","request_id":"r1"}`)
	reply := readCommand(t, conn)
	if reply.Type != "stats" || reply.RequestID != "r1" || reply.Stats == nil {
		t.Fatalf("reply=%+v", reply)
	}
	if reply.Stats.Frames != 1537 || reply.Stats.Callbacks != 4 {
		t.Fatalf("stats=%+v, want 1537 frames over 4 callbacks", reply.Stats)
	}
}

func TestAudioPassthroughAtOtherMixRate(t *testing.T) {
	opts := denoise.DefaultOptions()
	opts.MixRate = 44_100
	srv := newTestServer(t, opts, Config{})
	conn, _ := srv.dial(t)

	in := sine(300, 0)
	sendAudio(t, conn, in, codec.FlagEndOfStream)
	msg, out := readAudio(t, conn)
	if !msg.Has(codec.FlagPassthrough) || !msg.Has(codec.FlagEndOfStream) {
		t.Fatalf("flags=%b, want passthrough and end-of-stream", msg.Flags)
	}
	for i := range in {
		if math.Abs(float64(out[i].Left-in[i].Left)) > 1e-4 {
			t.Fatalf("frame %d=%+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestParamsCommands(t *testing.T) {
	srv := newTestServer(t, denoise.DefaultOptions(), Config{})
	conn, _ := srv.dial(t)

	sendText(t, conn, `{"type":"set-params","params":{"atten_lim_db":-12,"reduce_mask":"max"}}`)
	reply := readCommand(t, conn)
	if reply.Type != "params" || reply.Params == nil {
		t.Fatalf("reply=%+v", reply)
	}
	if reply.Params.AttenLimitDB != 12 || reply.Params.MaskReduction != denoise.MaskReductionMax {
		t.Fatalf("params=%+v, want atten 12 max", reply.Params)
	}

	cmd, err := codec.Pack(codec.KindCommand, 0, []byte(`{"type":"get-params"}`))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, cmd); err != nil {
		t.Fatalf("write: %v", err)
	}
	kind, _ := readFrame(t, conn)
	if kind != websocket.BinaryMessage {
		t.Fatalf("reply to binary command came as kind %d", kind)
	}
	params, revision := srv.effect.Params()
	if params.AttenLimitDB != 12 || revision != reply.Revision {
		t.Fatalf("stored=%+v rev=%d, want atten 12 rev %d", params, revision, reply.Revision)
	}

	sendText(t, conn, `{"type":"set-params"}`)
	if reply := readCommand(t, conn); reply.Type != "error" {
		t.Fatalf("empty set-params reply=%+v, want error", reply)
	}
}

func TestApplyPreset(t *testing.T) {
	dir := t.TempDir()
	body := "name: booth\nsuppression:\n  atten_lim_db: -9\n  reduce_mask: none\n"
	if err := os.WriteFile(filepath.Join(dir, "booth.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write preset: %v", err)
	}
	srv := newTestServer(t, denoise.DefaultOptions(), Config{PresetsDir: dir})
	conn, _ := srv.dial(t)

	sendText(t, conn, `{"type":"apply-preset","preset":"booth"}`)
	reply := readCommand(t, conn)
	if reply.Type != "preset-applied" || reply.Preset != "booth" {
		t.Fatalf("reply=%+v", reply)
	}
	params, _ := srv.effect.Params()
	if params.AttenLimitDB != 9 || params.MaskReduction != denoise.MaskReductionNone {
		t.Fatalf("params=%+v, want preset values", params)
	}
	if reply.Params == nil || *reply.Params != params {
		t.Fatalf("reply params=%+v, want stored %+v", reply.Params, params)
	}

	sendText(t, conn, `{"type":"apply-preset","preset":"missing"}`)
	if reply := readCommand(t, conn); reply.Type != "error" {
		t.Fatalf("reply=%+v, want error", reply)
	}
}

func TestBadInputGetsErrors(t *testing.T) {
	srv := newTestServer(t, denoise.DefaultOptions(), Config{})
	conn, _ := srv.dial(t)

	sendText(t, conn, `{not json`)
	if reply := readCommand(t, conn); reply.Type != "error" || reply.Message != "invalid json" {
		t.Fatalf("reply=%+v", reply)
	}
	sendText(t, conn, `{"type":"dance"}`)
	if reply := readCommand(t, conn); reply.Type != "error" {
		t.Fatalf("reply=%+v", reply)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{9, 0, 0, 0}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if reply := readCommand(t, conn); reply.Type != "error" {
		t.Fatalf("reply=%+v", reply)
	}
	sendText(t, conn, `{"type":"heartbeat"}`)
	sendText(t, conn, `{"type":"get-params"}`)
	if reply := readCommand(t, conn); reply.Type != "params" {
		t.Fatalf("heartbeat produced a reply: %+v", reply)
	}
}

func TestReportWrittenOnClose(t *testing.T) {
	dir := t.TempDir()
	srv := newTestServer(t, denoise.DefaultOptions(), Config{ReportsDir: dir})
	conn, hello := srv.dial(t)

	sendAudio(t, conn, sine(480, 0), 0)
	readAudio(t, conn)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		t.Fatalf("close: %v", err)
	}

	waitFor(t, func() bool { return len(storage.ListReports(dir)) == 1 })
	list := storage.ListReports(dir)
	if list[0].SessionID != hello.SessionID || list[0].Frames != 480 {
		t.Fatalf("report=%+v", list[0])
	}
	report, err := storage.ReadReport(dir, list[0].ID)
	if err != nil {
		t.Fatalf("ReadReport: %v", err)
	}
	if report.CloseError != "" {
		t.Fatalf("CloseError=%q, want empty for a clean close", report.CloseError)
	}
	waitFor(t, func() bool { return len(srv.handler.Sessions()) == 0 })
}

func TestCloseAllEndsSessions(t *testing.T) {
	srv := newTestServer(t, denoise.DefaultOptions(), Config{})
	conn, _ := srv.dial(t)
	waitFor(t, func() bool { return len(srv.handler.Sessions()) == 1 })

	srv.handler.CloseAll()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("err=%v, want going-away close", err)
	}
	_ = conn.Close()
	waitFor(t, func() bool { return len(srv.handler.Sessions()) == 0 })
}

func TestSegmentedModeRestartsInstance(t *testing.T) {
	srv := newTestServer(t, denoise.DefaultOptions(), Config{})
	conn, _ := srv.dial(t)

	sendText(t, conn, `{"type":"stream-mode","mode":"segmented"}`)
	if reply := readCommand(t, conn); reply.Type != "stream-mode" || reply.Mode != "segmented" {
		t.Fatalf("reply=%+v", reply)
	}

	sendAudio(t, conn, sine(256, 0), 0)
	readAudio(t, conn)
	sendAudio(t, conn, sine(256, 256), codec.FlagEndOfStream)
	readAudio(t, conn)
	if got := srv.handler.Sessions()[0].State; got != "ended" {
		t.Fatalf("state=%q, want ended", got)
	}

	sendAudio(t, conn, sine(100, 0), 0)
	readAudio(t, conn)
	sendText(t, conn, `{"type":"get-stats"}`)
	reply := readCommand(t, conn)
	if reply.Stats == nil || reply.Stats.Frames != 100 || reply.Stats.Callbacks != 1 {
		t.Fatalf("stats=%+v, want a fresh instance with one callback", reply.Stats)
	}
	snap := srv.handler.Sessions()[0]
	if snap.Segments != 2 || snap.State != "streaming" || snap.Mode != "segmented" {
		t.Fatalf("session=%+v", snap)
	}
}
