package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhangyw0810/llamatalk/services"
)

// SpeechHandler proxies browser audio to the upstream speech-to-text
// websocket and relays transcripts back, so microphone input can fill the
// message box without a browser speech API.
type SpeechHandler struct {
	transcribe *services.TranscribeService
	logger     *zap.SugaredLogger
}

var speechUpgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewSpeechHandler(transcribe *services.TranscribeService, logger *zap.SugaredLogger) *SpeechHandler {
	return &SpeechHandler{transcribe: transcribe, logger: logger}
}

type speechClientMessage struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	Bits       int    `json:"bits"`
}

// HandleTranscribe upgrades to a websocket speaking a small control
// protocol: a "start" text frame opens the upstream stream, binary frames
// carry audio, "stop" flushes, and transcript events flow back as JSON.
func (h *SpeechHandler) HandleTranscribe(c *gin.Context) {
	if !h.transcribe.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "speech transcription is not configured"})
		return
	}

	conn, err := speechUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnf("speech websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var (
		stream   *services.TranscribeStream
		streamMu sync.Mutex
		writeMu  sync.Mutex
	)

	sendJSON := func(payload interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(payload)
	}

	sendError := func(message string, detail error) {
		errMsg := gin.H{"type": "error", "error": message}
		if detail != nil {
			errMsg["detail"] = detail.Error()
			h.logger.Warnf("speech websocket error: %s: %v", message, detail)
		} else {
			h.logger.Warnf("speech websocket error: %s", message)
		}
		_ = sendJSON(errMsg)
	}

	closeUpstream := func() {
		streamMu.Lock()
		current := stream
		stream = nil
		streamMu.Unlock()
		if current != nil {
			_ = current.Close()
		}
	}
	defer closeUpstream()

	relayTranscripts := func(s *services.TranscribeStream) {
		go func() {
			for {
				transcript, err := s.ReadTranscript()
				if err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						sendError("upstream connection closed", err)
					}
					closeUpstream()
					return
				}

				event := gin.H{"type": "transcript", "is_final": transcript.IsFinal}
				if transcript.Text != "" {
					event["text"] = transcript.Text
				}
				if len(transcript.Raw) > 0 {
					event["raw"] = json.RawMessage(transcript.Raw)
				}
				if err := sendJSON(event); err != nil {
					h.logger.Warnf("send transcript to client failed: %v", err)
					closeUpstream()
					return
				}
			}
		}()
	}

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				h.logger.Warnf("client speech websocket closed: %v", err)
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			var msg speechClientMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				sendError("invalid control message", err)
				continue
			}

			switch msg.Type {
			case "start":
				streamMu.Lock()
				alreadyStarted := stream != nil
				streamMu.Unlock()
				if alreadyStarted {
					sendError("transcribe stream already started", nil)
					continue
				}

				upstream, err := h.transcribe.OpenStream(ctx, msg.SampleRate, msg.Channels, msg.Bits)
				if err != nil {
					sendError("open upstream stream", err)
					continue
				}

				streamMu.Lock()
				stream = upstream
				streamMu.Unlock()

				relayTranscripts(upstream)
				_ = sendJSON(gin.H{"type": "ready"})

			case "stop":
				streamMu.Lock()
				current := stream
				streamMu.Unlock()
				if current != nil {
					if err := current.SendStop(); err != nil {
						sendError("send stop", err)
					}
				}

			case "ping":
				_ = sendJSON(gin.H{"type": "pong"})

			default:
				sendError("unsupported control message", fmt.Errorf("%s", msg.Type))
			}

		case websocket.BinaryMessage:
			streamMu.Lock()
			current := stream
			streamMu.Unlock()
			if current == nil {
				sendError("stream not initialized", errors.New("start message required before audio"))
				continue
			}
			if err := current.SendAudio(payload); err != nil {
				sendError("forward audio frame", err)
				closeUpstream()
				return
			}

		case websocket.CloseMessage:
			return
		}
	}
}
