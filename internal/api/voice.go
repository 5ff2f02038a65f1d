package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicecard/internal/enroll"
	"github.com/MrWong99/voicecard/internal/observe"
	"github.com/MrWong99/voicecard/internal/session"
	"github.com/MrWong99/voicecard/pkg/audio"
	"github.com/MrWong99/voicecard/pkg/provider/stt"
	"github.com/MrWong99/voicecard/pkg/provider/tts"
)

// playbackTimeout bounds how long a prompt may take to play on the client.
const playbackTimeout = 2 * time.Minute

// keywordBoost is the recogniser boost applied to the locale vocabulary.
const keywordBoost = 2

var errPlaybackTimeout = errors.New("api: client did not report playback completion")

// Client to server message types. Binary frames carry microphone PCM.
const (
	msgTranscript   = "transcript"
	msgPlaybackDone = "playback_done"
)

// Server to client message types. Binary frames carry prompt audio.
const (
	msgPrompt   = "prompt"
	msgAudioEnd = "audio_end"
	msgError    = "error"
)

type clientMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type promptEvent struct {
	Type string `json:"type"`
	replyView
}

type serverEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// voiceConn is one voice WebSocket. It implements [session.Speaker].
type voiceConn struct {
	srv  *Server
	conn *websocket.Conn
	sess *session.Session

	rec  *session.Reconnector
	conv *audio.Converter

	transcripts chan string
	played      chan struct{}
}

var _ session.Speaker = (*voiceConn)(nil)

// voice handles GET /v1/voice?token=&rate=&channels=&autostart=.
//
// The client streams microphone PCM as binary frames, or sends
// {"type":"transcript"} messages when it recognises speech itself. Each
// reply is announced with a {"type":"prompt"} message followed by binary
// audio and {"type":"audio_end"}. The client answers {"type":"playback_done"}
// once the prompt has played; only then is it listened to again.
func (s *Server) voice(w http.ResponseWriter, r *http.Request) {
	token, ok := tokenParam(w, r)
	if !ok {
		return
	}
	if _, err := s.cfg.Store.EnsureUser(r.Context(), token); err != nil {
		storeError(w, r, "ensure user", err)
		return
	}

	var (
		conv *audio.Converter
		rec  *session.Reconnector
	)
	if s.cfg.STT != nil {
		from, err := clientFormat(r, s.cfg.Stream.SampleRate)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		conv, err = audio.NewConverter(from, audio.Format{SampleRate: s.cfg.Stream.SampleRate, Channels: 1})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rec = session.NewReconnector(session.ReconnectorConfig{
			Provider: s.cfg.STT,
			Stream:   s.streamConfig(),
		})
		if err := rec.Connect(r.Context()); err != nil {
			s.cfg.Metrics.RecordProviderError(r.Context(), "stt", "stt")
			internalError(w, r, "start speech recognition", err)
			return
		}
		defer rec.Stop()
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		observe.Logger(r.Context()).Warn("api: voice upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()

	vc := &voiceConn{
		srv:         s,
		conn:        conn,
		sess:        s.cfg.Sessions.Get(token),
		rec:         rec,
		conv:        conv,
		transcripts: make(chan string, 4),
		played:      make(chan struct{}, 1),
	}

	ctx, cancel := context.WithCancel(observe.WithSession(r.Context(), vc.sess.ID()))
	defer cancel()

	s.cfg.Metrics.ActiveVoiceConnections.Add(ctx, 1)
	defer s.cfg.Metrics.ActiveVoiceConnections.Add(context.WithoutCancel(ctx), -1)

	log := observe.Logger(ctx)
	log.Info("voice session opened", "stt", rec != nil, "tts", s.cfg.TTS != nil)

	err = vc.run(ctx, cancel, autoStart(r))
	switch {
	case err == nil:
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		log.Warn("voice session ended with error", "err", err)
		conn.Close(websocket.StatusInternalError, "voice session failed")
	}
	log.Info("voice session closed")
}

func (vc *voiceConn) run(ctx context.Context, cancel context.CancelFunc, start bool) error {
	conversation, err := session.NewConversation(session.ConversationConfig{
		Session:     vc.sess,
		Speaker:     vc,
		Transcripts: vc.transcripts,
		AutoStart:   start,
		OnReply:     func(r enroll.Reply) { _ = vc.send(ctx, promptEvent{Type: msgPrompt, replyView: viewOf(r)}) },
		Metrics:     vc.srv.cfg.Metrics,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return vc.readLoop(gctx)
	})
	g.Go(func() error {
		if err := conversation.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if vc.rec != nil {
		g.Go(func() error {
			err := vc.rec.Run(gctx)
			if errors.Is(err, session.ErrReconnectFailed) {
				_ = vc.send(gctx, serverEvent{Type: msgError, Message: "speech recognition unavailable"})
				return err
			}
			return nil
		})
		g.Go(func() error {
			for text := range vc.rec.Transcripts() {
				select {
				case vc.transcripts <- text:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// readLoop consumes client frames until the connection closes.
func (vc *voiceConn) readLoop(ctx context.Context) error {
	for {
		typ, data, err := vc.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch typ {
		case websocket.MessageBinary:
			vc.handleAudio(ctx, data)
		case websocket.MessageText:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = vc.send(ctx, serverEvent{Type: msgError, Message: "malformed message"})
				continue
			}
			switch msg.Type {
			case msgTranscript:
				select {
				case vc.transcripts <- msg.Text:
				case <-ctx.Done():
					return nil
				}
			case msgPlaybackDone:
				select {
				case vc.played <- struct{}{}:
				default:
				}
			default:
				_ = vc.send(ctx, serverEvent{Type: msgError, Message: "unknown message type " + strconv.Quote(msg.Type)})
			}
		}
	}
}

func (vc *voiceConn) handleAudio(ctx context.Context, data []byte) {
	if vc.rec == nil {
		return
	}
	pcm := vc.conv.Convert(data)
	if len(pcm) == 0 {
		return
	}
	if err := vc.rec.SendAudio(pcm); err != nil {
		observe.Logger(ctx).Debug("api: audio not forwarded", "err", err)
	}
}

// Speak implements [session.Speaker]. It streams the prompt audio, marks
// its end and waits for the client to finish playing it.
func (vc *voiceConn) Speak(ctx context.Context, text string) error {
	select {
	case <-vc.played:
	default:
	}

	if p := vc.srv.cfg.TTS; p != nil {
		if err := vc.streamSpeech(ctx, p, text); err != nil {
			return err
		}
	}
	if err := vc.send(ctx, serverEvent{Type: msgAudioEnd}); err != nil {
		return err
	}

	timer := time.NewTimer(playbackTimeout)
	defer timer.Stop()
	select {
	case <-vc.played:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errPlaybackTimeout
	}
}

// streamSpeech sends synthesised audio as binary frames. A synthesis
// failure is reported to the client, which can still show the prompt text.
func (vc *voiceConn) streamSpeech(ctx context.Context, p tts.Provider, text string) error {
	m := vc.srv.cfg.Metrics
	provider := vc.srv.providerName()
	start := time.Now()

	chunks, err := tts.Speak(ctx, p, text, vc.srv.voiceProfile())
	if err != nil {
		m.RecordProviderError(ctx, provider, "tts")
		observe.Logger(ctx).Warn("api: prompt synthesis failed", "err", err)
		return vc.send(ctx, serverEvent{Type: msgError, Message: "speech synthesis failed"})
	}
	for chunk := range chunks {
		if err := vc.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			audio.Drain(chunks)
			return err
		}
	}
	m.TTSDuration.Record(ctx, time.Since(start).Seconds())
	m.RecordProviderRequest(ctx, provider, "tts", "ok")
	return nil
}

func (vc *voiceConn) send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return vc.conn.Write(ctx, websocket.MessageText, data)
}

// streamConfig returns the recogniser settings for a new voice session.
// Language and keywords follow the current locale unless configured.
func (s *Server) streamConfig() stt.StreamConfig {
	cfg := s.cfg.Stream
	cfg.Channels = 1
	loc := s.cfg.Sessions.Machine().Locale()
	if cfg.Language == "" {
		cfg.Language = loc.Tag
	}
	if len(cfg.Keywords) == 0 {
		for _, w := range loc.Vocabulary() {
			cfg.Keywords = append(cfg.Keywords, stt.KeywordBoost{Keyword: w, Boost: keywordBoost})
		}
	}
	return cfg
}

// clientFormat reads the rate and channels query parameters. Missing values
// default to mono at the recogniser rate.
func clientFormat(r *http.Request, defaultRate int) (audio.Format, error) {
	f := audio.Format{SampleRate: defaultRate, Channels: 1}
	q := r.URL.Query()
	if v := q.Get("rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("rate must be an integer")
		}
		f.SampleRate = n
	}
	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("channels must be an integer")
		}
		f.Channels = n
	}
	return f, f.Validate()
}

func autoStart(r *http.Request) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get("autostart"))
	return b
}
