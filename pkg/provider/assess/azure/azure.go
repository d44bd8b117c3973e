// Package azure provides a pronunciation-assessment provider backed by the
// Azure AI Speech continuous-recognition websocket API. It implements the
// assess.Provider interface.
//
// The session speaks the service's framed websocket protocol directly: text
// messages carry a header block followed by a JSON body, binary messages carry
// a length-prefixed header block followed by raw audio.
package azure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/elocute/pkg/audio"
	"github.com/MrWong99/elocute/pkg/provider/assess"
	"github.com/coder/websocket"
)

const (
	endpointTemplate  = "wss://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1"
	defaultLanguage   = "en-US"
	defaultReadLimit  = 4 << 20
	defaultAudioQueue = 256
	defaultEventQueue = 64
)

// Option is a functional option for configuring the Azure Provider.
type Option func(*Provider)

// WithEndpoint overrides the websocket endpoint derived from the region. Use
// it for sovereign clouds, private endpoints, or tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithLanguage sets the locale used when SessionConfig.Language is empty.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithHTTPClient sets the HTTP client used for the websocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements assess.Provider backed by Azure AI Speech.
type Provider struct {
	key        string
	region     string
	endpoint   string
	language   string
	httpClient *http.Client
}

// New creates a new Azure Provider. key must be non-empty, and region must be
// non-empty unless WithEndpoint is given.
func New(key, region string, opts ...Option) (*Provider, error) {
	if key == "" {
		return nil, errors.New("azure: subscription key must not be empty")
	}
	p := &Provider{
		key:      key,
		region:   region,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	if p.endpoint == "" {
		if region == "" {
			return nil, errors.New("azure: region must not be empty")
		}
		p.endpoint = fmt.Sprintf(endpointTemplate, region)
	}
	return p, nil
}

// StartSession dials the service, sends the session configuration and the
// pronunciation-assessment context, and returns a session ready for audio.
func (p *Provider) StartSession(ctx context.Context, cfg assess.SessionConfig) (assess.SessionHandle, error) {
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	wsURL, err := p.buildURL(lang)
	if err != nil {
		return nil, fmt.Errorf("azure: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Ocp-Apim-Subscription-Key", p.key)
	headers.Set("X-ConnectionId", newRequestID())

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
		HTTPClient: p.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("azure: dial: %w", err)
	}
	conn.SetReadLimit(defaultReadLimit)

	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if !format.Valid() {
		format = audio.Speech
	}

	sess := &session{
		conn:      conn,
		requestID: newRequestID(),
		format:    format,
		events:    make(chan assess.Event, defaultEventQueue),
		audio:     make(chan []byte, defaultAudioQueue),
		ended:     make(chan struct{}),
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
	}

	if err := sess.sendPreamble(ctx, cfg); err != nil {
		conn.Close(websocket.StatusInternalError, "preamble failed")
		return nil, fmt.Errorf("azure: %w", err)
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

func (p *Provider) buildURL(language string) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("language", language)
	q.Set("format", "detailed")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Ensure Provider implements assess.Provider at compile time.
var _ assess.Provider = (*Provider)(nil)

// ---- session preamble ----

type speechConfig struct {
	Context struct {
		System struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"system"`
		OS struct {
			Platform string `json:"platform"`
			Name     string `json:"name"`
		} `json:"os"`
		Audio struct {
			Source struct {
				Type string `json:"type"`
			} `json:"source"`
		} `json:"audio"`
	} `json:"context"`
}

type pronunciationAssessmentParams struct {
	ReferenceText           string `json:"referenceText"`
	GradingSystem           string `json:"gradingSystem"`
	Granularity             string `json:"granularity"`
	Dimension               string `json:"dimension"`
	EnableMiscue            bool   `json:"enableMiscue"`
	EnableProsodyAssessment bool   `json:"enableProsodyAssessment"`
}

type speechContext struct {
	PhraseDetection struct {
		Enrichment struct {
			PronunciationAssessment pronunciationAssessmentParams `json:"pronunciationAssessment"`
		} `json:"enrichment"`
	} `json:"phraseDetection"`
	PhraseOutput struct {
		Format   string `json:"format"`
		Detailed struct {
			Options []string `json:"options"`
		} `json:"detailed"`
	} `json:"phraseOutput"`
}

func newSpeechContext(cfg assess.SessionConfig) speechContext {
	var sc speechContext
	sc.PhraseDetection.Enrichment.PronunciationAssessment = pronunciationAssessmentParams{
		ReferenceText:           cfg.ReferenceText,
		GradingSystem:           "HundredMark",
		Granularity:             "Phoneme",
		Dimension:               "Comprehensive",
		EnableMiscue:            cfg.EnableMiscue,
		EnableProsodyAssessment: cfg.EnableProsody,
	}
	sc.PhraseOutput.Format = "Detailed"
	sc.PhraseOutput.Detailed.Options = []string{"WordTimings", "PronunciationAssessment", "SNR"}
	return sc
}

func (s *session) sendPreamble(ctx context.Context, cfg assess.SessionConfig) error {
	var sc speechConfig
	sc.Context.System.Name = "elocute"
	sc.Context.System.Version = "1.0"
	sc.Context.OS.Platform = runtime.GOOS
	sc.Context.OS.Name = runtime.GOARCH
	sc.Context.Audio.Source.Type = "Stream"

	for _, m := range []struct {
		path string
		body any
	}{
		{pathSpeechConfig, sc},
		{pathSpeechContext, newSpeechContext(cfg)},
	} {
		body, err := json.Marshal(m.body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", m.path, err)
		}
		if err := s.conn.Write(ctx, websocket.MessageText, textFrame(m.path, s.requestID, time.Now(), body)); err != nil {
			return fmt.Errorf("send %s: %w", m.path, err)
		}
	}
	return nil
}

// ---- session ----

// session is a live continuous-recognition session. It implements
// assess.SessionHandle.
type session struct {
	conn      *websocket.Conn
	requestID string
	format    audio.Format

	events chan assess.Event
	audio  chan []byte

	ended   chan struct{}
	endOnce sync.Once

	// stopped is closed as soon as either loop exits. No audio is delivered
	// after that.
	stopped  chan struct{}
	stopOnce sync.Once

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a PCM audio chunk for delivery to the service. It fails
// once the session was closed or the connection stopped.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return assess.ErrSessionClosed
	case <-s.ended:
		return fmt.Errorf("azure: audio already ended: %w", assess.ErrSessionClosed)
	case <-s.stopped:
		return fmt.Errorf("azure: connection stopped: %w", assess.ErrSessionClosed)
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return assess.ErrSessionClosed
	case <-s.stopped:
		return fmt.Errorf("azure: connection stopped: %w", assess.ErrSessionClosed)
	}
}

// EndAudio marks the end of the audio stream. The writer flushes queued audio
// and sends the empty end-of-audio frame.
func (s *session) EndAudio() error {
	select {
	case <-s.done:
		return assess.ErrSessionClosed
	default:
	}
	s.endOnce.Do(func() { close(s.ended) })
	return nil
}

// Events returns the channel of recognition events.
func (s *session) Events() <-chan assess.Event { return s.events }

func (s *session) stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

// Close terminates the session and waits for both loops to exit.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

// writeLoop frames queued audio chunks and sends them as binary messages. The
// first frame is prefixed with a streaming WAV header.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	defer s.stop()
	headerSent := false
	send := func(chunk []byte) error {
		if !headerSent {
			chunk = append(audio.EncodeWAVHeader(s.format, 0), chunk...)
			headerSent = true
		}
		err := s.conn.Write(ctx, websocket.MessageBinary, audioFrame(s.requestID, time.Now(), chunk))
		if err != nil {
			// Unblock the reader so the event stream ends with a cancellation.
			slog.Debug("azure: audio write failed", "err", err)
			s.conn.CloseNow()
		}
		return err
	}

	for {
		select {
		case chunk := <-s.audio:
			if err := send(chunk); err != nil {
				return
			}
		case <-s.ended:
			// Drain whatever was queued before EndAudio, then terminate.
		drain:
			for {
				select {
				case chunk := <-s.audio:
					if err := send(chunk); err != nil {
						return
					}
				default:
					break drain
				}
			}
			if !headerSent {
				if err := send(nil); err != nil {
					return
				}
			}
			_ = s.conn.Write(ctx, websocket.MessageBinary, audioFrame(s.requestID, time.Now(), nil))
			return
		case <-s.stopped:
			return
		case <-s.done:
			return
		}
	}
}

// readLoop receives service messages and dispatches them as events. It closes
// the events channel when the turn ends, the socket closes, or the session
// is canceled.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)
	defer s.stop()

	for {
		typ, msg, err := s.conn.Read(ctx)
		if err != nil {
			s.handleReadError(ctx, err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		hdr, body, err := parseTextFrame(msg)
		if err != nil {
			slog.Debug("azure: ignoring unparsable message", "err", err)
			continue
		}

		switch path := strings.ToLower(hdr.Get("Path")); path {
		case pathPhrase:
			ph, err := DecodeDetailedResult(body)
			if err != nil {
				s.emit(assess.Event{Kind: assess.EventCanceled, Cancel: &assess.CancelError{
					Reason:  "Error",
					Code:    "MalformedEvent",
					Details: err.Error(),
					Err:     err,
				}})
				return
			}
			switch {
			case ph.Status == StatusSuccess:
				s.emit(assess.Event{Kind: assess.EventRecognized, Utterance: ph.Utterance})
			case ph.Status.Skippable():
				slog.Debug("azure: skipping phrase", "status", ph.Status)
			default:
				s.emit(assess.Event{Kind: assess.EventCanceled, Cancel: &assess.CancelError{
					Reason:  "Error",
					Code:    string(ph.Status),
					Details: "recognition failed with status " + string(ph.Status),
				}})
				return
			}
		case pathTurnEnd:
			return
		case pathTurnStart, pathStartDetected, pathEndDetected, pathHypothesis, pathFragment:
		default:
			slog.Debug("azure: ignoring message", "path", path)
		}
	}
}

func (s *session) handleReadError(ctx context.Context, err error) {
	select {
	case <-s.done:
		return
	default:
	}
	if ctx.Err() != nil {
		return
	}
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		return
	}

	ce := &assess.CancelError{Reason: "Error", Details: err.Error()}
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		ce.Code = strconv.Itoa(int(closeErr.Code))
		if closeErr.Reason != "" {
			ce.Details = closeErr.Reason
		}
	} else {
		ce.Code = "ConnectionFailure"
	}
	s.emit(assess.Event{Kind: assess.EventCanceled, Cancel: ce})
}

func (s *session) emit(ev assess.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}
