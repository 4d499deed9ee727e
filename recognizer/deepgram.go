package recognizer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	deepgramURL          = "wss://api.deepgram.com/v1/listen"
	deepgramDefaultModel = "nova-3"
	handshakeTimeout     = 10 * time.Second
	writeTimeout         = 5 * time.Second
)

type Deepgram struct {
	apiKey   string
	model    string
	endpoint string
	dialer   *websocket.Dialer
}

func NewDeepgram(apiKey, model string) *Deepgram {
	if model == "" {
		model = deepgramDefaultModel
	}
	return &Deepgram{
		apiKey:   apiKey,
		model:    model,
		endpoint: deepgramURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (d *Deepgram) Name() string { return "deepgram" }

func (d *Deepgram) Open(ctx context.Context, opts Options) (Stream, error) {
	u, err := d.streamURL(opts)
	if err != nil {
		return nil, err
	}
	return newStreamSession(opts, func() (rawStream, error) {
		return d.dial(ctx, u)
	}), nil
}

func (d *Deepgram) streamURL(opts Options) (string, error) {
	endpoint, err := url.Parse(d.endpoint)
	if err != nil {
		return "", fmt.Errorf("deepgram endpoint: %w", err)
	}
	q := endpoint.Query()
	model := opts.Model
	if model == "" {
		model = d.model
	}
	q.Set("model", model)
	q.Set("encoding", "linear16")
	q.Set("punctuate", "true")
	if opts.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	}
	if opts.Channels > 0 {
		q.Set("channels", strconv.Itoa(opts.Channels))
	}
	if opts.Locale != "" {
		q.Set("language", opts.Locale)
	}
	q.Set("interim_results", strconv.FormatBool(opts.Interim))
	endpoint.RawQuery = q.Encode()
	return endpoint.String(), nil
}

func (d *Deepgram) dial(ctx context.Context, u string) (rawStream, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)
	conn, resp, err := d.dialer.DialContext(ctx, u, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: deepgram handshake: %s", errNotAllowed, resp.Status)
		}
		return nil, fmt.Errorf("deepgram dial: %w", err)
	}
	return &deepgramStream{conn: conn}, nil
}

type deepgramResponse struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type deepgramStream struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (s *deepgramStream) Send(pcm []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// CloseSend asks the service to flush pending audio and close the stream
// once the final results are out.
func (s *deepgramStream) CloseSend() error {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Finalize"}`)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
}

func (s *deepgramStream) Recv() (streamUpdate, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return streamUpdate{}, err
	}
	return parseDeepgram(data)
}

func parseDeepgram(data []byte) (streamUpdate, error) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return streamUpdate{}, fmt.Errorf("%w: %v", errProtocol, err)
	}
	if resp.Type != "" && resp.Type != "Results" {
		return streamUpdate{Ignore: true}, nil
	}
	u := streamUpdate{
		IsFinal:      resp.IsFinal,
		SpeechFinal:  resp.SpeechFinal,
		FromFinalize: resp.FromFinalize,
	}
	if len(resp.Channel.Alternatives) > 0 {
		u.Transcript = resp.Channel.Alternatives[0].Transcript
		u.Confidence = resp.Channel.Alternatives[0].Confidence
	}
	return u, nil
}

func (s *deepgramStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
