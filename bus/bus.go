// Package bus publishes session events to NATS so other processes can follow
// a practice session live.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"voxcoach/analysis"
	"voxcoach/config"
	"voxcoach/log"
	"voxcoach/session"
	"voxcoach/transcript"
	"voxcoach/waveform"
)

const (
	SubjectState   = "state"
	SubjectPartial = "partial"
	SubjectWords   = "words"
	SubjectWarning = "warning"
	SubjectReport  = "report"
)

type StateMsg struct {
	Session   string `json:"session"`
	State     string `json:"state"`
	Exercise  string `json:"exercise"`
	ElapsedS  uint32 `json:"elapsed_s"`
	Condition string `json:"condition,omitempty"`
}

type PartialMsg struct {
	Session string `json:"session"`
	Text    string `json:"text"`
}

type WordsMsg struct {
	Session string            `json:"session"`
	Words   []transcript.Word `json:"words"`
}

type WarningMsg struct {
	Session string `json:"session"`
	Error   string `json:"error"`
}

type ReportMsg struct {
	Session string          `json:"session"`
	Report  analysis.Report `json:"report"`
	Overall int             `json:"overall"`
	Grade   analysis.Grade  `json:"grade"`
}

// Publisher is a session.EventSink that forwards events to
// <prefix>.<session id>.<kind>. Ticks and waveform frames stay local.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	owned  bool
}

var _ session.EventSink = (*Publisher)(nil)

func NewPublisher(conn *nats.Conn, prefix string) *Publisher {
	return &Publisher{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// Connect dials the configured servers.
func Connect(ctx context.Context, cfg config.BusConfig, servers ...string) (*Publisher, error) {
	if len(servers) == 0 {
		servers = cfg.Servers
	}
	if len(servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("voxcoach"),
		nats.Timeout(cfg.Timeout()),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	url := strings.Join(servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	log.Infof("connected to NATS at %s", url)

	p := NewPublisher(conn, cfg.SubjectPrefix)
	p.owned = true
	return p, nil
}

func (p *Publisher) Subject(sessionID, kind string) string {
	return p.prefix + "." + sessionID + "." + kind
}

func (p *Publisher) publish(sessionID, kind string, v any) {
	if sessionID == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Warnf("bus: encode %s: %v", kind, err)
		return
	}
	if err := p.conn.Publish(p.Subject(sessionID, kind), data); err != nil {
		log.Warnf("bus: publish %s: %v", kind, err)
	}
}

func (p *Publisher) StateChanged(s session.Session, cond error) {
	msg := StateMsg{
		Session:  s.ID,
		State:    s.State.String(),
		Exercise: string(s.Exercise),
		ElapsedS: s.ElapsedSeconds,
	}
	if cond != nil {
		msg.Condition = cond.Error()
	}
	p.publish(s.ID, SubjectState, msg)
}

func (p *Publisher) Tick(string, uint32)                      {}
func (p *Publisher) Waveform(string, waveform.Frame, float64) {}

func (p *Publisher) Partial(id, text string) {
	p.publish(id, SubjectPartial, PartialMsg{Session: id, Text: text})
}

func (p *Publisher) Words(id string, words []transcript.Word) {
	p.publish(id, SubjectWords, WordsMsg{Session: id, Words: words})
}

func (p *Publisher) Warning(id string, err error) {
	p.publish(id, SubjectWarning, WarningMsg{Session: id, Error: err.Error()})
}

func (p *Publisher) Result(id string, r analysis.Report) {
	overall := r.Result.Overall()
	p.publish(id, SubjectReport, ReportMsg{
		Session: id,
		Report:  r,
		Overall: overall,
		Grade:   analysis.GradeOf(float64(overall)),
	})
}

// Close flushes pending messages. Connections passed to NewPublisher are
// left open.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.FlushTimeout(time.Second); err != nil {
		log.Warnf("bus: flush: %v", err)
	}
	if p.owned {
		p.conn.Drain()
		p.conn.Close()
	}
}

// Embedded is an in-process NATS server for running without external
// infrastructure.
type Embedded struct {
	ns *server.Server
}

// StartEmbedded listens on port on the loopback interface. Port -1 picks a
// free one.
func StartEmbedded(port int) (*Embedded, error) {
	opts := &server.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("embedded NATS server failed to start within 5 seconds")
	}
	log.Infof("embedded NATS server listening on %s", ns.ClientURL())
	return &Embedded{ns: ns}, nil
}

func (e *Embedded) ClientURL() string { return e.ns.ClientURL() }

func (e *Embedded) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
