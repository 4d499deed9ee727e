package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"voxcoach/analysis"
	"voxcoach/config"
	"voxcoach/exercise"
	"voxcoach/session"
	"voxcoach/transcript"
	"voxcoach/waveform"
)

func startBus(t *testing.T) (*Publisher, *nats.Subscription) {
	t.Helper()
	srv, err := StartEmbedded(-1)
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg := config.Default().Bus
	cfg.SubjectPrefix = "test.session"
	pub, err := Connect(context.Background(), cfg, srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pub.Close)

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	t.Cleanup(nc.Close)
	sub, err := nc.SubscribeSync("test.session.>")
	if err != nil {
		t.Fatal(err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}
	return pub, sub
}

func next(t *testing.T, sub *nats.Subscription, v any) string {
	t.Helper()
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("no message: %v", err)
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		t.Fatalf("decode %s: %v", msg.Subject, err)
	}
	return msg.Subject
}

func TestPublisherRoundTrip(t *testing.T) {
	pub, sub := startBus(t)
	const id = "01J0000000000000000000TEST"

	pub.StateChanged(session.Session{ID: id, State: session.Recording, Exercise: exercise.Fluency}, nil)
	pub.Tick(id, 1)
	pub.Waveform(id, waveform.Frame{}, 12)
	pub.Partial(id, "hel")
	pub.Words(id, []transcript.Word{transcript.NewWord("hello", 0.9, 120)})
	pub.Warning(id, errors.New("network"))
	rep := analysis.Report{Result: analysis.Result{Clarity: 90, Pace: 90, Volume: 70, Confidence: 90, Pronunciation: 90}}
	pub.Result(id, rep)
	pub.StateChanged(session.Session{ID: id, State: session.Idle}, session.ErrNoSpeechDetected)
	pub.Close()

	var st StateMsg
	if subj := next(t, sub, &st); subj != "test.session."+id+".state" || st.State != "recording" || st.Exercise != "fluency" {
		t.Errorf("%s: %+v", subj, st)
	}
	var pm PartialMsg
	if subj := next(t, sub, &pm); subj != pub.Subject(id, SubjectPartial) || pm.Text != "hel" {
		t.Errorf("%s: %+v", subj, pm)
	}
	var wm WordsMsg
	next(t, sub, &wm)
	if len(wm.Words) != 1 || wm.Words[0].Text != "hello" || !wm.Words[0].IsCorrect {
		t.Errorf("words = %+v", wm)
	}
	var warn WarningMsg
	if next(t, sub, &warn); warn.Error != "network" {
		t.Errorf("warning = %+v", warn)
	}
	var rm ReportMsg
	next(t, sub, &rm)
	if rm.Overall != 86 || rm.Grade != analysis.GradeGood || rm.Report.Result.Volume != 70 {
		t.Errorf("report = %+v", rm)
	}
	var last StateMsg
	next(t, sub, &last)
	if last.State != "idle" || last.Condition != session.ErrNoSpeechDetected.Error() {
		t.Errorf("last state = %+v", last)
	}

	if _, err := sub.NextMsg(50 * time.Millisecond); err == nil {
		t.Error("ticks or waveform frames were published")
	}
}

func TestConnectNoServers(t *testing.T) {
	cfg := config.Default().Bus
	cfg.Servers = nil
	if _, err := Connect(context.Background(), cfg); err == nil {
		t.Fatal("expected error")
	}
}

func TestSubjectTrimsPrefix(t *testing.T) {
	p := NewPublisher(nil, "a.b.")
	if got := p.Subject("x", SubjectReport); got != "a.b.x.report" {
		t.Errorf("subject = %q", got)
	}
}
