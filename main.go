package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"voxcoach/audio"
	"voxcoach/beep"
	"voxcoach/bus"
	"voxcoach/config"
	"voxcoach/doctor"
	"voxcoach/hotkey"
	"voxcoach/log"
	"voxcoach/session"
	"voxcoach/shutdown"
)

var version = "dev"

const resetTimeout = 10 * time.Second

type flags struct {
	config   string
	logPath  string
	device   string
	format   string
	locale   string
	exercise string
	provider string
	saveDir  string
	setup    bool
	test     bool
	script   string
	version  bool
	diagnose bool
	bus      bool
	embedded bool
	hotkey   bool
	noCues   bool
	noCopy   bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.config, "config", "", "YAML config file")
	flag.StringVar(&f.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	flag.StringVar(&f.device, "device", "", "Use the microphone whose name contains this text")
	flag.StringVar(&f.format, "format", "", "Recording format: flac or wav")
	flag.StringVar(&f.locale, "locale", "", "Recognition locale (e.g. en-US)")
	flag.StringVar(&f.exercise, "exercise", "", "Exercise to start with (id or name)")
	flag.StringVar(&f.provider, "provider", "", "Recognizer: deepgram or fake")
	flag.StringVar(&f.saveDir, "save", "", "Directory recordings are saved to")
	flag.BoolVar(&f.setup, "setup", false, "Select microphone device interactively")
	flag.BoolVar(&f.test, "test", false, "Test mode (headless, stdin-driven): voxcoach -test <wav-file>")
	flag.StringVar(&f.script, "script", "", "Recognizer script for test mode, one utterance per line")
	flag.BoolVar(&f.version, "version", false, "Print version and exit")
	flag.BoolVar(&f.diagnose, "doctor", false, "Check audio devices and hotkey access, then exit")
	flag.BoolVar(&f.bus, "bus", false, "Publish session events to NATS")
	flag.BoolVar(&f.embedded, "embedded-bus", false, "Run an in-process NATS server (implies -bus)")
	flag.BoolVar(&f.hotkey, "hotkey", false, "Listen for the global "+hotkey.Chord+" chord")
	flag.BoolVar(&f.noCues, "quiet", false, "Disable audible cues")
	flag.BoolVar(&f.noCopy, "nocopy", false, "Do not copy results to the clipboard")
	flag.Parse()
	return f
}

// apply overrides file and environment settings with explicit flags.
func (f flags) apply(cfg *config.Config) {
	if f.logPath != "" {
		cfg.LogPath = f.logPath
	}
	if f.device != "" {
		cfg.Audio.Device = f.device
	}
	if f.format != "" {
		cfg.Audio.Format = f.format
	}
	if f.locale != "" {
		cfg.Recognizer.Locale = f.locale
	}
	if f.exercise != "" {
		cfg.Session.Exercise = f.exercise
	}
	if f.provider != "" {
		cfg.Recognizer.Provider = f.provider
	}
	if f.saveDir != "" {
		cfg.Session.SaveDir = f.saveDir
	}
	if f.bus || f.embedded {
		cfg.Bus.Enabled = true
	}
	if f.embedded {
		cfg.Bus.Embedded = true
	}
	if f.hotkey {
		cfg.UI.Hotkey = true
	}
	if f.noCues {
		cfg.UI.Cues = false
	}
	if f.noCopy {
		cfg.UI.Clipboard = false
	}
}

func fatalf(format string, args ...any) {
	log.Errorf(format, args...)
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	log.Close()
	os.Exit(1)
}

func run() {
	f := parseFlags()
	if f.version {
		fmt.Printf("voxcoach %s\n", version)
		return
	}

	cfg, err := config.Load(f.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	f.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logPath, err := log.ResolveDir(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()
	log.Infof("voxcoach %s starting", version)

	if f.diagnose {
		code := runDoctor(cfg)
		log.Close()
		os.Exit(code)
	}

	if f.test {
		args := flag.Args()
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: voxcoach -test [-script file] <wav-file>")
			os.Exit(1)
		}
		runTestMode(cfg, args[0], f.script)
		return
	}

	actx, err := audio.NewContext()
	if err != nil {
		fatalf("initializing audio: %v", err)
	}
	defer actx.Close()

	var dev *audio.DeviceInfo
	if f.setup && cfg.Audio.Device == "" {
		dev, err = audio.SelectDevice(actx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\nFalling back to default device\n", err)
			dev = nil
		}
	} else if dev, err = audio.FindDevice(actx, cfg.Audio.Device); err != nil {
		fatalf("%v", err)
	}

	src, err := newRecognizer(cfg.Recognizer)
	if err != nil {
		fatalf("%v", err)
	}

	player, err := actx.NewPlayer()
	if err != nil {
		log.Warnf("playback unavailable: %v", err)
		player = nil
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	var embedded *bus.Embedded
	var pub *bus.Publisher
	if cfg.Bus.Enabled {
		embedded, pub, err = connectBus(ctx, cfg.Bus)
		if err != nil {
			fatalf("%v", err)
		}
		defer embedded.Shutdown()
		defer pub.Close()
	}

	var hk hotkey.Hotkey
	if cfg.UI.Hotkey {
		hk = hotkey.New()
		if err := hk.Register(); err != nil {
			log.Warnf("hotkey unavailable: %v", err)
			fmt.Printf("Warning: hotkey unavailable: %v\n", err)
			hk = nil
		} else {
			defer hk.Unregister()
		}
	}

	// bound late: the first event only follows a key press
	var program *tea.Program
	sinks := session.MultiSink{tuiSink{send: func(msg tea.Msg) { program.Send(msg) }}}
	if pub != nil {
		sinks = append(sinks, pub)
	}
	var cues *beep.Player
	if cfg.UI.Cues && player != nil {
		cues = beep.New(player)
		sinks = append(sinks, beep.NewSink(cues))
	}

	machine := session.New(session.Deps{
		Audio:      actx,
		Recognizer: src,
		Jitter:     newJitter(cfg.Session),
		Sink:       sinks,
	}, sessionConfig(cfg, dev))
	a := newApp(machine, player, cfg)
	program = tea.NewProgram(newTUIModel(a, hk != nil), tea.WithAltScreen(), tea.WithContext(ctx))

	if hk != nil {
		ctl := hotkey.NewController(hk, hotkey.DefaultHold)
		defer ctl.Close()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case act := <-ctl.Actions():
					log.Infof("hotkey %s", act)
					program.Send(act)
				}
			}
		}()
	}

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		log.Errorf("TUI error: %v", err)
	}

	rctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()
	if machine.State().Active() {
		if err := a.reset(rctx); err != nil {
			log.Warnf("shutdown reset: %v", err)
		}
	}
	a.stopPlayback()
	cues.Wait()
}

// connectBus starts the embedded server when configured and dials it or
// the configured servers.
func connectBus(ctx context.Context, cfg config.BusConfig) (*bus.Embedded, *bus.Publisher, error) {
	var servers []string
	var embedded *bus.Embedded
	if cfg.Embedded {
		var err error
		embedded, err = bus.StartEmbedded(cfg.Port)
		if err != nil {
			return nil, nil, err
		}
		servers = []string{embedded.ClientURL()}
	}
	pub, err := bus.Connect(ctx, cfg, servers...)
	if err != nil {
		embedded.Shutdown()
		return nil, nil, err
	}
	return embedded, pub, nil
}

// runDoctor prints what voxcoach can see of the machine and returns the
// exit code.
func runDoctor(cfg config.Config) int {
	fmt.Printf("voxcoach %s doctor\n", version)
	opts := doctor.Options{
		Format:    cfg.Audio.Format,
		Hotkey:    hotkey.Diagnose,
		Clipboard: cfg.UI.Clipboard,
		Recognizer: func() error {
			_, err := newRecognizer(cfg.Recognizer)
			return err
		},
	}
	actx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  ✗ %-11s %v\n", "audio", err)
		return 1
	}
	defer actx.Close()
	opts.Audio = actx
	if opts.Device, err = audio.FindDevice(actx, cfg.Audio.Device); err != nil {
		fmt.Printf("  ✗ %-11s %v\n", "device", err)
		return 1
	}

	fmt.Printf("Speak for %v...\n", doctor.DefaultListen)
	return doctor.Print(os.Stdout, doctor.Check(context.Background(), opts))
}
