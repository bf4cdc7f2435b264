/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package app

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/ortuman/xmppchat/event"
	"github.com/ortuman/xmppchat/log"
	"github.com/ortuman/xmppchat/protocol"
	"github.com/ortuman/xmppchat/version"
	"github.com/pkg/errors"
)

const eventBufferSize = 256

const usageStr = `
Usage: xmppchat [options]

Options:
    -c, --config <file>    Configuration file path
Common Options:
    -h, --help             Show this message
    -v, --version          Show version
`

// Application encapsulates a headless xmppchat host.
type Application struct {
	output      io.Writer
	args        []string
	logger      log.Logger
	bus         *event.Bus
	proto       *protocol.Context
	unsubscribe func()
	eventsDone  chan struct{}
	waitStopCh  chan os.Signal
	shutdownTm  time.Duration
}

// New returns a runnable application given an output and a command line arguments array.
func New(output io.Writer, args []string) *Application {
	return &Application{
		output:     output,
		args:       args,
		waitStopCh: make(chan os.Signal, 1),
	}
}

// Run runs the application until either a stop signal is received or an error occurs.
func (a *Application) Run() error {
	if len(a.args) == 0 {
		return errors.New("empty command-line arguments")
	}
	var configFile string
	var showVersion, showUsage bool

	fs := flag.NewFlagSet(version.ApplicationName, flag.ContinueOnError)
	fs.SetOutput(a.output)

	fs.BoolVar(&showUsage, "help", false, "Show this message")
	fs.BoolVar(&showUsage, "h", false, "Show this message")
	fs.BoolVar(&showVersion, "version", false, "Print version information.")
	fs.BoolVar(&showVersion, "v", false, "Print version information.")
	fs.StringVar(&configFile, "config", "/etc/xmppchat/xmppchat.yml", "Configuration file path.")
	fs.StringVar(&configFile, "c", "/etc/xmppchat/xmppchat.yml", "Configuration file path.")
	fs.Usage = func() {
		_, _ = fmt.Fprintf(a.output, "%s\n", usageStr)
	}
	if err := fs.Parse(a.args[1:]); err != nil {
		return err
	}
	// print usage
	if showUsage {
		fs.Usage()
		return nil
	}
	// print version
	if showVersion {
		a.showVersion()
		return nil
	}
	// load configuration
	var cfg Config
	if err := cfg.FromFile(configFile); err != nil {
		return err
	}
	a.shutdownTm = cfg.ShutdownTimeout

	// create PID file
	if err := a.createPIDFile(cfg.PIDFile); err != nil {
		return err
	}
	// initialize logger
	if err := a.initLogger(&cfg.Logger, a.output); err != nil {
		return err
	}
	log.Infof("%s %v", version.ApplicationName, version.Version)

	a.bus = event.NewBus()
	a.watchEvents()

	a.proto = protocol.NewContext(cfg.Protocol(), a.bus)
	a.proto.Init()

	if _, err := a.proto.AutoConnect(); err != nil {
		_ = a.gracefullyShutdown()
		return err
	}

	// ...wait for stop signal to shutdown
	sig := a.waitForStopSignal()
	log.Infof("received %s signal... shutting down...", sig.String())

	return a.gracefullyShutdown()
}

func (a *Application) showVersion() {
	_, _ = fmt.Fprintf(a.output, "%s version: %v\n", version.ApplicationName, version.Version)
}

func (a *Application) createPIDFile(pidFile string) error {
	if len(pidFile) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(pidFile), os.ModePerm); err != nil {
		return err
	}
	file, err := os.Create(pidFile)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	currentPid := os.Getpid()
	if _, err := file.WriteString(strconv.FormatInt(int64(currentPid), 10)); err != nil {
		return err
	}
	return nil
}

func (a *Application) initLogger(cfg *log.Config, output io.Writer) error {
	var logFiles []io.WriteCloser
	if len(cfg.LogPath) > 0 {
		// create logFile intermediate directories.
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), os.ModePerm); err != nil {
			return err
		}
		f, err := os.OpenFile(cfg.LogPath, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0666)
		if err != nil {
			return err
		}
		logFiles = append(logFiles, f)
	}
	a.logger = log.New(cfg, output, logFiles...)
	log.Set(a.logger)
	return nil
}

// watchEvents logs every event posted to the host.
func (a *Application) watchEvents() {
	ch, unsub := a.bus.Subscribe("", eventBufferSize)
	a.unsubscribe = unsub
	a.eventsDone = make(chan struct{})
	go func() {
		defer close(a.eventsDone)
		for evt := range ch {
			logEvent(evt)
		}
	}()
}

func logEvent(evt event.Event) {
	text := evt.Text
	if len(text) == 0 {
		text = evt.Kind
	}
	if len(evt.ConnID) > 0 {
		text = fmt.Sprintf("[%s] %s", evt.ConnID, text)
	}
	switch evt.Kind {
	case event.ConnectionFailed, event.ConnectionAbandoned, event.RoomJoinFailed, event.MessageError:
		log.Warnf("%s", text)
	default:
		log.Infof("%s", text)
	}
}

func (a *Application) waitForStopSignal() os.Signal {
	signal.Notify(a.waitStopCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	return <-a.waitStopCh
}

func (a *Application) gracefullyShutdown() error {
	// wait until application has been shut down
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTm)
	defer cancel()

	select {
	case err := <-a.shutdown(ctx):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Application) shutdown(ctx context.Context) <-chan error {
	c := make(chan error, 1)
	go func() {
		err := a.proto.Deinit(ctx)
		if a.unsubscribe != nil {
			a.unsubscribe()
			<-a.eventsDone
		}
		log.Unset()
		c <- err
	}()
	return c
}
