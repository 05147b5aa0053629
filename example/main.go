package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Gurux/gxcommon-go"
	"github.com/Gurux/gxpressure-go"
	"github.com/Gurux/gxserial-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
)

var (
	port         = flag.String("S", "", "Serial port name")
	baudRate     = flag.Int("b", 9600, "Baud rate")
	dataBits     = flag.Int("d", 8, "DataBits (5, 6, 7, 8)")
	parity       = flag.String("p", "None", "Parity (None, Odd, Even, Mark, Space)")
	host         = flag.String("tcp", "", "GPIB-LAN gateway address, host:port")
	simulate     = flag.Bool("simulate", false, "Use the built-in instrument simulator")
	model        = flag.String("m", "generic", "Instrument model")
	grammarFile  = flag.String("g", "", "Grammar file (.yaml, .yml or .toml)")
	channel      = flag.Int("c", 1, "Channel")
	unit         = flag.String("u", "", "Set channel unit")
	setpoint     = flag.Float64("sp", 0, "Set channel setpoint in the unit given with -u")
	interval     = flag.Duration("i", time.Second, "Poll interval")
	count        = flag.Int("n", 1, "Number of readings. 0 polls until interrupted")
	t            = flag.String("t", "", "Trace level.")
	w            = flag.Int("w", 1000, "WaitTime in milliseconds.")
	retries      = flag.Int("r", 2, "Max retries")
	verify       = flag.Bool("verify", false, "Read the error queue after unacknowledged writes")
	lang         = flag.String("lang", "", "Used language.")
	metricsAddr  = flag.String("metrics", "", "Serve Prometheus metrics on this address")
	redisAddr    = flag.String("redis", "", "Publish readings to Redis at this address")
	redisPass    = flag.String("redis-password", "", "Redis password")
	redisChannel = flag.String("redis-channel", "pressure", "Redis channel")
)

func main() {
	flag.Parse()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("app", "gxpressure").Logger()
	if err := run(log); err != nil {
		log.Error().Err(err).Msg("exit")
		os.Exit(1)
	}
}

func grammar() (*gxpressure.Grammar, error) {
	if *grammarFile != "" {
		g, err := gxpressure.LoadGrammar(*grammarFile)
		if err != nil {
			return nil, err
		}
		return g, gxpressure.RegisterGrammar(g)
	}
	return gxpressure.LookupGrammar(*model)
}

func transport(g *gxpressure.Grammar) (gxpressure.Transport, error) {
	switch {
	case *simulate:
		return gxpressure.NewGXSimulator(g), nil
	case *host != "":
		conn, err := net.DialTimeout("tcp", *host, 5*time.Second)
		if err != nil {
			return nil, err
		}
		return gxpressure.NewStreamTransport(conn), nil
	case *port != "":
		p, err := gxcommon.ParityParse(*parity)
		if err != nil {
			return nil, fmt.Errorf("error parsing parity: %w", err)
		}
		media := gxserial.NewGXSerial(*port, gxcommon.BaudRate(*baudRate), *dataBits, gxcommon.StopBitsOne, p)
		if err = media.Validate(); err != nil {
			return nil, err
		}
		tr, err := gxpressure.NewMediaTransport(media)
		if err != nil {
			if names, e := gxserial.GetPortNames(); e == nil {
				return nil, fmt.Errorf("%w. Available serial ports: %s", err, strings.Join(names, ","))
			}
			return nil, err
		}
		return tr, nil
	}
	return nil, errors.New("use -S, -tcp or -simulate")
}

// checkFlags validates flag combinations before anything is opened.
func checkFlags() error {
	if isFlagSet("sp") && *unit == "" {
		return errors.New("-sp needs the setpoint unit given with -u")
	}
	return nil
}

func run(log zerolog.Logger) error {
	if err := checkFlags(); err != nil {
		return err
	}
	g, err := grammar()
	if err != nil {
		return err
	}
	tr, err := transport(g)
	if err != nil {
		return err
	}
	opts := []gxpressure.Option{
		gxpressure.WithTimeout(time.Duration(*w) * time.Millisecond),
		gxpressure.WithMaxRetries(*retries),
		gxpressure.WithVerifyWrites(*verify),
	}
	if *t != "" {
		tl, err := gxcommon.TraceLevelParse(*t)
		if err != nil {
			tr.Close()
			return err
		}
		opts = append(opts, gxpressure.WithTrace(tl))
	}
	s, err := gxpressure.Connect(tr, g, opts...)
	if err != nil {
		tr.Close()
		return err
	}
	//Close the connection.
	defer func() {
		if err := s.Close(); err != nil {
			log.Error().Err(err).Msg("close failed")
		}
	}()
	if *lang != "" {
		tag, err := language.Parse(*lang)
		if err != nil {
			return fmt.Errorf("error parsing language: %w", err)
		}
		s.Localize(tag)
	}
	s.SetOnTrace(func(_ *gxpressure.Session, e gxcommon.TraceEventArgs) {
		log.Debug().Str("model", g.Model).Msg(e.String())
	})
	s.SetOnStateChange(func(_ *gxpressure.Session, state gxpressure.SessionState) {
		log.Debug().Stringer("state", state).Msg("session state")
	})
	s.SetOnError(func(_ *gxpressure.Session, err error) {
		ev := log.Warn().Err(err)
		for _, f := range gxpressure.Faults(err) {
			ev = ev.Int("code", f.Code).Str("fault", f.Message)
		}
		ev.Msg("request failed")
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(gxpressure.NewCollector(s, prometheus.Labels{"channel": fmt.Sprint(*channel)}))
		srv := &http.Server{Addr: *metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server")
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	var pub *publisher
	if *redisAddr != "" {
		if pub, err = newPublisher(ctx, *redisAddr, *redisPass, *redisChannel); err != nil {
			return err
		}
		defer pub.Close()
	}

	id, err := s.Ping()
	if err != nil {
		return err
	}
	log.Info().Str("manufacturer", id.Manufacturer).Str("model", id.Model).
		Str("serial", id.Serial).Str("firmware", id.Firmware).Msg("connected")

	ch := gxpressure.Channel(*channel)
	if *unit != "" {
		u, err := gxpressure.ParsePressureUnit(*unit)
		if err != nil {
			return err
		}
		if _, err = s.Execute(gxpressure.SetUnit{Channel: ch, Unit: u}); err != nil {
			return err
		}
		if isFlagSet("sp") {
			if _, err = s.Execute(gxpressure.SetSetpoint{Channel: ch, Value: *setpoint, Unit: u}); err != nil {
				return err
			}
		}
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for i := 0; *count == 0 || i < *count; i++ {
		if err := poll(ctx, log, s, ch, pub); err != nil {
			if !errors.Is(err, gxpressure.ErrInstrumentFault) {
				return err
			}
		}
		if *count != 0 && i+1 == *count {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func poll(ctx context.Context, log zerolog.Logger, s *gxpressure.Session, ch gxpressure.Channel, pub *publisher) error {
	resp, err := s.Execute(gxpressure.ReadPressure{Channel: ch})
	if err != nil {
		return err
	}
	r := resp.(gxpressure.PressureReading)
	stable := false
	if resp, err := s.Execute(gxpressure.QueryStable{Channel: ch}); err == nil {
		stable = resp.(gxpressure.StabilityReading).Stable
	} else if !errors.Is(err, gxpressure.ErrUnsupported) {
		return err
	}
	log.Info().Int("channel", int(ch)).Float64("value", r.Value).
		Stringer("unit", r.Unit).Bool("stable", stable).Msg("pressure")
	if pub != nil {
		if err := pub.Publish(ctx, s.Grammar().Model, r, stable); err != nil {
			log.Warn().Err(err).Msg("publish failed")
		}
	}
	return nil
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
