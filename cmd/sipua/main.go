// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

// Command sipua is console SIP softphone. It can expose HTTP control API
// and publish events to Redis.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/emiago/sipua"
	"github.com/emiago/sipua/httpapi"
	"github.com/emiago/sipua/redisevents"
	"github.com/emiago/sipua/sipengine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

type options struct {
	bind       string
	external   string
	transport  string
	rtpPorts   string
	http       string
	httpSecret string
	redis      string
	channel    string
	license    string
	home       string
	noMenu     bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("sipua", flag.ContinueOnError)
	fs.StringVar(&o.bind, "bind", "127.0.0.1:5060", "SIP bind address host:port")
	fs.StringVar(&o.external, "external", "", "External host used in Contact and SDP")
	fs.StringVar(&o.transport, "transport", "udp", "SIP transport udp, tcp or tls")
	fs.StringVar(&o.rtpPorts, "rtp-ports", "20000-30000", "RTP port range")
	fs.StringVar(&o.http, "http", "", "HTTP API listen address. Disabled when empty")
	fs.StringVar(&o.httpSecret, "http-secret", "", "JWT secret protecting HTTP API")
	fs.StringVar(&o.redis, "redis", "", "Redis address or redis:// URL for event publishing")
	fs.StringVar(&o.channel, "redis-channel", redisevents.DefaultChannel, "Redis channel for events")
	fs.StringVar(&o.license, "license", "", "License key. Trial mode when empty")
	fs.StringVar(&o.home, "home", "", "Home folder")
	fs.BoolVar(&o.noMenu, "no-menu", false, "Run without console menu until signal")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	tr, err := sipua.ParseTransport(o.transport)
	if err != nil {
		return o, err
	}
	o.transport = tr.Network()
	return o, nil
}

func engineConfig(o options) (sipengine.Config, error) {
	conf := sipengine.DefaultConfig()
	host, port, err := net.SplitHostPort(o.bind)
	if err != nil {
		return conf, fmt.Errorf("bad bind address: %w", err)
	}
	conf.BindHost = host
	conf.BindPort, err = strconv.Atoi(port)
	if err != nil {
		return conf, fmt.Errorf("bad bind port: %w", err)
	}
	conf.Transport = o.transport
	conf.ExternalHost = o.external
	conf.MediaHost = host
	if o.external != "" {
		conf.MediaHost = o.external
	}

	if _, err := fmt.Sscanf(o.rtpPorts, "%d-%d", &conf.RTPPortStart, &conf.RTPPortEnd); err != nil {
		return conf, fmt.Errorf("bad rtp port range %q: %w", o.rtpPorts, err)
	}
	if conf.RTPPortStart <= 0 || conf.RTPPortEnd < conf.RTPPortStart {
		return conf, fmt.Errorf("bad rtp port range %q", o.rtpPorts)
	}
	conf.UserAgent = "sipua/" + sipua.Version
	return conf, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(2)
	}
	slogger, level := setupLogging(os.Stdout)

	if err := run(ctx, o, slogger, level); err != nil {
		log.Fatal().Err(err).Msg("Softphone finished with error")
	}
}

func run(ctx context.Context, o options, slogger *slog.Logger, level sipua.LogLevel) error {
	conf, err := engineConfig(o)
	if err != nil {
		return err
	}

	outMu := &sync.Mutex{}
	var obs sipua.Observer = &eventPrinter{out: os.Stdout, mu: outMu}
	if o.redis != "" {
		client := redisevents.NewClient(o.redis)
		defer client.Close()
		obs = redisevents.NewPublisher(client, o.channel,
			redisevents.WithNext(obs),
			redisevents.WithLogger(slogger),
		)
	}

	engine := sipengine.New(conf, sipengine.WithLogger(slogger))
	m := sipua.NewModule(engine,
		sipua.WithLogger(slogger),
		sipua.WithObserver(obs),
		sipua.WithMetrics(prometheus.DefaultRegisterer),
	)

	ini := sipua.DefaultIniConfig()
	ini.License = o.license
	ini.LogLevel = level
	ini.HomeFolder = o.home
	if err := m.Initialize(ctx, ini); err != nil {
		return fmt.Errorf("can't initialize module: %w", err)
	}
	host, port := engine.Addr()
	fmt.Printf("Module successfully initialized.\nVersion: %s\nListening: %s %s:%d\n", m.Version(), conf.Transport, host, port)

	httpErr := make(chan error, 1)
	var srv *httpapi.Server
	if o.http != "" {
		srvOpts := []httpapi.ServerOption{httpapi.WithLogger(slogger)}
		if o.httpSecret != "" {
			secret := []byte(o.httpSecret)
			srvOpts = append(srvOpts, httpapi.WithSecret(secret))
			token, err := httpapi.GenerateToken(secret, "console", 24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Printf("HTTP API token: %s\n", token)
		}
		srv = httpapi.NewServer(m, srvOpts...)
		go func() {
			slogger.Info("HTTP API listening", "addr", o.http)
			httpErr <- srv.Start(o.http)
		}()
	}

	menuDone := make(chan struct{})
	if !o.noMenu {
		go func() {
			defer close(menuDone)
			newConsole(m, os.Stdin, os.Stdout, outMu).run()
		}()
	}

	select {
	case <-ctx.Done():
	case <-menuDone:
	case err = <-httpErr:
		if err != nil {
			err = fmt.Errorf("http api: %w", err)
		}
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	if srv != nil {
		if e := srv.Shutdown(shutCtx); e != nil {
			slogger.Error("HTTP API shutdown failed", "error", e)
		}
	}
	if e := m.Shutdown(shutCtx); e != nil {
		err = errors.Join(err, e)
	}
	return err
}
