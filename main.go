package main

import (
	"bufio"
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"relay/config"
	"relay/protocol"
	"relay/server"
	"relay/session"
	"relay/storage"
)

func main() {
	configPath := flag.String("config", "relay.toml", "path to the TOML config file")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	store, err := openStorage(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	registry := session.NewRegistry(store, time.Duration(cfg.SessionTTL)*time.Second, log)

	srv := server.New(store, registry, protocol.New(cfg.Codec), &server.Config{
		Addr:         cfg.Addr,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(srv.Start)
	group.Go(func() error {
		return registry.RunSweeper(ctx, time.Duration(cfg.SweepInterval)*time.Second)
	})
	group.Go(func() error {
		return runControlSocket(ctx, cfg.ControlSocket, srv, log)
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		srv.Close()
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func openStorage(cfg *config.Config) (storage.Storage, error) {
	if cfg.Storage == "memory" {
		return storage.NewMemory(), nil
	}
	return storage.NewSQLite(cfg.DBPath)
}

// runControlSocket serves management commands on a unix socket: "stats"
// reports connection and session counts, "shutdown" stops the process.
func runControlSocket(ctx context.Context, path string, srv *server.Server, log zerolog.Logger) error {
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("control socket unavailable")
		return nil
	}
	defer listener.Close()
	defer os.Remove(path)

	log.Info().Str("path", path).Msg("control socket listening")

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		go handleControlCommand(conn, srv)
	}
}

func handleControlCommand(conn net.Conn, srv *server.Server) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}

	switch strings.TrimSpace(line) {
	case "stats":
		conn.Write([]byte("OK|" + srv.Stats() + "\n"))
	case "shutdown":
		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()
		syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
