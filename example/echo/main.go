// Command echo runs a line protocol peer that echoes every command back.
// PING is answered with PONG, and "SEND <type> <n>" reads an n byte payload
// and answers with its size.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Zereker/imsession"
)

func main() {
	listen := flag.String("listen", "127.0.0.1:12345", "address to accept sessions on")
	metricsAddr := flag.String("metrics", "127.0.0.1:9102", "address serving /metrics, empty to disable")
	flag.Parse()

	zl, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer zl.Sync()
	logger := imsession.NewZapLogger(zl)

	reg := prometheus.NewRegistry()
	metrics, err := imsession.NewMetrics(reg)
	if err != nil {
		zl.Fatal("register metrics", zap.Error(err))
	}

	addr, err := net.ResolveTCPAddr("tcp", *listen)
	if err != nil {
		zl.Fatal("resolve listen address", zap.Error(err))
	}

	server, err := imsession.NewServer(addr,
		imsession.ServerLoggerOption(logger),
		imsession.ServerSessionOption(
			imsession.LoggerOption(logger),
			imsession.MetricsOption(metrics),
			imsession.OnUnhandledOption(echo),
		),
	)
	if err != nil {
		zl.Fatal("create server", zap.Error(err))
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				zl.Error("metrics server", zap.Error(err))
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = server.Serve(ctx, imsession.HandlerFunc(register))
	if err != nil && !errors.Is(err, context.Canceled) {
		zl.Error("server error", zap.Error(err))
	}
}

func register(s *imsession.Session) {
	s.RegisterCommandHandler("PING", imsession.CommandHandlerFunc(
		func(s *imsession.Session, f imsession.Frame) error {
			_, err := s.Send("PONG", f.Params)
			return err
		}))

	s.RegisterCommandHandler("SEND", imsession.CommandHandlerFunc(
		func(s *imsession.Session, f imsession.Frame) error {
			args := f.Args()
			if len(args) != 2 {
				_, err := s.Send("ERR", []byte("usage: SEND <type> <length>"))
				return err
			}
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			return s.ExpectPayload(args[0], n)
		}))

	s.RegisterPayloadHandler("text", imsession.PayloadHandlerFunc(
		func(s *imsession.Session, contentType string, payload []byte) error {
			_, err := s.Send("RECV", []byte(contentType+" "+strconv.Itoa(len(payload))))
			return err
		}))
}

func echo(s *imsession.Session, f imsession.Frame) {
	if f.Type == imsession.FramePayload {
		_, _ = s.Send("RECV", []byte(f.ContentType+" "+strconv.Itoa(len(f.Params))))
		return
	}
	_, _ = s.Send(f.Command, f.Params)
}
