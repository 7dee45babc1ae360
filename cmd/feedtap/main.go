// Command feedtap records the Binance bookTicker stream for a set of symbols
// into rotating telemetry CSV files. The output is the same tabular schema
// the engine writes, so recorded sessions feed the same offline tooling.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/ashwalker/pairbot/internal/domain"
	"github.com/ashwalker/pairbot/internal/telemetry"
	"github.com/ashwalker/pairbot/internal/venue/binance"
)

func main() {
	symbols := flag.String("symbols", "BTCUSDT,ETHUSDT", "comma-separated Binance symbols to record")
	wsHost := flag.String("ws", "wss://stream.binance.com:9443", "Binance WebSocket host")
	outDir := flag.String("out", "recordings", "directory for CSV output")
	rotateSize := flag.Int64("rotate-size", 64<<20, "rotate the CSV once it exceeds this many bytes")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ids := make([]domain.InstrumentID, 0)
	for _, sym := range strings.Split(*symbols, ",") {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		ids = append(ids, domain.MakeInstrumentID("binance", strings.ToUpper(sym)))
	}
	if len(ids) == 0 {
		logger.Error("no symbols to record")
		os.Exit(1)
	}

	sink, err := telemetry.NewCSVWriter(telemetry.CSVConfig{
		Dir:          *outDir,
		FilePrefix:   "feedtap",
		MaxFileBytes: *rotateSize,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("open recorder", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer sink.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	venue := binance.New(binance.Config{WsHost: *wsHost, Logger: logger})
	quotes, err := venue.Subscribe(ctx, ids)
	if err != nil {
		logger.Error("subscribe", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("recording started",
		slog.Int("symbols", len(ids)),
		slog.String("dir", *outDir),
	)

	var rows uint64
	for q := range quotes {
		err := sink.Record(ctx, domain.TelemetryEvent{
			Timestamp:  q.Timestamp,
			Kind:       domain.TelemetryQuote,
			Instrument: q.Instrument,
			Price:      q.Mid(),
			Size:       q.BidSize + q.AskSize,
			Detail:     "bid=" + strconv.FormatFloat(q.Bid, 'f', -1, 64) + " ask=" + strconv.FormatFloat(q.Ask, 'f', -1, 64),
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("record failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		rows++
		if rows%100000 == 0 {
			logger.Info("recording progress", slog.Uint64("rows", rows))
		}
	}

	logger.Info("recording stopped", slog.Uint64("rows", rows))
}
