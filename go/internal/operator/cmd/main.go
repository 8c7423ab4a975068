package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/cuecast/go/clients"
	"github.com/mcdev12/cuecast/go/internal/device"
	"github.com/mcdev12/cuecast/go/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	server := flag.String("server", getEnv("CUE_SERVER_URL", "http://localhost:8080"), "cue server base URL")
	room := flag.String("room", getEnv("OPERATOR_ROOM", models.DefaultRoom), "room to publish to")
	cue := flag.String("cue", "", "cue to publish: normal, chance, pinch or stop")
	watch := flag.Bool("watch", false, "after publishing, poll the room and print every change")
	local := flag.Bool("local", false, "drive a locally paired peripheral instead of the cue server")
	intensity := flag.Int("intensity", 60, "playback strength 0..100 for -local")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Parse()

	client := clients.NewCueClient(*server, *timeout)
	client.SetTimeout(*timeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *cue != "" {
		key := models.CueKey(*cue)
		if !key.Valid() {
			fmt.Fprintf(os.Stderr, "unknown cue %q\n", *cue)
			os.Exit(2)
		}

		if *local {
			if err := sendLocal(ctx, key, *intensity); err != nil {
				log.Fatal().Err(err).Msg("failed to drive local peripheral")
			}
			return
		}

		rec, err := client.Send(ctx, *room, key)
		if err != nil {
			log.Fatal().Err(err).Str("room", *room).Msg("failed to send cue")
		}
		fmt.Printf("%s seq=%d cue=%s at=%s\n", *room, rec.Seq, rec.CueKey, rec.At.Format(time.RFC3339Nano))
	}

	if *cue == "" && !*watch {
		flag.Usage()
		os.Exit(2)
	}

	if *watch {
		watchRoom(ctx, client, *room)
	}
}

func watchRoom(ctx context.Context, client *clients.CueClient, room string) {
	var since int64
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rec, err := client.Poll(ctx, room, since)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("poll failed")
			continue
		}
		if rec == nil {
			continue
		}
		since = rec.Seq
		fmt.Printf("%s seq=%d cue=%s at=%s\n", room, rec.Seq, rec.CueKey, rec.At.Format(time.RFC3339Nano))
	}
}

// sendLocal pairs with the peripheral and writes one command frame.
func sendLocal(ctx context.Context, key models.CueKey, intensity int) error {
	peripheral := device.NewSimPeripheral(device.DefaultDeviceName)
	link := device.NewLink(device.NewSimHost(peripheral), device.DefaultConfig(), nil, nil)

	info, err := link.Connect(ctx)
	if err != nil {
		return err
	}
	defer link.Disconnect()

	if err := link.SendCue(ctx, key, intensity); err != nil {
		return err
	}
	for _, frame := range peripheral.Writes() {
		fmt.Printf("%s <- % x\n", info.DeviceName, frame)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
