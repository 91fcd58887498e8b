// Command soapnote turns one recording or transcript file into a SOAP chart.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/jun/soapnote/internal/app"
	"github.com/jun/soapnote/internal/audio"
	"github.com/jun/soapnote/internal/auth"
	"github.com/jun/soapnote/internal/config"
	"github.com/jun/soapnote/internal/pipeline"
)

func main() {
	in := flag.String("in", "", "audio, video or text file to chart")
	notes := flag.String("notes", "", "additional notes appended to the transcript")
	archive := flag.Bool("archive", false, "save the chart to Google Drive (requires a saved sign-in)")
	flag.Parse()

	if *in == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	application, err := app.NewApp(ctx, cfg, logger, nil)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		logger.Fatal("Failed to read input", zap.Error(err))
	}
	if *archive && application.Auth.State() != auth.StateSignedIn {
		fmt.Fprintln(os.Stderr, "Google 계정 인증이 필요합니다. 서버에서 먼저 로그인해주세요.")
		os.Exit(1)
	}

	blob := audio.Blob{Data: data, Name: filepath.Base(*in), MIMEType: mime.TypeByExtension(filepath.Ext(*in))}
	input, err := pipeline.FromFile(blob, *notes, time.Now(), *archive)
	if err != nil {
		fmt.Fprintln(os.Stderr, pipeline.UserMessage(err))
		os.Exit(1)
	}

	application.Pipeline.Subscribe(func(ev pipeline.Event) {
		if ev.Message != "" {
			fmt.Fprintln(os.Stderr, ev.Message)
		}
	})

	res, err := application.Pipeline.Run(ctx, input)
	if res != nil {
		for _, w := range res.Warnings {
			fmt.Fprintln(os.Stderr, pipeline.UserMessage(w))
		}
		if res.Chart != "" {
			fmt.Println(res.Chart)
		}
		if res.File != nil {
			fmt.Fprintf(os.Stderr, "saved %s (%s)\n", res.File.Name, res.File.ID)
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, pipeline.UserMessage(err))
		os.Exit(1)
	}
}
