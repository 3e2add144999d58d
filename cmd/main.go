/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/samber/lo"

	"speechway.dev/cmd/admin"
	"speechway.dev/cmd/gateway"
	"speechway.dev/config"
	"speechway.dev/pkg/bootkit"
	"speechway.dev/pkg/metrics"
	"speechway.dev/pkg/speech"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type (
	cmd struct {
		Config string `short:"c" help:"Path to the configuration file. Defaults are used when empty." env:"SPEECHWAY_CONFIG"`
		Debug  bool   `help:"Enable debug logging."`

		Serve   struct{}  `cmd:"" help:"Run the speech gateway and the admin server."`
		Say     cmdSay    `cmd:"" help:"Synthesize text once and write the audio to a file or stdout."`
		Voices  cmdVoices `cmd:"" help:"Manage ElevenLabs voices."`
		Version struct{}  `cmd:"" help:"Show version."`
	}
	cmdSay struct {
		Text    string   `arg:"" help:"Text to synthesize."`
		Model   string   `short:"m" default:"eleven_multilingual_v2" help:"Model, optionally prefixed with a provider such as openai/."`
		Voice   string   `short:"v" required:"" help:"Voice ID or name."`
		Format  string   `short:"f" help:"Response format such as mp3, opus, pcm or a native ElevenLabs output format."`
		Speed   *float64 `help:"Speaking speed."`
		Output  string   `short:"o" default:"-" help:"Output file, - for stdout."`
		APIKey  string   `name:"api-key" help:"Provider API key, overriding environment and configuration."`
		APIBase string   `name:"api-base" help:"Provider base URL, overriding environment and configuration."`
	}
	cmdVoices struct {
		APIKey  string `name:"api-key" help:"ElevenLabs API key, overriding environment and configuration."`
		APIBase string `name:"api-base" help:"ElevenLabs base URL, overriding environment and configuration."`

		List   struct{}     `cmd:"" help:"List voices."`
		Get    cmdVoiceByID `cmd:"" help:"Show one voice."`
		Delete cmdVoiceByID `cmd:"" help:"Delete a voice."`
	}
	cmdVoiceByID struct {
		VoiceID string `arg:"" name:"voice-id" help:"Voice ID."`
	}
)

func main() {
	os.Exit(doMain(os.Stdout, os.Stderr, os.Args[1:]))
}

func setupLogger(stderr io.Writer, debug bool) {
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: lo.Ternary(debug, slog.LevelDebug, slog.LevelInfo),
	})))
}

func doMain(stdout, stderr io.Writer, args []string) int {
	var c cmd

	parser, err := kong.New(&c,
		kong.Name("speechway"),
		kong.Description("OpenAI compatible text-to-speech gateway for ElevenLabs"),
		kong.Writers(stdout, stderr),
	)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating parser: %v\n", err)
		return 1
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		parser.Errorf("%v", err)
		return 2 //nolint:mnd
	}

	if ctx.Command() == "version" {
		fmt.Fprintf(stdout, "speechway: %s\n", version)
		return 0
	}

	cfg, err := config.LoadConfig(c.Config)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	setupLogger(stderr, c.Debug || cfg.Debug)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		return 1
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch ctx.Command() {
	case "serve":
		err = serve(cfg)
	case "say <text>":
		err = say(signalCtx, cfg, c.Say, stdout)
	case "voices list", "voices get <voice-id>", "voices delete <voice-id>":
		err = voices(signalCtx, cfg, ctx.Command(), c.Voices, stdout)
	default:
		panic("unreachable")
	}

	if err != nil {
		slog.Error("Command failed", "command", ctx.Command(), "error", err)
		return 1
	}

	return 0
}

func serve(cfg *config.Config) error {
	m := metrics.New()
	client := speech.New(cfg, speech.WithMetrics(m))

	app := bootkit.New(bootkit.StartTimeout(time.Second * 10)) //nolint:mnd

	app.Add(func(ctx context.Context, lifeCycle bootkit.LifeCycle) error {
		return gateway.StartGateway(ctx, lifeCycle, cfg, client, m)
	})
	app.Add(func(ctx context.Context, lifeCycle bootkit.LifeCycle) error {
		return admin.NewAdminServer(ctx, cfg, client, m, lifeCycle)
	})

	return app.Start()
}

func say(ctx context.Context, cfg *config.Config, c cmdSay, stdout io.Writer) error {
	client := speech.New(cfg)

	audio, err := client.SpeechAsync(ctx, &speech.Request{
		Model:          c.Model,
		Input:          c.Text,
		Voice:          c.Voice,
		Speed:          c.Speed,
		ResponseFormat: lo.EmptyableToPtr(c.Format),
		APIKey:         lo.EmptyableToPtr(c.APIKey),
		APIBase:        lo.EmptyableToPtr(c.APIBase),
	}).Collect()
	if err != nil {
		return err
	}

	if c.Output == "-" {
		_, err = stdout.Write(audio.Bytes())
		return err
	}

	err = os.WriteFile(c.Output, audio.Bytes(), 0o644) //nolint:gosec,mnd
	if err != nil {
		return err
	}

	slog.Info("Audio written", "path", c.Output, "bytes", len(audio.Bytes()), "content_type", audio.ContentType)

	return nil
}

func voices(ctx context.Context, cfg *config.Config, command string, c cmdVoices, stdout io.Writer) error {
	manager, err := speech.New(cfg).Voices(&speech.Request{
		APIKey:  lo.EmptyableToPtr(c.APIKey),
		APIBase: lo.EmptyableToPtr(c.APIBase),
	})
	if err != nil {
		return err
	}

	var raw json.RawMessage

	switch command {
	case "voices list":
		resp, err := manager.ListVoices(ctx)
		if err != nil {
			return err
		}

		raw = resp.Raw
	case "voices get <voice-id>":
		resp, err := manager.GetVoice(ctx, c.Get.VoiceID)
		if err != nil {
			return err
		}

		raw = resp.Raw
	case "voices delete <voice-id>":
		raw, err = manager.DeleteVoice(ctx, c.Delete.VoiceID)
		if err != nil {
			return err
		}
	}

	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")

	var pretty any
	if err := json.Unmarshal(raw, &pretty); err != nil {
		_, err = stdout.Write(raw)
		return err
	}

	return encoder.Encode(pretty)
}
