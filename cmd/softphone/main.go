/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Command softphone is a console SIP phone talking to a Janus gateway.
//
// Usage:
//
//	softphone -gateway wss://janus.example.com/ws -user alice -secret s3cret -registrar example.com
//
// Every flag can also be set through a SOFTPHONE_* environment variable.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	softphone "github.com/tejzpr/janus-sip-go-sdk"
	"github.com/tejzpr/janus-sip-go-sdk/audio"
	"github.com/tejzpr/janus-sip-go-sdk/calling"
	"github.com/tejzpr/janus-sip-go-sdk/capture"
	"github.com/tejzpr/janus-sip-go-sdk/metrics"
	"github.com/tejzpr/janus-sip-go-sdk/prefs"
	"github.com/tejzpr/janus-sip-go-sdk/registration"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "softphone: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := loadOptions(args, osEnv, os.Stderr)
	if err != nil {
		return err
	}
	log := softphonesdk.NewLogger("main")

	collector := metrics.New(nil)
	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(collector.Gatherer(), promhttp.HandlerOpts{}))
		go func() {
			log.Infof("Serving metrics on %s", opts.MetricsAddr)
			if err := http.ListenAndServe(opts.MetricsAddr, mux); err != nil {
				log.WithError(err).Error("Metrics server stopped")
			}
		}()
	}

	var store prefs.Store = prefs.NewMemoryStore(nil)
	if opts.PrefsPath != "" {
		store = prefs.NewFileStore(opts.PrefsPath)
	}

	outputs := map[string]io.Writer{}
	if opts.AudioOut != "" {
		f, err := os.Create(opts.AudioOut)
		if err != nil {
			return err
		}
		defer f.Close()
		outputs["default"] = f
	}

	phone, err := softphone.New(softphone.Options{
		Config:        opts.config(),
		Capturer:      capture.NewSynthetic(opts.ToneHz),
		AudioPlatform: audio.NewHeadlessPlatform(outputs),
		Preferences:   store,
		Metrics:       collector,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := phone.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := phone.Stop(shutdown); err != nil {
			log.WithError(err).Warn("Shutdown incomplete")
		}
	}()

	phone.Calls().Subscribe(calling.EventIncomingCall, func(data interface{}) {
		call, ok := data.(calling.Call)
		if !ok {
			return
		}
		fmt.Printf("\nIncoming call from %s %s\n", call.DisplayName, call.Peer)
		if opts.AutoAnswer {
			go func() {
				if err := phone.Calls().AcceptCall(ctx, "", false); err != nil {
					log.WithError(err).Warn("Auto answer failed")
				}
			}()
		}
	})
	phone.Calls().Subscribe(calling.EventEnded, func(data interface{}) {
		if call, ok := data.(calling.Call); ok {
			fmt.Printf("\nCall %s ended: %s\n", call.Peer, call.EndReason)
		}
	})
	phone.Audio().Subscribe(audio.EventPlaybackBlocked, func(interface{}) {
		fmt.Println("\nAudio playback blocked, type 'audio' to retry")
	})

	if err := login(ctx, phone, opts); err != nil {
		log.WithError(err).Warn("Registration failed")
	}
	if opts.Dial != "" {
		if err := phone.Calls().Call(ctx, opts.Dial, false); err != nil {
			log.WithError(err).Errorf("Cannot dial %s", opts.Dial)
		}
	}

	if !opts.NoConsole {
		(&console{phone: phone, out: os.Stdout}).loop(ctx)
		return nil
	}
	<-ctx.Done()
	return nil
}

// login registers the flag credentials, falling back to stored ones
func login(ctx context.Context, phone *softphone.Softphone, opts *options) error {
	if opts.Plugin == softphonesdk.PluginEchoTest {
		return nil
	}
	if opts.Username != "" && opts.Registrar != "" {
		return phone.Login(ctx, registration.Credentials{
			Username:    opts.Username,
			Secret:      opts.Secret,
			Registrar:   opts.Registrar,
			DisplayName: opts.DisplayName,
		})
	}
	err := phone.LoginFromPreferences(ctx)
	if errors.Is(err, softphonesdk.ErrNotRegistered) {
		return nil
	}
	return err
}
