/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	softphone "github.com/tejzpr/janus-sip-go-sdk"
	"github.com/tejzpr/janus-sip-go-sdk/calling"
	"github.com/tejzpr/janus-sip-go-sdk/interaction"
	"github.com/tejzpr/janus-sip-go-sdk/registration"
)

var suggestions = []prompt.Suggest{
	{Text: "register", Description: "register <user> <secret> <registrar> [display name]"},
	{Text: "unregister", Description: "Drop the SIP registration"},
	{Text: "call", Description: "call <destination> [video]"},
	{Text: "accept", Description: "Answer the incoming call"},
	{Text: "decline", Description: "decline [code]"},
	{Text: "hangup", Description: "End the current call"},
	{Text: "mute", Description: "Toggle the microphone"},
	{Text: "dtmf", Description: "dtmf <digits>"},
	{Text: "audio", Description: "Retry audio playback"},
	{Text: "output", Description: "output <device id>"},
	{Text: "health", Description: "Check remote audio flow"},
	{Text: "status", Description: "Show connection, registration and call state"},
	{Text: "exit", Description: "Exit"},
}

func completer(d prompt.Document) []prompt.Suggest {
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}

// console runs one command line at a time against a softphone
type console struct {
	phone *softphone.Softphone
	out   io.Writer
}

// exec runs line and reports whether the console should exit. Every command
// counts as a user gesture, which unlocks audio playback.
func (c *console) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	c.phone.Interaction().Record(interaction.KeyDown)

	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "register", "reg":
		if len(args) < 3 {
			c.printf("Usage: register <user> <secret> <registrar> [display name]\n")
			return false
		}
		creds := registration.Credentials{
			Username:    args[0],
			Secret:      args[1],
			Registrar:   args[2],
			DisplayName: strings.Join(args[3:], " "),
		}
		c.report(c.phone.Login(ctx, creds), "Registered")
	case "unregister":
		c.report(c.phone.Logout(ctx), "Unregistered")
	case "call", "dial":
		if len(args) == 0 {
			c.printf("Usage: call <destination> [video]\n")
			return false
		}
		video := len(args) > 1 && args[1] == "video"
		c.report(c.phone.Calls().Call(ctx, args[0], video), "Calling "+args[0])
	case "accept", "answer":
		c.report(c.phone.Calls().AcceptCall(ctx, "", false), "Answered")
	case "decline":
		code := calling.CodeDecline
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				c.printf("Invalid code %q\n", args[0])
				return false
			}
			code = n
		}
		c.report(c.phone.Calls().Decline(ctx, code), "Declined")
	case "hangup", "bye":
		c.report(c.phone.Calls().Hangup(ctx), "Hung up")
	case "mute":
		if c.phone.ToggleMute() {
			c.printf("Muted\n")
		} else {
			c.printf("Unmuted\n")
		}
	case "dtmf":
		if len(args) == 0 {
			c.printf("Usage: dtmf <digits>\n")
			return false
		}
		for _, d := range args[0] {
			if err := c.phone.Calls().SendDtmf(ctx, string(d)); err != nil {
				c.printf("Error: %v\n", err)
				return false
			}
		}
		c.printf("Sent %s\n", args[0])
	case "audio":
		if c.phone.Audio().ForcePlayback(ctx) {
			c.printf("Audio playing\n")
		} else {
			c.printf("Audio still blocked\n")
		}
	case "output":
		if len(args) == 0 {
			c.printf("Output: %q\n", c.phone.Audio().OutputDevice())
			return false
		}
		c.report(c.phone.SetAudioOutput(ctx, args[0]), "Output set to "+args[0])
	case "health":
		c.printf("Audio: %s\n", c.phone.Audio().CheckHealth(ctx))
	case "status", "st":
		c.status()
	case "exit", "quit":
		return true
	default:
		c.printf("Unknown command %q\n", cmd)
	}
	return false
}

func (c *console) status() {
	snap := c.phone.State().Snapshot()
	c.printf("Connection:   %s\n", snap.Connection)
	c.printf("Registration: %s %s\n", snap.Registration, snap.Identity)
	c.printf("Call:         %s", snap.Call)
	if call, ok := c.phone.Calls().Current(); ok {
		c.printf(" %s %s (%s)", call.Direction, call.Peer, call.Duration().Round(time.Second))
		if call.Muted {
			c.printf(" muted")
		}
	}
	c.printf("\n")
	c.printf("Audio:        %s\n", snap.Audio)
	if snap.LastError != "" {
		c.printf("Last error:   %s\n", snap.LastError)
	}
}

func (c *console) report(err error, ok string) {
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	c.printf("%s\n", ok)
}

func (c *console) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}

// loop reads commands until exit
func (c *console) loop(ctx context.Context) {
	fmt.Fprintln(c.out, "Please select command.")
	for {
		line := prompt.Input("softphone> ", completer,
			prompt.OptionTitle("janus-sip softphone"),
			prompt.OptionHistory([]string{"status", "call", "hangup"}),
			prompt.OptionPrefixTextColor(prompt.Yellow),
			prompt.OptionPreviewSuggestionTextColor(prompt.Blue),
			prompt.OptionSelectedSuggestionBGColor(prompt.LightGray),
			prompt.OptionSuggestionBGColor(prompt.DarkGray))
		if c.exec(ctx, line) {
			return
		}
	}
}
