package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/satindergrewal/stemplayer/internal/config"
	"github.com/satindergrewal/stemplayer/internal/transport"
)

const cliHelp = `commands:
  p              play / pause
  r              restart from the top
  s <seconds>    seek
  g <n> <0-100>  set volume of stem n
  l              list stems
  q              quit`

// runCLI loads folder, starts playback and reads commands from in until
// "q", EOF or ctx is done.
func runCLI(ctx context.Context, ctrl *transport.Controller, settings *config.SettingsStore,
	folder string, in io.Reader, out io.Writer) error {
	res, err := ctrl.Load(folder)
	if res != nil {
		for _, s := range res.Skipped {
			fmt.Fprintf(out, "skipped %s: %s\n", s.Path, s.Reason)
		}
	}
	if err != nil {
		return err
	}
	if err := settings.SetLastFolder(folder); err != nil {
		log.Printf("Could not remember folder: %v", err)
	}

	listStems(ctrl, out)
	fmt.Fprintln(out, cliHelp)
	if err := ctrl.Play(); err != nil {
		return err
	}

	bar := newPositionBar(ctrl.TotalDuration())
	defer bar.Finish()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	commands := make(chan string)
	go readCommands(ctx, in, commands)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-commands:
			if !ok {
				// input closed: play to the end, then exit
				commands = nil
				continue
			}
			if handleCommand(ctrl, line, out) {
				return nil
			}
		case <-ticker.C:
			st := ctrl.Status()
			bar.Describe(fmt.Sprintf("%-7s %s / %s", st.State,
				transport.FormatClock(st.Position), transport.FormatClock(st.Duration)))
			bar.Set64(st.Position.Milliseconds())
			if commands == nil && st.State != transport.Playing {
				return nil
			}
		}
	}
}

func newPositionBar(total time.Duration) *progressbar.ProgressBar {
	return progressbar.NewOptions64(max(total.Milliseconds(), 1),
		progressbar.OptionSetDescription("loaded"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetWriter(os.Stderr),
	)
}

func readCommands(ctx context.Context, in io.Reader, commands chan<- string) {
	defer close(commands)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case commands <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

// handleCommand runs one command line and reports whether to quit.
func handleCommand(ctrl *transport.Controller, line string, out io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	var err error
	switch fields[0] {
	case "q", "quit":
		return true
	case "p":
		if ctrl.IsPlaying() {
			err = ctrl.Pause()
		} else {
			err = ctrl.Play()
		}
	case "r":
		err = ctrl.Restart()
	case "s":
		if len(fields) != 2 {
			err = fmt.Errorf("usage: s <seconds>")
			break
		}
		var secs float64
		if secs, err = strconv.ParseFloat(fields[1], 64); err == nil {
			err = ctrl.Seek(transport.Seconds(secs))
		}
	case "g":
		err = setVolume(ctrl, fields[1:])
	case "l":
		listStems(ctrl, out)
	default:
		fmt.Fprintln(out, cliHelp)
	}

	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
	}
	return false
}

func setVolume(ctrl *transport.Controller, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: g <n> <0-100>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("stem number: %w", err)
	}
	volume, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("volume: %w", err)
	}

	stems := ctrl.Stems()
	if n < 1 || n > len(stems) {
		return fmt.Errorf("no stem %d (have %d)", n, len(stems))
	}
	return ctrl.SetGain(stems[n-1].ID, volume/100)
}

func listStems(ctrl *transport.Controller, out io.Writer) {
	for i, s := range ctrl.Stems() {
		fmt.Fprintf(out, "%2d  %-24s %3.0f%%  %s\n", i+1, s.Title, s.Gain*100, transport.FormatClock(s.Duration))
	}
}
