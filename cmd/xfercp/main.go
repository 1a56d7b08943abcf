// xfercp is a command-line front end over the xfer package: it drives one
// rate-limited, optionally-pausing transfer between two file:// URLs and
// prints progress as either plain text or JSON lines.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/aistream/xfer"
	"github.com/aistream/xfer/xerr"
	"github.com/aistream/xfer/xlog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type progressLine struct {
	State      string `json:"state"`
	Offset     uint64 `json:"offset"`
	Size       int64  `json:"size"`
	SavedTotal uint64 `json:"saved_total"`
	Rate       uint64 `json:"rate_bps"`
}

func main() {
	app := cli.NewApp()
	app.Name = "xfercp"
	app.Usage = "copy bytes between two file:// streams under a rate limit"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "src", Usage: "source file:// URL", Required: true},
		cli.StringFlag{Name: "dst", Usage: "destination file:// URL", Required: true},
		cli.Uint64Flag{Name: "rate-limit", Usage: "bytes/sec ceiling, 0 = unlimited"},
		cli.Uint64Flag{Name: "start-offset", Usage: "byte offset to resume the source from"},
		cli.DurationFlag{Name: "pause-after", Usage: "pause once this much wall-clock time has elapsed"},
		cli.DurationFlag{Name: "pause-for", Value: time.Second, Usage: "duration to stay paused when --pause-after fires"},
		cli.BoolFlag{Name: "json", Usage: "emit newline-delimited JSON progress instead of text"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		xlog.Errorf("xfercp: %v", err)
		xlog.Flush()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	xlog.Flush()
}

func run(c *cli.Context) error {
	tr, err := xfer.FromURLToURL(c.String("src"), c.String("dst"), c.Uint64("start-offset"))
	if err != nil {
		return errors.Wrap(err, "xfercp: construct transfer")
	}
	tr.Limit(c.Uint64("rate-limit"))

	emit := textEmitter
	if c.Bool("json") {
		emit = jsonEmitter
	}

	openErr := make(chan error, 1)
	if err := tr.OpenSync(func(state xerr.State, offset uint64, size int64, priv any) bool {
		if state != xerr.OK {
			openErr <- fmt.Errorf("open failed: %s", state)
		} else {
			openErr <- nil
		}
		return true
	}); err != nil {
		return err
	}
	if err := <-openErr; err != nil {
		return err
	}

	if pauseAfter := c.Duration("pause-after"); pauseAfter > 0 {
		go func() {
			time.Sleep(pauseAfter)
			tr.Pause()
			time.Sleep(c.Duration("pause-for"))
			_ = tr.Resume()
		}()
	}

	done := make(chan xerr.State, 1)
	saveErr := tr.SaveSync(func(state xerr.State, offset uint64, size int64, saved, rate uint64, priv any) bool {
		emit(progressLine{State: state.String(), Offset: offset, Size: size, SavedTotal: saved, Rate: rate})
		if state.Terminal() {
			done <- state
		}
		return true
	})
	if saveErr != nil {
		return errors.Wrap(saveErr, "xfercp: save")
	}

	final := <-done
	if err := tr.Exit(true); err != nil {
		return errors.Wrap(err, "xfercp: exit")
	}
	if final != xerr.CLOSED {
		return fmt.Errorf("transfer ended in state %s", final)
	}
	return nil
}

func textEmitter(p progressLine) {
	fmt.Printf("%-8s offset=%d size=%d saved=%d rate=%d B/s\n", p.State, p.Offset, p.Size, p.SavedTotal, p.Rate)
}

func jsonEmitter(p progressLine) {
	b, err := json.Marshal(p)
	if err != nil {
		xlog.Warningf("xfercp: marshal progress: %v", err)
		return
	}
	fmt.Println(string(b))
}
