/*
Copyright © 2026 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/idevice/internal/colors"
	"github.com/blacktop/idevice/internal/device"
	"github.com/caarlos0/ctrlc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationP("duration", "d", 0, "Stop after this long (0 watches until interrupted)")
	viper.BindPFlag("watch.duration", watchCmd.Flags().Lookup("duration"))
}

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:           "watch",
	Short:         "Print device attach and detach events",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, _, err := connect()
		if err != nil {
			return err
		}
		defer conn.Close()

		var ctx context.Context
		var cancel context.CancelFunc
		if d := viper.GetDuration("watch.duration"); d > 0 {
			ctx, cancel = context.WithTimeout(context.Background(), d)
		} else {
			ctx, cancel = context.WithCancel(context.Background())
		}
		defer cancel()

		log.WithField("backend", conn.Backend).Info("Watching for devices")

		done := make(chan struct{})
		err = ctrlc.Default.Run(ctx, func() error {
			defer close(done)
			return conn.Watch(ctx, func(ev device.Event) error {
				fmt.Printf("%s %-8s %s\n",
					colors.Faint().Sprint(time.Now().Format("15:04:05")),
					colors.Event(ev.Kind),
					colors.Bold().Sprint(ev.Device))
				return nil
			})
		})
		cancel()
		<-done

		if err != nil {
			if errors.As(err, &ctrlc.ErrorCtrlC{}) {
				log.Warn("Exiting...")
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		return nil
	},
}
