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
	"github.com/blacktop/idevice/pkg/usb/notification"
	"github.com/blacktop/idevice/pkg/usb/session"
	"github.com/caarlos0/ctrlc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.Flags().StringSliceP("name", "n", nil, "Notification to observe (repeatable)")
	notifyCmd.Flags().BoolP("all", "a", false, "Observe all known notifications")
	notifyCmd.Flags().StringP("post", "p", "", "Post a notification and exit")
	viper.BindPFlag("notify.name", notifyCmd.Flags().Lookup("name"))
	viper.BindPFlag("notify.all", notifyCmd.Flags().Lookup("all"))
	viper.BindPFlag("notify.post", notifyCmd.Flags().Lookup("post"))
}

// notifyCmd represents the notify command
var notifyCmd = &cobra.Command{
	Use:           "notify",
	Short:         "Observe or post device notifications",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		names := viper.GetStringSlice("notify.name")
		if viper.GetBool("notify.all") {
			names = notification.Known
		}
		post := viper.GetString("notify.post")
		if post == "" && len(names) == 0 {
			return fmt.Errorf("must supply --name, --all or --post")
		}

		return withSession(func(sess *session.Session, _ device.Device) error {
			p, err := notification.OpenProxy(sess)
			if err != nil {
				return fmt.Errorf("failed to connect to notification service: %w", err)
			}

			if post != "" {
				if err := p.Post(post); err != nil {
					p.Release()
					return fmt.Errorf("failed to post %s: %w", post, err)
				}
				log.WithField("name", post).Info("Posted")
				return p.Close()
			}

			if err := p.Observe(names...); err != nil {
				p.Release()
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			done := make(chan struct{})
			err = ctrlc.Default.Run(ctx, func() error {
				defer close(done)
				for {
					name, err := p.Next()
					if err != nil {
						return err
					}
					fmt.Printf("%s %s\n",
						colors.Faint().Sprint(time.Now().Format("15:04:05")),
						colors.BoldHiCyan().Sprint(name))
				}
			})
			if errors.As(err, &ctrlc.ErrorCtrlC{}) {
				log.Warn("Exiting...")
				// the reader sees ProxyDeath and returns
				if err := p.Shutdown(); err != nil {
					p.Release()
				}
				<-done
				err = nil
			}
			if errors.Is(err, notification.ErrProxyDeath) {
				err = nil
			}
			return errors.Join(err, p.Release())
		})
	},
}
