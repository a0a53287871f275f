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

	"github.com/apex/log"
	"github.com/blacktop/idevice/internal/config"
	"github.com/blacktop/idevice/internal/device"
	"github.com/blacktop/idevice/pkg/usb"
	"github.com/blacktop/idevice/pkg/usb/forward"
	"github.com/caarlos0/ctrlc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(proxyCmd)
	proxyCmd.Flags().IntP("lport", "l", 0, "host port")
	proxyCmd.Flags().IntP("rport", "r", 0, "device port")
	proxyCmd.MarkFlagRequired("lport")
	proxyCmd.MarkFlagRequired("rport")
	viper.BindPFlag("proxy.lport", proxyCmd.Flags().Lookup("lport"))
	viper.BindPFlag("proxy.rport", proxyCmd.Flags().Lookup("rport"))
}

// proxyCmd represents the proxy command
var proxyCmd = &cobra.Command{
	Use:           "proxy",
	Short:         "Create a TCP proxy to a device port (for ssh/debugging)",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		lport := viper.GetInt("proxy.lport")
		rport := viper.GetInt("proxy.rport")

		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if conf.Usbmuxd != "" {
			usb.SocketPath = conf.Usbmuxd
		}
		// device ports are only reachable through usbmuxd
		conn := device.NewUsbmux(nil, conf.Timeout)
		defer conn.Close()

		dev, err := conn.Pick(conf.UDID)
		if err != nil {
			return fmt.Errorf("failed to pick USB connected devices: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		log.WithFields(log.Fields{
			"device": dev.UDID,
			"lport":  lport,
			"rport":  rport,
		}).Info("Connecting proxy to device")

		if err := ctrlc.Default.Run(ctx, func() error {
			return forward.Listen(ctx, fmt.Sprintf("127.0.0.1:%d", lport), usb.NewConn, int(dev.Ref), rport,
				func(msg string, err error) {
					if err != nil {
						log.WithError(err).Error("Proxy")
						return
					}
					log.Debug(msg)
				})
		}); err != nil {
			if errors.As(err, &ctrlc.ErrorCtrlC{}) {
				log.Warn("Exiting...")
				return nil
			}
			return err
		}
		return nil
	},
}
