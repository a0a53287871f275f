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
	"fmt"
	"io/fs"

	"github.com/apex/log"
	"github.com/blacktop/idevice/pkg/usb/afc"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	afcCmd.AddCommand(afcPushCmd)
}

// afcPushCmd represents the push command
var afcPushCmd = &cobra.Command{
	Use:           "push <LOCAL> <DEVICE_PATH>",
	Short:         "Copy a local file or directory to the device",
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		src, dst := args[0], args[1]
		return withAFC(func(ch *afc.Channel) error {
			var total uint64
			if err := ch.Push(dst, src, func(dst, src string, info fs.FileInfo) {
				total += uint64(info.Size())
				log.WithFields(log.Fields{
					"size": humanize.Bytes(uint64(info.Size())),
				}).Debugf("Pushed %s -> %s", src, dst)
			}); err != nil {
				return fmt.Errorf("failed to push %s: %w", src, err)
			}
			log.WithField("size", humanize.Bytes(total)).Infof("Pushed %s to %s", src, dst)
			return nil
		})
	},
}
