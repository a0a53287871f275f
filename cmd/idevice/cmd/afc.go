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

	"github.com/blacktop/idevice/internal/device"
	"github.com/blacktop/idevice/pkg/usb/afc"
	"github.com/blacktop/idevice/pkg/usb/session"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(afcCmd)
}

// afcCmd represents the afc command
var afcCmd = &cobra.Command{
	Use:   "afc",
	Short: "Browse and transfer files on the device media partition",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// withAFC opens an AFC channel on the selected device.
func withAFC(fn func(*afc.Channel) error) error {
	return withSession(func(sess *session.Session, _ device.Device) error {
		ch, err := afc.OpenService(sess, 0)
		if err != nil {
			return fmt.Errorf("failed to connect to afc: %w", err)
		}
		defer ch.Close()
		return fn(ch)
	})
}
