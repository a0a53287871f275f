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
	"github.com/blacktop/idevice/pkg/usb/installation"
	"github.com/blacktop/idevice/pkg/usb/session"
	"github.com/spf13/cobra"
)

func init() {
	appsCmd.AddCommand(appsUninstallCmd)
}

// appsUninstallCmd represents the uninstall command
var appsUninstallCmd = &cobra.Command{
	Use:           "uninstall <BUNDLE_ID>",
	Short:         "Uninstall an application",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(sess *session.Session, _ device.Device) error {
			progress, wait := progressBar("Uninstalling")
			err := installation.UninstallApplication(sess, args[0], progress)
			wait()
			if err != nil {
				return fmt.Errorf("failed to uninstall %s: %w", args[0], err)
			}
			return nil
		})
	},
}
