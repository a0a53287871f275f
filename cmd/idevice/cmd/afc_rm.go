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

	"github.com/apex/log"
	"github.com/blacktop/idevice/pkg/usb/afc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	afcCmd.AddCommand(afcRmCmd)
	afcRmCmd.Flags().BoolP("recursive", "r", false, "Remove directories and their contents")
	viper.BindPFlag("afc.rm.recursive", afcRmCmd.Flags().Lookup("recursive"))
}

// afcRmCmd represents the rm command
var afcRmCmd = &cobra.Command{
	Use:           "rm <PATH>",
	Short:         "Remove a file or directory",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAFC(func(ch *afc.Channel) error {
			rm := ch.Remove
			if viper.GetBool("afc.rm.recursive") {
				rm = ch.RemoveAll
			}
			if err := rm(args[0]); err != nil {
				return fmt.Errorf("failed to remove %s: %w", args[0], err)
			}
			log.WithField("path", args[0]).Info("Removed")
			return nil
		})
	},
}
