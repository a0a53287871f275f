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
	"os"
	"path"
	"text/tabwriter"

	"github.com/blacktop/idevice/internal/colors"
	"github.com/blacktop/idevice/pkg/usb/afc"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	afcCmd.AddCommand(afcLsCmd)
	afcLsCmd.Flags().BoolP("long", "l", false, "Show sizes and modification times")
	viper.BindPFlag("afc.ls.long", afcLsCmd.Flags().Lookup("long"))
}

// afcLsCmd represents the ls command
var afcLsCmd = &cobra.Command{
	Use:           "ls [PATH]",
	Short:         "List a directory",
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "/"
		if len(args) > 0 {
			dir = args[0]
		}
		long := viper.GetBool("afc.ls.long")
		dirColor := colors.New(color.Bold, color.FgHiBlue).SprintFunc()

		return withAFC(func(ch *afc.Channel) error {
			names, err := ch.ReadDir(dir)
			if err != nil {
				return fmt.Errorf("failed to list %s: %w", dir, err)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()
			for _, name := range names {
				info, err := ch.Stat(path.Join(dir, name))
				if err != nil {
					fmt.Fprintf(w, "%s\t?\n", name)
					continue
				}
				display := name
				if info.IsDir() {
					display = dirColor(name + "/")
				}
				if !long {
					fmt.Fprintln(w, display)
					continue
				}
				var mod string
				if !info.ModTime().IsZero() {
					mod = humanize.Time(info.ModTime())
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", humanize.Bytes(uint64(info.Size())), mod, display)
			}
			return nil
		})
	},
}
