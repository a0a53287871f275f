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

	"github.com/blacktop/idevice/internal/colors"
	"github.com/blacktop/idevice/pkg/usb/afc"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	afcCmd.AddCommand(afcTreeCmd)
	afcTreeCmd.Flags().BoolP("flat", "f", false, "Flat output")
	viper.BindPFlag("afc.tree.flat", afcTreeCmd.Flags().Lookup("flat"))
}

// afcTreeCmd represents the tree command
var afcTreeCmd = &cobra.Command{
	Use:           "tree [PATH]",
	Short:         "List contents of directories in a tree-like format",
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "/"
		if len(args) > 0 {
			root = args[0]
		}
		dirColor := colors.New(color.Bold, color.FgHiBlue).SprintFunc()
		sizeColor := colors.New(color.Bold, color.FgHiMagenta).SprintFunc()

		return withAFC(func(ch *afc.Channel) error {
			if viper.GetBool("afc.tree.flat") {
				return ch.Walk(root, func(p string, info fs.FileInfo, err error) error {
					if err != nil {
						return err
					}
					if info.IsDir() {
						fmt.Println(dirColor(p))
					} else if viper.GetBool("verbose") {
						fmt.Printf("%s (%s)\n", p, sizeColor(humanize.Bytes(uint64(info.Size()))))
					} else {
						fmt.Println(p)
					}
					return nil
				})
			}
			tree, err := ch.Tree(root)
			if err != nil {
				return fmt.Errorf("failed to walk %s: %w", root, err)
			}
			fmt.Print(tree)
			return nil
		})
	},
}
