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
	"encoding/json"
	"fmt"

	"github.com/blacktop/idevice/internal/colors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolP("json", "j", false, "Display devices as JSON")
	listCmd.Flags().BoolP("details", "d", false, "Show usbmuxd device properties")
	viper.BindPFlag("list.json", listCmd.Flags().Lookup("json"))
	viper.BindPFlag("list.details", listCmd.Flags().Lookup("details"))
}

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:           "list",
	Aliases:       []string{"ls"},
	Short:         "List attached devices",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, _, err := connect()
		if err != nil {
			return err
		}
		defer conn.Close()

		if viper.GetBool("list.details") {
			attached, err := conn.Attachments()
			if err != nil {
				return fmt.Errorf("failed to list device details (use --backend usbmux): %w", err)
			}
			if len(attached) == 0 {
				fmt.Println("No devices attached")
			}
			for _, a := range attached {
				fmt.Println(colors.Bold().Sprint(a.Serial()))
				fmt.Print(a)
			}
			return nil
		}

		devs, err := conn.Devices()
		if err != nil {
			return fmt.Errorf("failed to list devices: %w", err)
		}

		if viper.GetBool("list.json") {
			type jsonDevice struct {
				UDID       string `json:"udid"`
				Connection string `json:"connection,omitempty"`
			}
			out := make([]jsonDevice, 0, len(devs))
			for _, d := range devs {
				out = append(out, jsonDevice{UDID: d.UDID, Connection: d.Connection})
			}
			dat, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(dat))
			return nil
		}

		if len(devs) == 0 {
			fmt.Println("No devices attached")
			return nil
		}
		for _, d := range devs {
			fmt.Printf("%s %s\n", colors.Bold().Sprint(d.UDID), colors.Faint().Sprint(d.Connection))
		}
		return nil
	},
}
