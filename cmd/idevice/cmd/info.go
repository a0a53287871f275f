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

	"github.com/blacktop/idevice/internal/device"
	"github.com/blacktop/idevice/pkg/usb/lockdownd"
	"github.com/blacktop/idevice/pkg/usb/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().StringP("domain", "d", "", "Lockdown domain to read")
	infoCmd.Flags().StringP("key", "k", "", "Single lockdown key to read")
	infoCmd.Flags().BoolP("json", "j", false, "Display info as JSON")
	viper.BindPFlag("info.domain", infoCmd.Flags().Lookup("domain"))
	viper.BindPFlag("info.key", infoCmd.Flags().Lookup("key"))
	viper.BindPFlag("info.json", infoCmd.Flags().Lookup("json"))
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:           "info",
	Short:         "Dump lockdown values of a device",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		domain := viper.GetString("info.domain")
		key := viper.GetString("info.key")
		asJSON := viper.GetBool("info.json")

		return withSession(func(sess *session.Session, dev device.Device) error {
			v, err := sess.Value(domain, key)
			if err != nil {
				return fmt.Errorf("failed to read lockdown values: %w", err)
			}
			if key != "" || domain != "" {
				if asJSON {
					dat, err := json.MarshalIndent(v, "", "  ")
					if err != nil {
						return err
					}
					fmt.Println(string(dat))
				} else {
					fmt.Printf("%v\n", v)
				}
				return nil
			}

			m, ok := v.(map[string]any)
			if !ok {
				return fmt.Errorf("unexpected lockdown reply %T", v)
			}
			values := lockdownd.FromMap(m)
			if asJSON {
				dat, err := json.MarshalIndent(values, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(dat))
				return nil
			}
			fmt.Println(values)
			return nil
		})
	},
}
