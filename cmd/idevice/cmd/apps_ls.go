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
	"os"
	"text/tabwriter"

	"github.com/blacktop/idevice/internal/colors"
	"github.com/blacktop/idevice/internal/device"
	"github.com/blacktop/idevice/pkg/usb/installation"
	"github.com/blacktop/idevice/pkg/usb/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	appsCmd.AddCommand(appsLsCmd)
	appsLsCmd.Flags().BoolP("system", "s", false, "List system apps")
	appsLsCmd.Flags().BoolP("user", "r", false, "List user apps")
	appsLsCmd.Flags().BoolP("json", "j", false, "Display apps as JSON")
	viper.BindPFlag("apps.ls.system", appsLsCmd.Flags().Lookup("system"))
	viper.BindPFlag("apps.ls.user", appsLsCmd.Flags().Lookup("user"))
	viper.BindPFlag("apps.ls.json", appsLsCmd.Flags().Lookup("json"))
}

// appsLsCmd represents the ls command
var appsLsCmd = &cobra.Command{
	Use:           "ls",
	Short:         "List installed applications",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		system := viper.GetBool("apps.ls.system")
		user := viper.GetBool("apps.ls.user")
		asJSON := viper.GetBool("apps.ls.json")

		return withSession(func(sess *session.Session, _ device.Device) error {
			apps, err := installation.Applications(sess)
			if err != nil {
				return fmt.Errorf("failed to get installed apps: %w", err)
			}

			var filtered []installation.AppInfo
			for _, a := range apps {
				switch {
				case system && a.ApplicationType == "System",
					user && a.ApplicationType == "User",
					!system && !user:
					filtered = append(filtered, a)
				}
			}
			if len(filtered) == 0 {
				return fmt.Errorf("no apps found")
			}

			if asJSON {
				dat, err := json.Marshal(filtered)
				if err != nil {
					return fmt.Errorf("failed to marshal apps to JSON: %w", err)
				}
				fmt.Println(string(dat))
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', 0)
			for _, a := range filtered {
				fmt.Fprintf(w, "%s\t%s\t%s\n",
					colors.Bold().Sprint(a.CFBundleIdentifier),
					a.Name(),
					colors.Faint().Sprint(a.CFBundleShortVersionString))
			}
			return w.Flush()
		})
	},
}
