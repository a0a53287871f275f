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
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/idevice/internal/colors"
	"github.com/blacktop/idevice/internal/device"
	"github.com/blacktop/idevice/pkg/usb/session"
	"github.com/blacktop/idevice/pkg/usb/syslog"
	"github.com/caarlos0/ctrlc"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(syslogCmd)
	syslogCmd.Flags().DurationP("duration", "d", 0, "Stop after this long (0 streams until interrupted)")
	syslogCmd.Flags().StringP("grep", "g", "", "Only print lines matching this regex")
	viper.BindPFlag("syslog.duration", syslogCmd.Flags().Lookup("duration"))
	viper.BindPFlag("syslog.grep", syslogCmd.Flags().Lookup("grep"))
}

var (
	colorTime       = colors.New(color.Bold, color.FgHiBlue).SprintFunc()
	colorProc       = colors.New(color.Bold, color.FgHiMagenta).SprintFunc()
	colorLib        = colors.New(color.Bold, color.FgHiCyan).SprintFunc()
	colorNotice     = colors.New(color.Bold, color.FgHiGreen).SprintFunc()
	colorError      = colors.New(color.Bold, color.FgHiRed).SprintFunc()
	colorErrorMsg   = colors.New(color.Faint, color.FgHiRed).SprintFunc()
	colorWarning    = colors.New(color.Bold, color.FgHiYellow).SprintFunc()
	colorWarningMsg = colors.New(color.FgYellow).SprintFunc()
	colorDebug      = colors.New(color.Bold, color.FgHiWhite).SprintFunc()
)

var syslogLine = regexp.MustCompile(`(?s)^(?P<date>\w{3}\s+\d{1,2}\s\d{2}:\d{2}:\d{2})\s(?P<device>\S+)\s(?P<proc>[^\[\(\s]+)(\((?P<lib>[^\)]+)\))?\[(?P<pid>\d+)\]\s(?P<type><\w+>:?)\s(?P<msg>.*)$`)

// colorSyslog colors the fields of a relay line. Lines in any other shape
// are returned as is.
func colorSyslog(line string, loc *time.Location) string {
	m := syslogLine.FindStringSubmatch(line)
	if m == nil {
		return line
	}
	level := strings.Trim(m[7], "<>:")
	body := m[8]
	switch level {
	case "Notice":
		level = colorNotice(level)
	case "Error":
		level = colorError(level)
		body = colorErrorMsg(body)
	case "Warning":
		level = colorWarning(level)
		body = colorWarningMsg(body)
	default:
		level = colorDebug(level)
	}
	ts := m[1]
	if t, err := time.ParseInLocation(time.Stamp, m[1], loc); err == nil {
		ts = t.AddDate(time.Now().Year(), 0, 0).Format("02Jan2006 15:04:05 MST")
	}
	var lib string
	if m[5] != "" {
		lib = fmt.Sprintf("(%s)", colorLib(m[5]))
	}
	proc := fmt.Sprintf("%s%s[%s]", colorProc(m[3]), lib, colorDebug(m[6]))
	return colorTime(ts) + " " + level + " " + proc + " " + body
}

// deviceLocation returns the device's time zone, or the local one when the
// backend cannot read it.
func deviceLocation(sess *session.Session) *time.Location {
	v, err := sess.Value("", "TimeZone")
	if err != nil {
		return time.Local
	}
	name, _ := v.(string)
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

// syslogCmd represents the syslog command
var syslogCmd = &cobra.Command{
	Use:           "syslog",
	Short:         "Stream the device syslog",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		duration := viper.GetDuration("syslog.duration")
		var filter *regexp.Regexp
		if pattern := viper.GetString("syslog.grep"); pattern != "" {
			var err error
			if filter, err = regexp.Compile(pattern); err != nil {
				return fmt.Errorf("invalid --grep pattern: %w", err)
			}
		}

		return withSession(func(sess *session.Session, _ device.Device) error {
			loc := deviceLocation(sess)

			relay, err := syslog.Open(sess)
			if err != nil {
				return fmt.Errorf("failed to start syslog relay: %w", err)
			}

			var ctx context.Context
			var cancel context.CancelFunc
			if duration > 0 {
				ctx, cancel = context.WithTimeout(context.Background(), duration)
			} else {
				ctx, cancel = context.WithCancel(context.Background())
			}
			defer cancel()

			done := make(chan struct{})
			err = ctrlc.Default.Run(ctx, func() error {
				defer close(done)
				if filter == nil && !colors.Enabled() {
					return relay.Copy(os.Stdout)
				}
				return relay.Lines(func(line string) error {
					if filter != nil && !filter.MatchString(line) {
						return nil
					}
					if colors.Enabled() {
						line = colorSyslog(line, loc)
					}
					fmt.Println(line)
					return nil
				})
			})
			relay.Close()
			<-done

			if err != nil {
				if errors.As(err, &ctrlc.ErrorCtrlC{}) {
					log.Warn("Exiting...")
					return nil
				}
				if errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				return err
			}
			return nil
		})
	},
}
