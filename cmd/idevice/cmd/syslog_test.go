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
	"strings"
	"testing"
	"time"

	"github.com/blacktop/idevice/internal/colors"
	"github.com/stretchr/testify/assert"
)

func TestColorSyslog(t *testing.T) {
	off := false
	colors.Init(&off)

	line := "Oct 19 10:00:01 iPhone SpringBoard(FrontBoard)[57] <Notice>: hello world"
	out := colorSyslog(line, time.UTC)
	assert.True(t, strings.HasPrefix(out, "19Oct"), out)
	assert.Contains(t, out, "10:00:01 UTC Notice SpringBoard(FrontBoard)[57] hello world")

	other := "not a syslog line"
	assert.Equal(t, other, colorSyslog(other, time.UTC))
}
