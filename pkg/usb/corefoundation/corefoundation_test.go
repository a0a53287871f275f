package corefoundation_test

import (
	"testing"
	"time"

	cf "github.com/blacktop/idevice/pkg/usb/corefoundation"
	"github.com/blacktop/idevice/pkg/usb/corefoundation/cftest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoString(t *testing.T) {
	for _, fast := range []bool{false, true} {
		fake := cftest.New()
		fake.FastPath = fast
		c := fake.CoreFoundation()

		for _, in := range []string{"", "com.apple.afc", "héllo wörld ✓", "日本語のテキスト"} {
			s := c.CreateString(in)
			got, ok := c.GoString(s)
			require.True(t, ok)
			assert.Equal(t, in, got)
			c.Release(s)
		}
		assert.Zero(t, fake.Live())
	}
}

func TestGoString_Null(t *testing.T) {
	c := cftest.New().CoreFoundation()
	_, ok := c.GoString(0)
	assert.False(t, ok)
}

func TestStringLength(t *testing.T) {
	c := cftest.New().CoreFoundation()
	s := c.CreateString("a✓😀")
	defer c.Release(s)
	assert.Equal(t, 4, c.StringLength(s))
}

func TestCreateDictionary(t *testing.T) {
	fake := cftest.New()
	c := fake.CoreFoundation()

	d, err := c.CreateDictionary(map[string]any{
		"PackageType": "Developer",
		"Options": map[string]any{
			"CFBundleIdentifier": "io.blacktop.app",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"PackageType": "Developer",
		"Options": map[string]any{
			"CFBundleIdentifier": "io.blacktop.app",
		},
	}, c.ToGo(d))

	v := c.DictionaryGetValue(d, "PackageType")
	got, ok := c.GoString(v)
	require.True(t, ok)
	assert.Equal(t, "Developer", got)
	assert.Zero(t, c.DictionaryGetValue(d, "Missing"))

	c.Release(d)
	assert.Zero(t, fake.Live(), "dictionary and its temporaries must all be freed")
}

func TestCreateDictionary_UnsupportedValue(t *testing.T) {
	fake := cftest.New()
	c := fake.CoreFoundation()
	_, err := c.CreateDictionary(map[string]any{"a": "ok", "b": 3.14})
	assert.Error(t, err)
	assert.Zero(t, fake.Live())
}

func TestToGo(t *testing.T) {
	fake := cftest.New()
	c := fake.CoreFoundation()

	n := fake.Number(-42)
	b := fake.Bool(true)
	s := fake.String("iPhone15,2")
	d := fake.Dict(map[string]cf.Ref{"Count": n, "Paired": b, "ProductType": s})

	assert.Equal(t, int64(-42), c.ToGo(n))
	assert.Equal(t, true, c.ToGo(b))
	assert.Equal(t, map[string]any{"Count": int64(-42), "Paired": true, "ProductType": "iPhone15,2"}, c.ToGo(d))
	assert.Nil(t, c.ToGo(0))
	assert.Equal(t, 3, c.DictionaryCount(d))
}

func TestRunUntil(t *testing.T) {
	fake := cftest.New()
	c := fake.CoreFoundation()

	calls := 0
	fake.OnRunInMode = func(seconds float64) int32 {
		calls++
		assert.LessOrEqual(t, seconds, 0.05)
		return int32(cf.RunHandledSource)
	}
	ok := c.RunUntil(func() bool { return calls == 3 }, time.Second, 50*time.Millisecond)
	assert.True(t, ok)
	assert.Equal(t, 3, calls)

	fake.OnRunInMode = func(float64) int32 {
		time.Sleep(5 * time.Millisecond)
		return int32(cf.RunTimedOut)
	}
	assert.False(t, c.RunUntil(func() bool { return false }, 20*time.Millisecond, 10*time.Millisecond))
}

func TestTimers(t *testing.T) {
	fake := cftest.New()
	fake.Now = 750000000
	c := fake.CoreFoundation()

	rl := c.RunLoopGetCurrent()
	timer := c.TimerCreate(c.AbsoluteTime()+1, 0.5, 0xcafe)
	c.AddTimer(rl, timer, c.DefaultMode())

	rec := fake.Timers[uintptr(timer)]
	require.NotNil(t, rec)
	assert.True(t, rec.Added)
	assert.Equal(t, 750000001.0, rec.FireDate)
	assert.Equal(t, 0.5, rec.Interval)
	assert.Equal(t, uintptr(0xcafe), rec.Callout)

	c.RemoveTimer(rl, timer, c.CommonModes())
	assert.False(t, rec.Added)
	c.Release(timer)

	c.RunLoopStop(rl)
	assert.Equal(t, 1, fake.Stops)
}
