package useragent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify_AndroidChrome(t *testing.T) {
	t.Parallel()

	dev := Classify("Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/115.0.5790.166 Mobile Safari/537.36")

	require.Equal(t, "Android", dev.Family)
	require.Equal(t, "Android 13", dev.OSVersion)
	require.Contains(t, dev.Browser, "Chrome 115")
}

func TestClassify_IPhoneVersionUsesDots(t *testing.T) {
	t.Parallel()

	dev := Classify("Mozilla/5.0 (iPhone; CPU iPhone OS 16_5 like Mac OS X) AppleWebKit/605.1.15 " +
		"(KHTML, like Gecko) Version/16.5 Mobile/15E148 Safari/604.1")

	require.Equal(t, "iPhone", dev.Family)
	require.Equal(t, "iPhone OS 16.5", dev.OSVersion)
	require.Equal(t, "Safari 604.1", dev.Browser)
}

func TestClassify_EdgeReportsAsChrome(t *testing.T) {
	t.Parallel()

	dev := Classify("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.2210.91")

	require.Equal(t, "Windows", dev.Family)
	require.Equal(t, "Windows NT 10.0", dev.OSVersion)
	require.Equal(t, "Chrome 120.0.0.0", dev.Browser)
}

func TestClassify_FirefoxOnMac(t *testing.T) {
	t.Parallel()

	dev := Classify("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7; rv:121.0) Gecko/20100101 Firefox/121.0")

	require.Equal(t, "Mac OS", dev.Family)
	require.Equal(t, "Mac OS X 10.15.7", dev.OSVersion)
	require.Equal(t, "Firefox 121.0", dev.Browser)
}

func TestClassify_UnknownAndEmpty(t *testing.T) {
	t.Parallel()

	require.Equal(t, Unknown, Classify("").Family)

	dev := Classify("curl/8.4.0")
	require.Equal(t, Unknown, dev.Family)
	require.Empty(t, dev.Browser)
	require.Empty(t, dev.OSVersion)
}

func TestClassify_LinuxDesktopHasNoVersion(t *testing.T) {
	t.Parallel()

	dev := Classify("Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0")
	require.Equal(t, "Linux", dev.Family)
	require.Empty(t, dev.OSVersion)
	require.Equal(t, "Firefox 115.0", dev.Browser)
}

func TestClassify_FlagsCrawlers(t *testing.T) {
	t.Parallel()

	dev := Classify("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
	require.True(t, dev.Bot)
}
