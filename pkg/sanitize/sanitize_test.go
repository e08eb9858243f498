package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnschat/pkg/dnserror"
)

func TestSanitize(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "simple message", input: "Hello, World!", want: "hello-world"},
		{name: "already clean", input: "hello-world", want: "hello-world"},
		{name: "whitespace runs", input: "what   is\tthe time", want: "what-is-the-time"},
		{name: "diacritics folded", input: "héllo wörld", want: "hello-world"},
		{name: "punctuation stripped", input: "what's up?", want: "whats-up"},
		{name: "dash runs collapsed", input: "a -- b --- c", want: "a-b-c"},
		{name: "edge dashes trimmed", input: "--hello--", want: "hello"},
		{name: "uppercase folded", input: "HELLO", want: "hello"},
		{name: "empty input", input: "", wantErr: true},
		{name: "whitespace only", input: "   ", wantErr: true},
		{name: "no alphanumeric survives", input: "!!! ???", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sanitize(tt.input, cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, dnserror.QueryFailed, dnserror.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	cfg := Default()
	for _, input := range []string{"Hello, World!", "a b c", "x--y", "Ünïcode Stuff"} {
		once, err := Sanitize(input, cfg)
		require.NoError(t, err)
		twice, err := Sanitize(once, cfg)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "sanitize must be idempotent for %q", input)
	}
}

func TestSanitizeOutputDomain(t *testing.T) {
	cfg := Default()
	inputs := []string{"Hello, World!", "what is DNS?", "汉字 and ascii", "tabs\tand\nnewlines"}
	for _, input := range inputs {
		got, err := Sanitize(input, cfg)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(got), cfg.MaxLabelLength)
		for _, r := range got {
			valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-'
			assert.True(t, valid, "unexpected rune %q in %q", r, got)
		}
	}
}

func TestSanitizeLengthCap(t *testing.T) {
	cfg := Default()
	_, err := Sanitize(strings.Repeat("a", cfg.MaxLabelLength+1), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")

	got, err := Sanitize(strings.Repeat("a", cfg.MaxLabelLength), cfg)
	require.NoError(t, err)
	assert.Len(t, got, cfg.MaxLabelLength)
}

func TestNormalizeQueryName(t *testing.T) {
	cfg := Default()

	got, err := NormalizeQueryName("Hello World.CH.AT", cfg)
	require.NoError(t, err)
	assert.Equal(t, "hello-world.ch.at", got)

	_, err = NormalizeQueryName("", cfg)
	require.Error(t, err)

	// 5 labels of 60 bytes exceed the 255-byte encoded cap.
	long := strings.Repeat(strings.Repeat("a", 60)+".", 4) + strings.Repeat("a", 60)
	_, err = NormalizeQueryName(long, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "255")
}

func TestCompose(t *testing.T) {
	tests := []struct {
		name    string
		label   string
		server  string
		want    string
		wantErr bool
	}{
		{name: "plain zone", label: "hello-world", server: "ch.at", want: "hello-world.ch.at"},
		{name: "trailing dots", label: "hello-world.", server: "CH.AT.", want: "hello-world.ch.at"},
		{name: "ipv4 resolver falls back to default zone", label: "hi", server: "8.8.8.8", want: "hi.ch.at"},
		{name: "empty label", label: "", server: "ch.at", wantErr: true},
		{name: "empty server", label: "hi", server: "...", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compose(tt.label, tt.server)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeServerHost(t *testing.T) {
	cfg := Default()

	host, err := NormalizeServerHost("CH.AT.", cfg)
	require.NoError(t, err)
	assert.Equal(t, "ch.at", host)

	_, err = NormalizeServerHost("evil.example.com", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")

	_, err = NormalizeServerHost(" . ", cfg)
	require.Error(t, err)
}
