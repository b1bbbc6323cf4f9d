package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlatten(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text passes through",
			in:   "just a normal sentence",
			want: "just a normal sentence",
		},
		{
			name: "emphasis markers stripped",
			in:   "this is **bold** and *italic* and ~~struck~~",
			want: "this is bold and italic and struck",
		},
		{
			name: "inline code keeps content",
			in:   "run `go generate` first",
			want: "run go generate first",
		},
		{
			name: "fenced code keeps body drops fence",
			in:   "```go\nfmt.Println(\"hi\")\n```",
			want: "fmt.Println(\"hi\")",
		},
		{
			name: "link keeps label",
			in:   "see [the docs](https://example.com/docs)",
			want: "see the docs",
		},
		{
			name: "bare url survives",
			in:   "check https://example.com/page",
			want: "check https://example.com/page",
		},
		{
			name: "heading flattens",
			in:   "# Setup\n\nInstall the binary.",
			want: "Setup\nInstall the binary.",
		},
		{
			name: "list items flatten to lines",
			in:   "- first\n- second",
			want: "first\nsecond",
		},
		{
			name: "blockquote keeps text",
			in:   "> quoted reply\n\nmy answer",
			want: "quoted reply\nmy answer",
		},
		{
			name: "blank runs squeeze",
			in:   "a\n\n\n\nb",
			want: "a\nb",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Flatten(tt.in))
		})
	}
}
