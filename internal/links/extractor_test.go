package links

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		base string
		html string
		want []string
	}{
		{
			name: "relative and absolute",
			base: "https://example.com/docs/index.html",
			html: `<a href="guide.pdf">g</a><a href="/about">a</a><a href="https://other.org/x">x</a>`,
			want: []string{
				"https://example.com/docs/guide.pdf",
				"https://example.com/about",
				"https://other.org/x",
			},
		},
		{
			name: "skips non http targets",
			base: "https://example.com/",
			html: `<a href="#top">t</a><a href="mailto:a@b.c">m</a><a href="JavaScript:void(0)">j</a>` +
				`<a href="tel:123">p</a><a href="ftp://example.com/f">f</a><a href="">e</a><a>none</a>`,
		},
		{
			name: "base element wins",
			base: "https://example.com/docs/",
			html: `<head><base href="https://cdn.example.com/files/"></head><a href="a.pdf">a</a>`,
			want: []string{"https://cdn.example.com/files/a.pdf"},
		},
		{
			name: "relative base element",
			base: "https://example.com/docs/",
			html: `<base href="/static/"><a href="b.docx">b</a>`,
			want: []string{"https://example.com/static/b.docx"},
		},
		{
			name: "keeps fragments and queries for normalization later",
			base: "https://example.com/",
			html: `<a href=" page?q=1#frag ">p</a>`,
			want: []string{"https://example.com/page?q=1#frag"},
		},
		{
			name: "malformed markup still parses",
			base: "https://example.com/",
			html: `<div><a href="/one">one<p><a href="/two">two`,
			want: []string{"https://example.com/one", "https://example.com/two"},
		},
		{
			name: "empty body",
			base: "https://example.com/",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, New().Extract(tt.base, []byte(tt.html)))
		})
	}
}

func TestExtractInvalidBase(t *testing.T) {
	t.Parallel()

	assert.Empty(t, New().Extract("://bad", []byte(`<a href="/x">x</a>`)))
}
