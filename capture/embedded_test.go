package capture

import (
	"image"
	"image/color"
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func TestHasEmbeddedObject(t *testing.T) {
	cases := []struct {
		doc  string
		want bool
	}{
		{`<html><body><p>text only</p></body></html>`, false},
		{`<div><section><embed src="a.swf"></section></div>`, true},
		{`<body><applet code="A.class"></applet></body>`, true},
		{`<body><object data="x"></object></body>`, true},
		{`<body><p>object embed applet</p><iframe src="about:blank"></iframe></body>`, false},
	}
	for _, c := range cases {
		got, err := HasEmbeddedObject(c.doc)
		if err != nil {
			t.Fatalf("%s: %v", c.doc, err)
		}
		if got != c.want {
			t.Errorf("%s: got %v, want %v", c.doc, got, c.want)
		}
	}
}

func TestFindFirst_DocumentOrder(t *testing.T) {
	root, err := html.Parse(strings.NewReader(
		`<div><ul><li id="a"></li></ul><li id="b"></li></div><li id="c"></li>`))
	if err != nil {
		t.Fatal(err)
	}
	n := FindFirst(root, func(n *html.Node) bool { return n.Type == html.ElementNode && n.Data == "li" })
	if n == nil {
		t.Fatal("no li found")
	}
	if id := n.Attr[0].Val; id != "a" {
		t.Fatalf("first li = %q, want a", id)
	}
	if FindFirst(nil, IsEmbeddedObject) != nil {
		t.Fatal("nil root")
	}
}

// plain hides SubImage so crop has to copy.
type plain struct{ image.Image }

func TestCrop_CopiesWithoutSubImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 20, 20))
	src.SetRGBA(12, 7, color.RGBA{1, 2, 3, 255})

	got := crop(plain{src}, image.Rect(10, 5, 15, 10))
	if got.Bounds() != image.Rect(0, 0, 5, 5) {
		t.Fatalf("bounds = %v", got.Bounds())
	}
	if c := got.At(2, 2).(color.RGBA); c != (color.RGBA{1, 2, 3, 255}) {
		t.Fatalf("pixel = %v", c)
	}
}
