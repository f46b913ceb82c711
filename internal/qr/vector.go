package qr

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// SVGNamespace is required on the root element for standalone files
const SVGNamespace = "http://www.w3.org/2000/svg"

// Document is an SVG tree. Attribute and child order is preserved.
type Document struct {
	XMLName  xml.Name   `xml:"svg"`
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []Element  `xml:",any"`
}

// Element is a childless SVG element
type Element struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

func element(name string, attrs ...xml.Attr) Element {
	return Element{XMLName: xml.Name{Local: name}, Attrs: attrs}
}

// Attr returns the value of the named root attribute
func (d *Document) Attr(name string) (string, bool) {
	for _, a := range d.Attrs {
		if a.Name.Space == "" && a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr replaces or appends a root attribute
func (d *Document) SetAttr(name, value string) {
	for i, a := range d.Attrs {
		if a.Name.Space == "" && a.Name.Local == name {
			d.Attrs[i].Value = value
			return
		}
	}
	d.Attrs = append(d.Attrs, attr(name, value))
}

func itoa(n int) string { return strconv.Itoa(n) }

func drawVector(l layout, matrix [][]bool) (*Document, error) {
	for _, c := range []string{l.cfg.ColorDark, l.cfg.ColorLight} {
		if _, err := ParseHexColor(c); err != nil {
			return nil, err
		}
	}

	w, h := l.cfg.CanvasSize()
	doc := &Document{
		Attrs: []xml.Attr{
			attr("width", itoa(w)),
			attr("height", itoa(h)),
			attr("viewBox", fmt.Sprintf("0 0 %d %d", w, h)),
			attr("shape-rendering", "crispEdges"),
		},
	}

	doc.Children = append(doc.Children, element("rect",
		attr("x", "0"), attr("y", "0"),
		attr("width", itoa(w)), attr("height", itoa(h)),
		attr("fill", l.cfg.ColorLight),
	))

	var d strings.Builder
	runs(matrix, func(from, to, row int) {
		r := l.span(from, to, row)
		fmt.Fprintf(&d, "M%d %dh%dv%dh-%dz", r.Min.X, r.Min.Y, r.Dx(), r.Dy(), r.Dx())
	})
	doc.Children = append(doc.Children, element("path",
		attr("d", d.String()),
		attr("fill", l.cfg.ColorDark),
	))

	if box := l.logo(); !box.Empty() {
		bg := l.cfg.LogoBackgroundColor
		if bg == "" {
			bg = l.cfg.ColorLight
		}
		if _, err := ParseHexColor(bg); err != nil {
			return nil, err
		}
		if l.cfg.Logo.MIME == "" || len(l.cfg.Logo.Data) == 0 {
			return nil, fmt.Errorf("%w: logo has no data", ErrUnsupportedLogo)
		}

		doc.Children = append(doc.Children,
			element("rect",
				attr("x", itoa(box.Min.X)), attr("y", itoa(box.Min.Y)),
				attr("width", itoa(box.Dx())), attr("height", itoa(box.Dy())),
				attr("fill", bg),
			),
			element("image",
				attr("x", itoa(box.Min.X)), attr("y", itoa(box.Min.Y)),
				attr("width", itoa(box.Dx())), attr("height", itoa(box.Dy())),
				attr("preserveAspectRatio", "none"),
				attr("href", DataURL(l.cfg.Logo)),
			),
		)
	}

	return doc, nil
}
