// Package testpdf writes small uncompressed PDFs for tests.
package testpdf

import (
	"bytes"
	"fmt"
	"strings"
)

// Bookmark is a top-level outline item pointing at a 1-based page.
type Bookmark struct {
	Title string
	Page  int
}

// Build returns a PDF with one Helvetica text line per page and an
// optional flat outline. Page text must be plain ASCII without parentheses.
func Build(pages []string, outline ...Bookmark) []byte {
	// Object layout: 1 catalog, 2 pages, 3 font, then page/content pairs,
	// then the outline root and its items.
	pageObj := func(i int) int { return 4 + 2*i }
	var objects []string
	catalog := "<< /Type /Catalog /Pages 2 0 R >>"
	outlineRoot := 4 + 2*len(pages)
	if len(outline) > 0 {
		catalog = fmt.Sprintf("<< /Type /Catalog /Pages 2 0 R /Outlines %d 0 R >>", outlineRoot)
	}
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", pageObj(i))
	}
	objects = append(objects,
		catalog,
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)
	for i, text := range pages {
		objects = append(objects, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			pageObj(i)+1))
		body := fmt.Sprintf("BT /F1 12 Tf 72 700 Td (%s) Tj ET", text)
		objects = append(objects, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(body), body))
	}
	if len(outline) > 0 {
		first, last := outlineRoot+1, outlineRoot+len(outline)
		objects = append(objects, fmt.Sprintf("<< /Type /Outlines /First %d 0 R /Last %d 0 R /Count %d >>", first, last, len(outline)))
		for i, b := range outline {
			item := fmt.Sprintf("<< /Title (%s) /Parent %d 0 R /Dest [%d 0 R /Fit]", b.Title, outlineRoot, pageObj(b.Page-1))
			if i > 0 {
				item += fmt.Sprintf(" /Prev %d 0 R", first+i-1)
			}
			if i < len(outline)-1 {
				item += fmt.Sprintf(" /Next %d 0 R", first+i+1)
			}
			objects = append(objects, item+" >>")
		}
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}
