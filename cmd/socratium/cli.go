package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
	"socratium/pkg/domain"
	"socratium/pkg/extract"
	"socratium/pkg/outline"
	"socratium/pkg/pagemap"
	"socratium/pkg/prompt"
)

// newCLIApp builds the command tree. Output goes to out.
func newCLIApp(out io.Writer, ex *extract.Extractor) *cli.App {
	app := &cli.App{
		Name:      "socratium",
		Usage:     "Inspect how a PDF is split into pages, sections and reading context",
		Version:   Version,
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pdftotext", Usage: "Path to pdftotext; \"none\" forces the built-in reader"},
		},
		Before: func(c *cli.Context) error {
			switch p := strings.TrimSpace(c.String("pdftotext")); p {
			case "":
			case "none":
				ex.Pdftotext = ""
			default:
				ex.Pdftotext = p
			}
			return nil
		},
		Commands: []*cli.Command{
			pagemapCmd(ex),
			outlineCmd(ex),
			pageCmd(ex),
			sectionCmd(ex),
			contextCmd(ex),
		},
	}
	// Errors are returned to the caller instead of exiting.
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func pagemapCmd(ex *extract.Extractor) *cli.Command {
	return &cli.Command{
		Name:      "pagemap",
		Usage:     "Print the page-to-offset map of the extracted text",
		ArgsUsage: "<file.pdf>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "Print at most this many entries (0 for all)"},
		},
		Action: func(c *cli.Context) error {
			res, err := load(c, ex)
			if err != nil {
				return err
			}
			_, entries := res.Text()
			if n := c.Int("limit"); n > 0 && n < len(entries) {
				entries = entries[:n]
			}
			return outputJSON(c.App.Writer, entries)
		},
	}
}

func outlineCmd(ex *extract.Extractor) *cli.Command {
	return &cli.Command{
		Name:      "outline",
		Usage:     "Print the bookmark outline",
		ArgsUsage: "<file.pdf>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "flat", Usage: "Print depth-first entries with their depth"},
		},
		Action: func(c *cli.Context) error {
			res, err := load(c, ex)
			if err != nil {
				return err
			}
			if c.Bool("flat") {
				type flatEntry struct {
					Title      string `json:"title"`
					PageNumber *int   `json:"pageNumber"`
					Depth      int    `json:"depth"`
				}
				flat := []flatEntry{}
				for _, e := range outline.Flatten(res.Outline) {
					flat = append(flat, flatEntry{Title: e.Title, PageNumber: e.PageNumber, Depth: e.Depth})
				}
				return outputJSON(c.App.Writer, flat)
			}
			nodes := res.Outline
			if nodes == nil {
				nodes = []domain.OutlineNode{}
			}
			return outputJSON(c.App.Writer, nodes)
		},
	}
}

func pageCmd(ex *extract.Extractor) *cli.Command {
	return &cli.Command{
		Name:      "page",
		Usage:     "Print the text of one page",
		ArgsUsage: "<file.pdf>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "page", Aliases: []string{"p"}, Required: true, Usage: "1-based page number"},
		},
		Action: func(c *cli.Context) error {
			page, err := pageFlag(c)
			if err != nil {
				return err
			}
			res, err := load(c, ex)
			if err != nil {
				return err
			}
			text, entries := res.Text()
			pageText, err := pagemap.PageText(text, entries, page)
			if err != nil {
				return cli.Exit(fmt.Sprintf("page %d: %v", page, err), 1)
			}
			return outputJSON(c.App.Writer, domain.PageText{PageNumber: page, Text: pageText})
		},
	}
}

func sectionCmd(ex *extract.Extractor) *cli.Command {
	return &cli.Command{
		Name:      "section",
		Usage:     "Print the outline heading that governs a page",
		ArgsUsage: "<file.pdf>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "page", Aliases: []string{"p"}, Required: true, Usage: "1-based page number"},
		},
		Action: func(c *cli.Context) error {
			page, err := pageFlag(c)
			if err != nil {
				return err
			}
			res, err := load(c, ex)
			if err != nil {
				return err
			}
			var section *string
			if title, ok := outline.SectionTitle(res.Outline, page); ok {
				section = &title
			}
			return outputJSON(c.App.Writer, map[string]any{"page": page, "section": section})
		},
	}
}

func contextCmd(ex *extract.Extractor) *cli.Command {
	return &cli.Command{
		Name:      "context",
		Usage:     "Print the reading context block for a page",
		ArgsUsage: "<file.pdf>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "page", Aliases: []string{"p"}, Required: true, Usage: "1-based page number"},
			&cli.IntFlag{Name: "window", Aliases: []string{"w"}, Value: 3, Usage: "Number of pages ending at --page"},
			&cli.StringFlag{Name: "title", Usage: "Book title (defaults to the file name)"},
			&cli.BoolFlag{Name: "json", Usage: "Print the block with its parts as JSON"},
		},
		Action: func(c *cli.Context) error {
			page, err := pageFlag(c)
			if err != nil {
				return err
			}
			res, err := load(c, ex)
			if err != nil {
				return err
			}
			text, entries := res.Text()
			pages := prompt.SelectContext(c.Context, page, c.Int("window"), func(_ context.Context, p int) (domain.PageText, error) {
				t, err := pagemap.PageText(text, entries, p)
				if err != nil {
					return domain.PageText{}, err
				}
				return domain.PageText{PageNumber: p, Text: t}, nil
			})
			var section *string
			if title, ok := outline.SectionTitle(res.Outline, page); ok {
				section = &title
			}
			title := strings.TrimSpace(c.String("title"))
			if title == "" {
				base := filepath.Base(c.Args().First())
				title = strings.TrimSuffix(base, filepath.Ext(base))
			}
			rc := prompt.FormatReadingContext(prompt.Position{BookTitle: title, Section: section, Page: page}, pages)
			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]any{
					"readingContext": rc.Block,
					"contextText":    rc.ContextText,
					"excerptStatus":  rc.ExcerptStatus,
					"pages":          len(pages),
				})
			}
			_, err = fmt.Fprintln(c.App.Writer, rc.Block)
			return err
		},
	}
}

func load(c *cli.Context, ex *extract.Extractor) (extract.Result, error) {
	if c.NArg() != 1 {
		return extract.Result{}, cli.Exit("expected exactly one PDF path", 2)
	}
	res, err := ex.File(c.Context, c.Args().First())
	if err != nil {
		if errors.Is(err, extract.ErrNoPages) {
			return extract.Result{}, cli.Exit("the PDF has no pages", 1)
		}
		return extract.Result{}, cli.Exit(err.Error(), 1)
	}
	return res, nil
}

func pageFlag(c *cli.Context) (int, error) {
	page := c.Int("page")
	if page < 1 {
		return 0, cli.Exit("--page must be a positive integer", 2)
	}
	return page, nil
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
