// pdf.go implements PDF text extraction using ledongthuc/pdf
// (pure Go, no CGO).
package tools

import (
	"context"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFTool extracts plain text from PDF files.
type PDFTool struct{}

func (PDFTool) Name() string { return "pdf" }
func (PDFTool) Init() error  { return nil }

func (PDFTool) KnownArgs() []string { return []string{"filepath", "path", "max_pages"} }

func (PDFTool) Run(_ context.Context, args map[string]any) Result {
	path := pathArg(args)
	if path == "" {
		return Errorf("missing required parameter %q", "filepath")
	}

	f, err := os.Open(path)
	if err != nil {
		return Errorf("opening %s: %v", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Errorf("stat %s: %v", path, err)
	}
	r, err := pdf.NewReader(f, st.Size())
	if err != nil {
		return Errorf("parsing %s: %v", path, err)
	}

	maxPages := intArg(args, "max_pages", 0)
	pages := r.NumPage()
	if maxPages > 0 && maxPages < pages {
		pages = maxPages
	}

	var text strings.Builder
	extracted := 0
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			// Unreadable pages are skipped, not fatal.
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(pageText)
		extracted++
	}

	return OK(map[string]any{
		"filepath": path,
		"pages":    r.NumPage(),
		"text":     text.String(),
		"readable": extracted,
	})
}

func (PDFTool) Context() string {
	return `Extract text from a PDF. {filepath: string, max_pages?: int}
→ {success, text, pages, readable}`
}
