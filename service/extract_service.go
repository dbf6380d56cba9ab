package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptyInput        = errors.New("no text could be extracted")
	ErrExtraction        = errors.New("text extraction failed")
)

// maxExtractChars bounds extracted text so the LLM request stays small.
// Longer documents are analyzed on their first 5000 characters only.
const maxExtractChars = 5000

// ExtractService converts raw document bytes into plain text. PDFs get a
// two-stage treatment: the text layer first, then per-page OCR for
// scanned documents.
type ExtractService struct {
	runner    Runner
	pdftotext string
	pdftoppm  string
	tesseract string
	dpi       int
}

// ExtractServiceOption is a functional option for ExtractService
type ExtractServiceOption func(*ExtractService)

// ExtractWithRunner sets the command runner (stubbed in tests)
func ExtractWithRunner(r Runner) ExtractServiceOption {
	return func(s *ExtractService) {
		s.runner = r
	}
}

// ExtractWithBinaries overrides the poppler/tesseract binary names
func ExtractWithBinaries(pdftotext, pdftoppm, tesseract string) ExtractServiceOption {
	return func(s *ExtractService) {
		if pdftotext != "" {
			s.pdftotext = pdftotext
		}
		if pdftoppm != "" {
			s.pdftoppm = pdftoppm
		}
		if tesseract != "" {
			s.tesseract = tesseract
		}
	}
}

// NewExtractService creates a new extraction service
func NewExtractService(opts ...ExtractServiceOption) *ExtractService {
	s := &ExtractService{
		runner:    execRunner{},
		pdftotext: "pdftotext",
		pdftoppm:  "pdftoppm",
		tesseract: "tesseract",
		dpi:       300,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SupportedFormat reports whether the (lowercased, dot-free) extension is
// one the extractor handles.
func SupportedFormat(ext string) bool {
	switch ext {
	case "pdf", "docx", "txt":
		return true
	}
	return false
}

// NormalizeExt lowercases an extension and trims the leading dot.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// ExtractText extracts plain text from a document given its raw bytes and
// format tag ("pdf", "docx" or "txt"). The result is truncated to
// maxExtractChars as the final step for every format.
func (s *ExtractService) ExtractText(ctx context.Context, content []byte, format string) (string, error) {
	var (
		text string
		err  error
	)
	switch format {
	case "txt":
		text, err = s.extractTXT(content)
	case "docx":
		text, err = s.extractDOCX(content)
	case "pdf":
		text, err = s.extractPDF(ctx, content)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return "", err
	}
	// character budget, not bytes; slicing bytes could split a rune
	if runes := []rune(text); len(runes) > maxExtractChars {
		text = string(runes[:maxExtractChars])
	}
	return text, nil
}

func (s *ExtractService) extractTXT(content []byte) (string, error) {
	text := string(content)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w from TXT", ErrEmptyInput)
	}
	return text, nil
}

// docx files are zip archives; paragraph text lives in word/document.xml
// as <w:t> runs grouped under <w:p> elements.
func (s *ExtractService) extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("%w: open docx archive: %v", ErrExtraction, err)
	}

	var docXML io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docXML, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("%w: open word/document.xml: %v", ErrExtraction, err)
			}
			break
		}
	}
	if docXML == nil {
		return "", fmt.Errorf("%w: word/document.xml not found", ErrExtraction)
	}
	defer docXML.Close()

	paragraphs, err := docxParagraphs(docXML)
	if err != nil {
		return "", fmt.Errorf("%w: parse word/document.xml: %v", ErrExtraction, err)
	}
	text := strings.Join(paragraphs, " ")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w from DOCX", ErrEmptyInput)
	}
	return text, nil
}

// docxParagraphs walks the document XML and returns the non-empty
// paragraph texts in order.
func docxParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var (
		paragraphs []string
		current    strings.Builder
		inPara     bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "p" {
				inPara = true
				current.Reset()
			} else if t.Name.Local == "t" && inPara {
				var run string
				if err := dec.DecodeElement(&run, &t); err != nil {
					return nil, err
				}
				current.WriteString(run)
			}
		case xml.EndElement:
			if t.Name.Local == "p" && inPara {
				inPara = false
				if p := current.String(); strings.TrimSpace(p) != "" {
					paragraphs = append(paragraphs, p)
				}
			}
		}
	}
	return paragraphs, nil
}

// extractPDF tries the text layer first. If the PDF yields no text it is
// treated as scanned: each page is rasterized and run through OCR.
func (s *ExtractService) extractPDF(ctx context.Context, content []byte) (string, error) {
	tmp, err := os.CreateTemp("", "cb-doc-*.pdf")
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %v", ErrExtraction, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: write temp file: %v", ErrExtraction, err)
	}
	tmp.Close()

	text, err := s.pdfTextLayer(ctx, tmp.Name())
	if err == nil && strings.TrimSpace(text) != "" {
		log.Printf("Extracted %d characters from PDF text layer", len(text))
		return text, nil
	}
	if err != nil {
		log.Printf("Warning: PDF text-layer extraction failed: %v. Attempting OCR.", err)
	} else {
		log.Printf("No text in PDF text layer, attempting OCR")
	}

	ocrText, err := s.pdfOCR(ctx, tmp.Name())
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(ocrText) == "" {
		return "", fmt.Errorf("%w from PDF, even with OCR", ErrEmptyInput)
	}
	log.Printf("Extracted %d characters from PDF using OCR", len(ocrText))
	return ocrText, nil
}

func (s *ExtractService) pdfTextLayer(ctx context.Context, path string) (string, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := s.runner.Run(ctx, s.pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext: %v: %s", err, errb)
	}
	return string(out), nil
}

func (s *ExtractService) pdfOCR(ctx context.Context, path string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "cb-pages-*")
	if err != nil {
		return "", fmt.Errorf("%w: create temp dir: %v", ErrExtraction, err)
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	if _, errb, err := s.runner.Run(ctx, s.pdftoppm, "-r", fmt.Sprintf("%d", s.dpi), "-png", path, prefix); err != nil {
		return "", fmt.Errorf("%w: pdftoppm: %v: %s", ErrExtraction, err, errb)
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: PDF has no pages to rasterize", ErrExtraction)
	}

	var parts []string
	for i, img := range matches {
		out, _, err := s.runner.Run(ctx, s.tesseract, img, "stdout", "-l", "eng")
		if err != nil {
			log.Printf("Warning: OCR failed on page %d: %v", i+1, err)
			continue
		}
		if txt := string(out); strings.TrimSpace(txt) != "" {
			parts = append(parts, txt)
		} else {
			log.Printf("Warning: no text recognized on page %d", i+1)
		}
	}
	return strings.Join(parts, "\n"), nil
}
