// Package pdf extracts plain text from PDF resumes.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
)

// MaxBytes is the largest PDF accepted.
const MaxBytes = 10 << 20

var (
	// ErrNotPDF is returned for input without a PDF header.
	ErrNotPDF = errors.New("file is not a PDF")
	// ErrNoText is returned when no page yields text, e.g. scanned documents.
	ErrNoText = errors.New("no extractable text in PDF")
	// ErrTooLarge is returned for input over MaxBytes.
	ErrTooLarge = errors.New("PDF is too large")
)

var pageFile = regexp.MustCompile(`page_(\d+)`)

// Extractor turns PDF bytes into text.
type Extractor interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
}

// Pdfcpu extracts page content streams with pdfcpu and decodes their text operators.
type Pdfcpu struct {
	conf   *model.Configuration
	logger *zap.Logger
}

// New creates a pdfcpu-backed Extractor.
func New(logger *zap.Logger) *Pdfcpu {
	if logger == nil {
		logger = zap.NewNop()
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Pdfcpu{conf: conf, logger: logger}
}

// ExtractText implements Extractor. Pages are separated by a blank line.
func (p *Pdfcpu) ExtractText(ctx context.Context, data []byte) (string, error) {
	if len(data) > MaxBytes {
		return "", ErrTooLarge
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-")) {
		return "", ErrNotPDF
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	pdfCtx, err := api.ReadContext(bytes.NewReader(data), p.conf)
	if err != nil {
		return "", fmt.Errorf("failed to read PDF: %w", err)
	}

	outDir, err := os.MkdirTemp("", "identity-pdf-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(outDir) }()

	if err := api.ExtractContent(bytes.NewReader(data), outDir, "resume", nil, p.conf); err != nil {
		return "", fmt.Errorf("failed to extract PDF content: %w", err)
	}

	pages, err := readPages(outDir)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, page := range pages {
		text := strings.TrimSpace(contentText(page.stream))
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	p.logger.Debug("extracted PDF text",
		zap.Int("pages", pdfCtx.PageCount),
		zap.Int("chars", b.Len()))

	if b.Len() == 0 {
		return "", ErrNoText
	}
	return b.String(), nil
}

type pageStream struct {
	number int
	stream []byte
}

func readPages(dir string) ([]pageStream, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read extracted content: %w", err)
	}
	var pages []pageStream
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pageFile.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d: %w", n, err)
		}
		pages = append(pages, pageStream{number: n, stream: data})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].number < pages[j].number })
	return pages, nil
}
