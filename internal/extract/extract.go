// Package extract pulls plain text out of uploaded documents.
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/instabrief/backend/internal/models"
	"github.com/ledongthuc/pdf"
)

var (
	// ErrUnsupported is returned for file types with no extractor.
	ErrUnsupported = errors.New("unsupported file type")
	// ErrTooLarge is returned when a document expands past the extraction limits.
	ErrTooLarge = errors.New("document content too large")
)

var (
	// MaxTextBytes caps the text extracted from one document.
	MaxTextBytes = 10 << 20
	// MaxPartBytes caps the decompressed size of one OOXML part.
	MaxPartBytes int64 = 64 << 20
)

// Text returns the plain text of a document of the given type.
func Text(ft models.FileType, data []byte) (string, error) {
	switch ft {
	case models.FileTypeTXT:
		if len(data) > MaxTextBytes {
			return "", ErrTooLarge
		}
		return plainText(data), nil
	case models.FileTypeDOCX:
		return docxText(data)
	case models.FileTypePPTX:
		return pptxText(data)
	case models.FileTypePDF:
		return pdfText(data)
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupported, ft)
}

func plainText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}

func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			return zipEntryText(f, MaxTextBytes)
		}
	}
	return "", fmt.Errorf("open docx: word/document.xml not found")
}

func pptxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pptx: %w", err)
	}

	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		dir, name := path.Split(f.Name)
		if dir != "ppt/slides/" || !strings.HasPrefix(name, "slide") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "slide"), ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, slide{n, f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	var sb strings.Builder
	for _, s := range slides {
		text, err := zipEntryText(s.f, MaxTextBytes-sb.Len())
		if err != nil {
			return "", fmt.Errorf("slide %d: %w", s.n, err)
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

func zipEntryText(f *zip.File, limit int) (string, error) {
	if f.UncompressedSize64 > uint64(MaxPartBytes) {
		return "", fmt.Errorf("%s: %w", f.Name, ErrTooLarge)
	}
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return textRuns(&cappedReader{r: rc, left: MaxPartBytes}, limit)
}

// cappedReader fails with ErrTooLarge once more than left bytes are read.
type cappedReader struct {
	r    io.Reader
	left int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if int64(len(p)) > c.left+1 {
		p = p[:c.left+1]
	}
	n, err := c.r.Read(p)
	if int64(n) > c.left {
		return 0, ErrTooLarge
	}
	c.left -= int64(n)
	return n, err
}

// textRuns collects the character data of OOXML text runs (w:t, a:t), ending
// each paragraph with a newline. It stops with ErrTooLarge past limit bytes.
func textRuns(r io.Reader, limit int) (string, error) {
	dec := xml.NewDecoder(r)
	var sb strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
		if sb.Len() > limit {
			return "", ErrTooLarge
		}
	}
	return sb.String(), nil
}

func pdfText(data []byte) (text string, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
		}
	}()

	rd, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	plain, err := rd.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(io.LimitReader(plain, int64(MaxTextBytes)+1)); err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	if buf.Len() > MaxTextBytes {
		return "", ErrTooLarge
	}
	return buf.String(), nil
}
