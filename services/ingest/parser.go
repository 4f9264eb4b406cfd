// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/ashuxtim/DocuMind-AI/services/vector"
)

var (
	chunkSize    = 2000
	chunkOverlap = int(float64(chunkSize) * 0.10) // overlap is 10% of the chunk size

	defaultSeparators  = []string{"\n\n", "\n", " ", ""}
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}

	headingPattern = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.+)$`)
)

const (
	defaultSection = "General"
	charsPerPage   = 3000
)

// ErrUnsupportedFormat is returned for file extensions the parser
// cannot handle. PDF and DOCX extraction happen upstream; by the time
// a file reaches this parser it is plain text or Markdown.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Parse splits a document into chunks carrying source, page, and
// section metadata.
//
// # Description
//
// Each chunk is tagged with the nearest preceding Markdown heading as
// its section, so temporal context like "Q3 2024 Results" survives
// chunking and travels with every chunk into the vector index. Page
// numbers are estimated from character offsets. An empty file yields
// zero chunks and no error.
//
// # Inputs
//   - path: document on local disk, .txt or .md.
//
// # Outputs
//   - []vector.Chunk ready for the vector store.
//   - error when the file is missing or the format is unsupported.
func Parse(path string) ([]vector.Chunk, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".md", ".markdown":
	default:
		return nil, fmt.Errorf("%q: %w", ext, ErrUnsupportedFormat)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	pieces, err := splitterFor(ext).SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("splitting %s: %w", path, err)
	}

	var headings []heading
	if ext != ".txt" {
		headings = headingIndex(text)
	}

	source := filepath.Base(path)
	chunks := make([]vector.Chunk, 0, len(pieces))
	cursor := 0
	for i, piece := range pieces {
		offset := locate(text, piece, cursor)
		if offset >= 0 {
			cursor = offset + 1
		} else {
			offset = cursor
		}
		chunks = append(chunks, vector.Chunk{
			Text:    piece,
			Source:  source,
			Page:    offset/charsPerPage + 1,
			Section: sectionAt(headings, offset),
			ChunkID: strconv.Itoa(i),
		})
	}
	return chunks, nil
}

func splitterFor(ext string) textsplitter.TextSplitter {
	separators := defaultSeparators
	if ext == ".md" || ext == ".markdown" {
		separators = markdownSeparators
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(separators),
	)
}

type heading struct {
	offset int
	title  string
}

// headingIndex records every Markdown heading with its byte offset so
// chunks can be tagged with the section they fall under.
func headingIndex(text string) []heading {
	matches := headingPattern.FindAllStringSubmatchIndex(text, -1)
	headings := make([]heading, 0, len(matches))
	for _, m := range matches {
		headings = append(headings, heading{
			offset: m[0],
			title:  strings.TrimSpace(text[m[2]:m[3]]),
		})
	}
	return headings
}

// sectionAt returns the title of the last heading at or before offset.
func sectionAt(headings []heading, offset int) string {
	idx := sort.Search(len(headings), func(i int) bool {
		return headings[i].offset > offset
	})
	if idx == 0 {
		return defaultSection
	}
	return headings[idx-1].title
}

// locate finds where a chunk starts in the original text. The splitter
// trims separators, so the chunk text is a verbatim substring; a short
// prefix is enough to anchor it past the previous chunk's overlap.
func locate(text, piece string, from int) int {
	needle := piece
	if len(needle) > 80 {
		needle = needle[:80]
	}
	if from >= len(text) {
		return -1
	}
	idx := strings.Index(text[from:], needle)
	if idx < 0 {
		return -1
	}
	return from + idx
}
