//go:build ignore

// Package main generates synthetic document exports for import benchmarks.
// Usage: go run scripts/generate-test-corpus.go -files 20 -entries 500 -output testdata/bench
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numFiles   = flag.Int("files", 20, "Number of export files to generate")
	numEntries = flag.Int("entries", 500, "Entries per file")
	outputDir  = flag.String("output", "testdata/bench", "Output directory")
	seed       = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var equipment = []string{"变压器", "断路器", "隔离开关", "电流互感器", "避雷器", "电容器", "电抗器", "母线"}

var procedures = []string{"检修规程", "巡视要求", "试验项目", "验收标准", "缺陷处理", "运行维护"}

var latinTerms = []string{"circuit breaker", "transformer oil", "insulation resistance", "relay protection", "grounding", "SF6 pressure"}

type entry struct {
	EntryID         string   `json:"entryId"`
	JobTitle        string   `json:"jobTitle,omitempty"`
	UnitName        string   `json:"unitName,omitempty"`
	ContentMarkdown string   `json:"contentMarkdown"`
	Position        int      `json:"position"`
	PageNumber      int      `json:"pageNumber"`
	Tags            []string `json:"tags,omitempty"`
	ImageURIs       []string `json:"imageUris,omitempty"`
}

type export struct {
	FileMetadata map[string]any `json:"fileMetadata"`
	Entries      []entry        `json:"entries"`
}

func pick(r *rand.Rand, xs []string) string {
	return xs[r.Intn(len(xs))]
}

func paragraph(r *rand.Rand) string {
	var b strings.Builder
	for i := 0; i < 3+r.Intn(4); i++ {
		fmt.Fprintf(&b, "%s%s应检查%s，记录%d项数据。", pick(r, equipment), pick(r, procedures), pick(r, latinTerms), 1+r.Intn(20))
	}
	return b.String()
}

// table emits a markdown table; every fifth one is left unfenced inside a
// code block so the importer's table repair gets exercised.
func table(r *rand.Rand, n int) string {
	var b strings.Builder
	b.WriteString("| 项目 | 标准值 | 单位 |\n|---|---|---|\n")
	for i := 0; i < 2+r.Intn(5); i++ {
		fmt.Fprintf(&b, "| %s | %d | MΩ |\n", pick(r, equipment), 100+r.Intn(900))
	}
	if n%5 == 0 {
		return "```\n" + b.String() + "```"
	}
	return b.String()
}

func generateEntry(r *rand.Rand, file, n int) entry {
	e := entry{
		EntryID:    fmt.Sprintf("f%03d-e%05d", file, n),
		Position:   n + 1,
		PageNumber: 1 + n/8,
	}
	switch {
	case n%17 == 0:
		// image carrier, suppressed from search by the default patterns
		e.EntryID = fmt.Sprintf("img-f%03d-%05d", file, n)
		e.ImageURIs = []string{fmt.Sprintf("images/f%03d/%05d.png", file, n)}
		e.ContentMarkdown = fmt.Sprintf("![](images/f%03d/%05d.png)", file, n)
	case n%7 == 0:
		e.UnitName = fmt.Sprintf("%s %s", pick(r, equipment), pick(r, procedures))
		e.ContentMarkdown = paragraph(r) + "\n\n" + table(r, n)
	default:
		e.JobTitle = fmt.Sprintf("%s%s", pick(r, equipment), pick(r, procedures))
		e.ContentMarkdown = paragraph(r)
		e.Tags = []string{pick(r, equipment)}
	}
	return e
}

func main() {
	flag.Parse()
	r := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generating %d exports of %d entries in %s...\n", *numFiles, *numEntries, *outputDir)

	generated := 0
	for i := 0; i < *numFiles; i++ {
		doc := export{
			FileMetadata: map[string]any{"category": pick(r, procedures), "source": fmt.Sprintf("manual-%03d.pdf", i)},
			Entries:      make([]entry, 0, *numEntries),
		}
		for n := 0; n < *numEntries; n++ {
			doc.Entries = append(doc.Entries, generateEntry(r, i, n))
		}

		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding export %d: %v\n", i, err)
			continue
		}
		path := filepath.Join(*outputDir, fmt.Sprintf("manual-%03d.json", i))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", path, err)
			continue
		}
		generated++
	}

	fmt.Printf("Generated %d exports successfully.\n", generated)
}
