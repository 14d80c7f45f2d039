package schema

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported document file extensions.
var documentExts = map[string]bool{
	".md":   true,
	".yaml": true,
	".yml":  true,
	".json": true,
}

// IsDocumentFile reports whether path has an extension the readers understand.
func IsDocumentFile(path string) bool {
	return documentExts[strings.ToLower(filepath.Ext(path))]
}

// IDFromPath derives a document id from a file name: "notes/a.md" -> "a".
func IDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ReadDocumentFile reads and parses a document from the given path.
//
// Markdown files carry YAML front matter followed by the content body.
// YAML and JSON files carry {id, content, metadata} directly. When no id is
// present the file name (without extension) is used.
func ReadDocumentFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document file %s: %w", path, err)
	}

	var doc *Document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md":
		doc, err = parseMarkdown(data)
	case ".yaml", ".yml":
		doc, err = parseYAML(data)
	case ".json":
		doc = &Document{}
		err = json.Unmarshal(data, doc)
	default:
		return nil, fmt.Errorf("unsupported document file %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse document file %s: %w", path, err)
	}

	if doc.ID == "" {
		doc.ID = IDFromPath(path)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid document file %s: %w", path, err)
	}
	return doc, nil
}

// WriteDocumentFile writes doc as a Markdown file with YAML front matter.
// The file is written to dir/{id}.md.
func WriteDocumentFile(dir string, doc *Document) (string, error) {
	if err := doc.Validate(); err != nil {
		return "", fmt.Errorf("cannot write invalid document: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create documents directory: %w", err)
	}

	front := map[string]string{"id": doc.ID}
	for k, v := range doc.Metadata {
		front[k] = v
	}
	header, err := yaml.Marshal(front)
	if err != nil {
		return "", fmt.Errorf("failed to marshal front matter for %s: %w", doc.ID, err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(header)
	buf.WriteString("---\n")
	buf.WriteString(doc.Content)

	path := filepath.Join(dir, doc.ID+".md")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write document file %s: %w", path, err)
	}
	return path, nil
}

// ReadAllDocumentFiles reads every document file below dir.
// Invalid files are skipped with a warning to stderr. Results are sorted by id.
func ReadAllDocumentFiles(dir string) ([]Document, error) {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return []Document{}, nil
		}
		return nil, fmt.Errorf("failed to read documents directory: %w", err)
	}

	var docs []Document
	err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if path != dir && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsDocumentFile(path) {
			return nil
		}
		doc, err := ReadDocumentFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping invalid document file %s: %v\n", entry.Name(), err)
			return nil
		}
		docs = append(docs, *doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk documents directory: %w", err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// ReadDocumentsJSONL reads one JSON document per line.
// Blank lines are ignored; any malformed line fails the whole read.
func ReadDocumentsJSONL(path string) ([]Document, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	var docs []Document
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var doc Document
		if err := json.Unmarshal(line, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse line %d: %w", lineNum, err)
		}
		if err := doc.Validate(); err != nil {
			return nil, fmt.Errorf("invalid document on line %d: %w", lineNum, err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL file: %w", err)
	}
	return docs, nil
}

func parseMarkdown(data []byte) (*Document, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return &Document{Content: text}, nil
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, fmt.Errorf("unterminated front matter")
	}
	header := rest[:end]
	body := strings.TrimPrefix(rest[end+len("\n---"):], "\n")

	var front map[string]any
	if err := yaml.Unmarshal([]byte(header), &front); err != nil {
		return nil, fmt.Errorf("invalid front matter: %w", err)
	}

	doc := &Document{Content: body, Metadata: map[string]string{}}
	for k, v := range front {
		if k == "id" {
			doc.ID = scalarString(v)
			continue
		}
		doc.Metadata[k] = scalarString(v)
	}
	if len(doc.Metadata) == 0 {
		doc.Metadata = nil
	}
	return doc, nil
}

func parseYAML(data []byte) (*Document, error) {
	var raw struct {
		ID       string         `yaml:"id"`
		Content  string         `yaml:"content"`
		Metadata map[string]any `yaml:"metadata"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	doc := &Document{ID: raw.ID, Content: raw.Content}
	if len(raw.Metadata) > 0 {
		doc.Metadata = make(map[string]string, len(raw.Metadata))
		for k, v := range raw.Metadata {
			doc.Metadata[k] = scalarString(v)
		}
	}
	return doc, nil
}

// scalarString flattens a YAML value into a metadata string.
// Lists become comma-separated so relationship keys can be written either way.
func scalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, elem := range val {
			parts = append(parts, scalarString(elem))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(val)
	}
}
