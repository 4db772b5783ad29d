package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/common"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

// ConvertHandler normalizes source payloads into markdown and creates the
// document record. Unsupported formats fail permanently; retrying cannot
// change what a file is.
type ConvertHandler struct {
	objects   interfaces.ObjectStore
	documents interfaces.DocumentStorage
	tempDir   string
	logger    arbor.ILogger
}

// NewConvertHandler creates the convert stage handler.
func NewConvertHandler(objects interfaces.ObjectStore, documents interfaces.DocumentStorage, logger arbor.ILogger) *ConvertHandler {
	tempDir := filepath.Join(os.TempDir(), "corpus-convert")
	os.MkdirAll(tempDir, 0o755)
	return &ConvertHandler{
		objects:   objects,
		documents: documents,
		tempDir:   tempDir,
		logger:    logger,
	}
}

func (h *ConvertHandler) Stage() models.Stage {
	return models.StageConvert
}

func (h *ConvertHandler) Process(ctx context.Context, job *models.Job, progress ProgressFunc) (*Result, error) {
	payload, err := h.objects.Get(ctx, job.SourceRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load source payload: %w", err)
	}
	progress.report(10)

	format := detectFormat(job.SourceRef, payload)
	var markdown string

	switch format {
	case "markdown":
		markdown = string(payload)
	case "text":
		markdown = string(payload)
	case "html":
		markdown, err = h.convertHTML(string(payload))
		if err != nil {
			return nil, fmt.Errorf("html conversion failed: %w", err)
		}
	case "pdf":
		markdown, err = h.convertPDF(payload)
		if err != nil {
			return nil, fmt.Errorf("pdf conversion failed: %w", err)
		}
	default:
		return nil, Permanent(fmt.Errorf("unsupported source format: %s", filepath.Ext(job.SourceRef)))
	}

	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return nil, Permanent(fmt.Errorf("source produced no content"))
	}
	progress.report(60)

	// Idempotent on redelivery: reuse the document a prior attempt created.
	docID := job.DocumentID
	if docID == "" {
		if existing, err := h.documents.GetByJobID(ctx, job.ID); err == nil {
			docID = existing.ID
		} else {
			docID = common.NewDocumentID()
		}
	}

	doc := &models.Document{
		ID:              docID,
		JobID:           job.ID,
		SourceRef:       job.SourceRef,
		Title:           deriveTitle(job.SourceRef, markdown),
		ContentMarkdown: markdown,
	}
	if err := h.documents.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}
	progress.report(85)

	convertedKey := fmt.Sprintf("converted/%s.md", docID)
	if err := h.objects.Put(ctx, convertedKey, []byte(markdown)); err != nil {
		return nil, fmt.Errorf("failed to store converted output: %w", err)
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Str("document_id", docID).
		Str("format", format).
		Int("markdown_bytes", len(markdown)).
		Msg("Source converted to markdown")

	return &Result{
		Output:     fmt.Sprintf("converted %s (%d bytes markdown)", format, len(markdown)),
		DocumentID: docID,
	}, nil
}

func (h *ConvertHandler) convertHTML(html string) (string, error) {
	converter := md.NewConverter("", true, nil)
	return converter.ConvertString(html)
}

// convertPDF extracts page content via pdfcpu, which works on files rather
// than byte slices, so the payload round-trips through a temp directory. Each
// call gets its own directory; concurrent workers must never share paths.
func (h *ConvertHandler) convertPDF(payload []byte) (string, error) {
	workDir, err := os.MkdirTemp(h.tempDir, "convert-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	tempFile := filepath.Join(workDir, "source.pdf")
	if err := os.WriteFile(tempFile, payload, 0o644); err != nil {
		return "", fmt.Errorf("failed to write temp pdf: %w", err)
	}

	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return "", fmt.Errorf("failed to read pdf: %w", err)
	}

	outDir := filepath.Join(workDir, "pages")
	os.MkdirAll(outDir, 0o755)

	if err := api.ExtractContentFile(tempFile, outDir, nil, model.NewDefaultConfiguration()); err != nil {
		return "", fmt.Errorf("failed to extract pdf content: %w", err)
	}

	pageTexts := make(map[int]string)
	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(content)
		}
	}

	var text strings.Builder
	for pageNum := 1; pageNum <= pdfCtx.PageCount; pageNum++ {
		page, ok := pageTexts[pageNum]
		if !ok || strings.TrimSpace(page) == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(strings.TrimSpace(page))
	}
	return text.String(), nil
}

// detectFormat uses the source extension first and falls back to content
// sniffing for extensionless refs.
func detectFormat(sourceRef string, payload []byte) string {
	switch strings.ToLower(filepath.Ext(sourceRef)) {
	case ".md", ".markdown":
		return "markdown"
	case ".txt":
		return "text"
	case ".html", ".htm":
		return "html"
	case ".pdf":
		return "pdf"
	case "":
		// fall through to sniffing
	default:
		return "unknown"
	}

	head := strings.TrimSpace(string(payload[:min(len(payload), 512)]))
	lower := strings.ToLower(head)
	switch {
	case strings.HasPrefix(head, "%PDF-"):
		return "pdf"
	case strings.HasPrefix(lower, "<!doctype html"), strings.HasPrefix(lower, "<html"):
		return "html"
	case head != "":
		return "text"
	default:
		return "unknown"
	}
}

// deriveTitle prefers the first markdown heading, then the source filename.
func deriveTitle(sourceRef, markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
		}
	}
	base := filepath.Base(sourceRef)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
