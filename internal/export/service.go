package export

import (
	"fmt"
	"html/template"
)

// Service turns file documents into downloadable artifacts.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Export generates an export of the document in the requested format.
func (s *Service) Export(doc Document, format Format) (*Result, error) {
	switch format {
	case FormatMarkdown:
		markdown, err := DeltaToMarkdown(doc.Data)
		if err != nil {
			return nil, err
		}
		body := fmt.Sprintf("# %s\n\n%s", doc.Title, markdown)
		return &Result{
			Data:     []byte(body),
			Filename: sanitizeFilename(doc.Title) + ".md",
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	case FormatHTML:
		page, err := s.renderPage(doc)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     []byte(page),
			Filename: sanitizeFilename(doc.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		page, err := s.renderPage(doc)
		if err != nil {
			return nil, err
		}
		return exportPDF(page, doc.Title)
	case FormatDOCX:
		page, err := s.renderPage(doc)
		if err != nil {
			return nil, err
		}
		return exportDOCX(page, doc.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func (s *Service) renderPage(doc Document) (string, error) {
	fragment, err := DeltaToHTML(doc.Data)
	if err != nil {
		return "", err
	}
	return RenderDocumentHTML(TemplateData{
		Title:          doc.Title,
		WorkspaceTitle: doc.WorkspaceTitle,
		Author:         doc.Author,
		UpdatedAt:      doc.UpdatedAt,
		ContentHTML:    template.HTML(fragment),
	})
}
