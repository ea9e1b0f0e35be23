package indexer

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// chunkGoSource parses src with go/parser and emits one Chunk per top-level
// func/type declaration, with the preceding doc comment (if any) as the
// docstring. Returns ok=false when the file fails to parse, so the caller
// falls back to line-based chunking.
func chunkGoSource(relPath string, src []byte) (chunks []Chunk, ok bool) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, relPath, src, parser.ParseComments)
	if err != nil {
		return nil, false
	}

	lines := strings.Split(string(src), "\n")
	sliceLines := func(startLine, endLine int) string {
		if startLine < 1 {
			startLine = 1
		}
		if endLine > len(lines) {
			endLine = len(lines)
		}
		if startLine > endLine {
			return ""
		}
		return strings.Join(lines[startLine-1:endLine], "\n")
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			start := fset.Position(d.Pos()).Line
			end := fset.Position(d.End()).Line
			name := d.Name.Name
			if d.Recv != nil && len(d.Recv.List) > 0 {
				name = receiverName(d.Recv.List[0].Type) + "." + name
			}
			doc := ""
			if d.Doc != nil {
				doc = strings.TrimSpace(d.Doc.Text())
				start = fset.Position(d.Doc.Pos()).Line
			}
			chunkType := "function"
			if d.Recv != nil {
				chunkType = "method"
			}
			chunks = append(chunks, newChunk(relPath, "go", chunkType, name, start, end, doc, sliceLines(start, end)))
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				ts, isType := spec.(*ast.TypeSpec)
				if !isType {
					continue
				}
				start := fset.Position(d.Pos()).Line
				end := fset.Position(spec.End()).Line
				doc := ""
				if d.Doc != nil {
					doc = strings.TrimSpace(d.Doc.Text())
					start = fset.Position(d.Doc.Pos()).Line
				} else if ts.Doc != nil {
					doc = strings.TrimSpace(ts.Doc.Text())
				}
				chunks = append(chunks, newChunk(relPath, "go", "type", ts.Name.Name, start, end, doc, sliceLines(start, end)))
			}
		}
	}

	if len(chunks) == 0 {
		return nil, false
	}
	return chunks, true
}

func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.Ident:
		return t.Name
	default:
		return "?"
	}
}
