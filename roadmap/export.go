package roadmap

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultExportFile is the export file name used when none is configured.
const DefaultExportFile = "mia_symbolic_export.json"

// ExportMetadata describes an export.
type ExportMetadata struct {
	ExportedAt     Timestamp `json:"exported_at"`
	TotalSymbols   int       `json:"total_symbols"`
	TotalQuestions int       `json:"total_questions"`
}

// SymbolicExport is the symbols-and-questions view of a roadmap consumed
// by external tools.
type SymbolicExport struct {
	Symbols     []string        `json:"symbols"`
	Questions   []string        `json:"questions"`
	Connections json.RawMessage `json:"connections"`
	Metadata    ExportMetadata  `json:"metadata"`
}

// Export builds the symbolic export of r.
func Export(r *Roadmap, now time.Time) SymbolicExport {
	c := r.Clone()
	c.normalize()
	return SymbolicExport{
		Symbols:     c.SortedSymbols(),
		Questions:   c.OpenQuestions,
		Connections: c.Connections,
		Metadata: ExportMetadata{
			ExportedAt:     At(now),
			TotalSymbols:   c.Symbols.Len(),
			TotalQuestions: len(c.OpenQuestions),
		},
	}
}

// WriteExport writes the symbolic export of r to path atomically.
func (s *Store) WriteExport(r *Roadmap, path string) (SymbolicExport, error) {
	exp := Export(r, s.now())

	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return exp, &PersistenceError{Op: "export", Path: path, Err: fmt.Errorf("encode: %w", err)}
	}
	data = append(data, '\n')

	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return exp, &PersistenceError{Op: "export", Path: path, Err: err}
	}

	s.logger.Info("Symbolic data exported",
		"path", path,
		"symbols", exp.Metadata.TotalSymbols,
		"questions", exp.Metadata.TotalQuestions)
	return exp, nil
}
