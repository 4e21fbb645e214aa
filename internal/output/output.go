package output

import (
	"fmt"
	"io"
	"os"

	"github.com/dshills/abigate/internal/review"
)

// Writer writes a check outcome in a specific format.
type Writer interface {
	Write(w io.Writer, out *review.Outcome) error
}

// GetWriter returns a writer for the specified format.
func GetWriter(format string) (Writer, error) {
	switch format {
	case "text", "":
		return &TextWriter{}, nil
	case "json":
		return &JSONWriter{}, nil
	case "markdown", "md":
		return &MarkdownWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteOutcome writes out to the specified output (file path or stdout).
func WriteOutcome(out *review.Outcome, format, outPath string) error {
	writer, err := GetWriter(format)
	if err != nil {
		return err
	}

	var w io.Writer
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	} else {
		w = os.Stdout
	}

	return writer.Write(w, out)
}

// title names what was checked.
func title(out *review.Outcome) string {
	if out.RequestID != "" {
		return "request " + out.RequestID
	}
	return "submission"
}

func counts(r *review.Report) (compatible, incompatible int) {
	for _, lr := range r.LibResults {
		if lr.Compatible {
			compatible++
		} else {
			incompatible++
		}
	}
	return compatible, incompatible
}
