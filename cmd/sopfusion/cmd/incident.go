package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/sopfusion/internal/search"
)

// incidentFlags collects an incident from flags or from a JSON/YAML file.
type incidentFlags struct {
	file     string
	id       string
	summary  string
	module   string
	code     string
	entities []string
	notes    string
}

func (f *incidentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.file, "incident", "", "Incident file (JSON or YAML); flags override its fields")
	cmd.Flags().StringVar(&f.id, "id", "", "Incident ID")
	cmd.Flags().StringVarP(&f.summary, "summary", "s", "", "Problem summary")
	cmd.Flags().StringVarP(&f.module, "module", "m", "", "Affected module")
	cmd.Flags().StringVar(&f.code, "error-code", "", "Error code reported by the system")
	cmd.Flags().StringArrayVarP(&f.entities, "entity", "e", nil, "Entity as type=value (repeatable)")
	cmd.Flags().StringVar(&f.notes, "notes", "", "Additional notes")
}

// incident builds the IncidentContext. args, when given, are joined into the
// summary.
func (f *incidentFlags) incident(args []string) (search.IncidentContext, error) {
	var inc search.IncidentContext
	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return inc, fmt.Errorf("failed to read incident file: %w", err)
		}
		if err := yaml.Unmarshal(data, &inc); err != nil {
			return inc, fmt.Errorf("failed to parse incident file %s: %w", f.file, err)
		}
	}

	override(&inc.IncidentID, f.id)
	override(&inc.ProblemSummary, f.summary)
	override(&inc.ProblemSummary, strings.Join(args, " "))
	override(&inc.AffectedModule, f.module)
	override(&inc.ErrorCode, f.code)
	override(&inc.AdditionalNotes, f.notes)

	for _, raw := range f.entities {
		typ, value, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(typ) == "" || strings.TrimSpace(value) == "" {
			return inc, fmt.Errorf("invalid entity %q: expected type=value", raw)
		}
		inc.Entities = append(inc.Entities, search.Entity{
			Type:  strings.TrimSpace(typ),
			Value: strings.TrimSpace(value),
		})
	}

	if strings.TrimSpace(inc.ProblemSummary) == "" {
		return inc, fmt.Errorf("a problem summary is required (--summary, positional text or --incident)")
	}
	return inc, nil
}

func override(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
