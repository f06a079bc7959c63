package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tessera/internal/model"
	"github.com/roach88/tessera/internal/schema"
)

// ValidationResult is the validate command's JSON payload.
type ValidationResult struct {
	Valid    bool                  `json:"valid"`
	Types    []TypeSummary         `json:"types"`
	Warnings []schema.CycleWarning `json:"warnings"`
}

// TypeSummary describes one compiled entity type.
type TypeSummary struct {
	Name       string             `json:"name"`
	Attributes []AttributeSummary `json:"attributes"`
}

// AttributeSummary describes one attribute descriptor.
type AttributeSummary struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	Flags     []string `json:"flags,omitempty"`
	Default   string   `json:"default,omitempty"`
	Condition string   `json:"active_when,omitempty"`
}

// SchemaErrorDetail locates a schema error.
type SchemaErrorDetail struct {
	Field  string `json:"field"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema>",
		Short: "Compile entity type declarations",
		Long: `Compile a CUE schema file or package directory and list its entity
types.

Conditions that depend on each other are reported as warnings.

Exit codes:
  0 - Schema is valid (possibly with warnings)
  1 - Schema failed to compile
  2 - Command error (path not found)

Examples:
  tessera validate ./schema
  tessera validate ./schema/toggle.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if _, err := os.Stat(path); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("schema not found: %s", path), nil)
	}

	reg, err := compileSchema(path)
	if err != nil {
		var compileErr *schema.CompileError
		if errors.As(err, &compileErr) {
			detail := SchemaErrorDetail{Field: compileErr.Field}
			if compileErr.Pos.IsValid() {
				detail.File = compileErr.Pos.Filename()
				detail.Line = compileErr.Pos.Line()
				detail.Column = compileErr.Pos.Column()
			}
			if formatter.JSON() {
				if err := formatter.Error(ErrCodeSchema, compileErr.Message, detail); err != nil {
					return err
				}
				return WrapExitError(ExitFailure, "schema invalid", err)
			}
		}
		return formatter.Fail(ExitFailure, ErrCodeSchema, err.Error(), nil)
	}

	result := ValidationResult{
		Valid:    true,
		Types:    summarize(reg),
		Warnings: reg.ActivationCycles(),
	}
	formatter.VerboseLog("Compiled %d type(s) from %s", len(result.Types), path)

	if formatter.JSON() {
		return formatter.Success(result)
	}
	writeValidationText(cmd.OutOrStdout(), result, opts.Verbose)
	return nil
}

// compileSchema compiles a single CUE file or a CUE package directory.
func compileSchema(path string) (*schema.Registry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return schema.LoadDir(path)
	}
	return schema.CompileFile(path)
}

var flagLabels = []struct {
	flag  model.Flags
	label string
}{
	{model.FlagIdentifier, "identifier"},
	{model.FlagNeverNull, "never_null"},
	{model.FlagOptional, "optional"},
	{model.FlagPrivate, "private"},
}

func summarize(reg *schema.Registry) []TypeSummary {
	names := reg.Names()
	out := make([]TypeSummary, 0, len(names))
	for _, name := range names {
		typ, _ := reg.Lookup(name)
		summary := TypeSummary{Name: name, Attributes: []AttributeSummary{}}
		for _, d := range typ.Descriptors() {
			attr := AttributeSummary{Name: d.Name(), Kind: d.Kind().String()}
			for _, fl := range flagLabels {
				if d.Flags().Has(fl.flag) {
					attr.Flags = append(attr.Flags, fl.label)
				}
			}
			if def := d.Default(); !model.IsNull(def) {
				attr.Default = model.Format(def)
			}
			if cond, ok := d.Condition().(fmt.Stringer); ok {
				attr.Condition = cond.String()
			}
			summary.Attributes = append(summary.Attributes, attr)
		}
		out = append(out, summary)
	}
	return out
}

func writeValidationText(w io.Writer, result ValidationResult, verbose bool) {
	fmt.Fprintf(w, "✓ Schema valid: %d type(s)\n", len(result.Types))
	for _, typ := range result.Types {
		fmt.Fprintf(w, "  %s (%d attributes)\n", typ.Name, len(typ.Attributes))
		if !verbose {
			continue
		}
		for _, attr := range typ.Attributes {
			line := fmt.Sprintf("    %s: %s", attr.Name, attr.Kind)
			if len(attr.Flags) > 0 {
				line += " [" + strings.Join(attr.Flags, ", ") + "]"
			}
			if attr.Default != "" {
				line += " = " + attr.Default
			}
			if attr.Condition != "" {
				line += " when " + attr.Condition
			}
			fmt.Fprintln(w, line)
		}
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "⚠ %s\n", warning.Message)
	}
}
