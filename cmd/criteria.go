package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/calibration-cli/internal/criteria"
)

var criteriaCmd = &cobra.Command{
	Use:   "criteria",
	Short: "Print the active acceptance criteria table as YAML",
	Long:  "Prints the table in the criteria file format, so the output can be edited and loaded back through criteria.file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := initCatalog()
		if err != nil {
			return err
		}
		return writeCriteria(os.Stdout, catalog.Table())
	},
}

func init() {
	rootCmd.AddCommand(criteriaCmd)
}

func writeCriteria(w io.Writer, table criteria.Table) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	doc := struct {
		Criteria criteria.Table `yaml:"criteria"`
	}{table}
	if err := enc.Encode(doc); err != nil {
		return eris.Wrap(err, "criteria: encode")
	}
	return enc.Close()
}
