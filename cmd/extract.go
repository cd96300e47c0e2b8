package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/gwr-relay/internal/fetcher"
	"github.com/sells-group/gwr-relay/internal/gwr"
)

var (
	extractLink    string
	extractCharset string
	extractFormat  string
)

var extractCmd = &cobra.Command{
	Use:   "extract <file|->",
	Short: "Extract a record from a saved register popup HTML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("extract"); err != nil {
			return err
		}

		data, err := readInput(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}

		contentType := ""
		if extractCharset != "" {
			contentType = "text/html; charset=" + extractCharset
		}
		rec := gwr.Extract(fetcher.DecodeBody(data, contentType), extractLink)
		return writeRecord(cmd.OutOrStdout(), rec, extractFormat)
	},
}

// readInput reads path, or stdin when path is "-".
func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		return data, eris.Wrap(err, "read stdin")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return data, nil
}

func init() {
	extractCmd.Flags().StringVar(&extractLink, "link", "", "source URL to record under source_url")
	extractCmd.Flags().StringVar(&extractCharset, "charset", "", "input charset, e.g. iso-8859-1 (default utf-8)")
	extractCmd.Flags().StringVar(&extractFormat, "format", "json", "output format: json, yaml or geojson")
	rootCmd.AddCommand(extractCmd)
}
