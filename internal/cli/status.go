package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/iancoleman/orderedmap"
	"github.com/spf13/cobra"

	"github.com/tessro/tinymon/internal/logging"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show supervisor status",
	Long:  "Display the state of the running supervisor and its child.",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	client, err := ConnectClient()
	if err != nil {
		if errors.Is(err, ErrNotRunning) {
			fmt.Fprintln(out, logging.Format(logging.KindEvent, "not running"))
			return nil
		}
		return err
	}
	defer client.Close()

	fields, err := client.Status()
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	if statusJSON {
		data, err := json.MarshalIndent(fields, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	return printFields(out, fields)
}

// printFields writes ordered fields as aligned "key = value" lines.
func printFields(w io.Writer, fields *orderedmap.OrderedMap) error {
	keys := fields.Keys()
	width := 0
	for _, k := range keys {
		width = max(width, len(k))
	}

	var b strings.Builder
	for _, k := range keys {
		v, _ := fields.Get(k)
		fmt.Fprintf(&b, "%-*s = %s\n", width, k, formatValue(v))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "[]"
	case string:
		if v == "" {
			return "undefined"
		}
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = formatValue(item)
		}
		return "[" + strings.Join(parts, " ") + "]"
	default:
		return fmt.Sprint(v)
	}
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print status as JSON")
	rootCmd.AddCommand(statusCmd)
}
