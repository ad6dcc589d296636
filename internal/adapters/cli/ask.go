package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
)

func newAskCommand(v *viper.Viper, load Loader) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the ingested súmulas",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			k := v.GetInt("k")

			return withServices(cmd.Context(), load, false, func(svc *Services) error {
				stream, err := svc.Workflow.Run(cmd.Context(), question, k)
				if err != nil {
					return err
				}
				defer stream.Close()

				out := cmd.OutOrStdout()
				for {
					ev, err := stream.Recv()
					if errors.Is(err, io.EOF) {
						return nil
					}
					if err != nil {
						fmt.Fprintln(out)
						return err
					}
					if asJSON {
						if err := json.NewEncoder(out).Encode(ev); err != nil {
							return err
						}
						continue
					}
					printEvent(out, ev)
				}
			})
		},
	}

	cmd.Flags().Int("k", 0, "number of chunks to retrieve (env RAG_TOP_K)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw events as JSON lines")
	_ = v.BindPFlag("k", cmd.Flags().Lookup("k"))
	return cmd
}

func printEvent(w io.Writer, ev domain.Event) {
	switch ev.Type {
	case domain.EventDetails:
		if d, ok := ev.Data.(domain.QueryDetails); ok {
			fmt.Fprintf(w, "Consulta: %s\nFiltro: %s\n\n", d.Query, d.Filter)
		}
	case domain.EventToken:
		if tok, ok := ev.Data.(string); ok {
			fmt.Fprint(w, tok)
		}
	case domain.EventSources:
		sources, _ := ev.Data.([]domain.Source)
		fmt.Fprintln(w)
		if len(sources) == 0 {
			return
		}
		fmt.Fprintln(w, "\nFontes:")
		for _, s := range sources {
			fmt.Fprintf(w, "- Súmula %s (%s, %s) %s\n", s.NumSumula, s.StatusAtual, s.DataStatus, s.PDFName)
		}
	}
}
