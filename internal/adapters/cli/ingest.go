package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newIngestCommand(v *viper.Viper, load Loader) *cobra.Command {
	var enqueue bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest every PDF, text and markdown file of a folder",
		Long: `Converts each file, extracts súmula metadata and up to three typed
chunks with the language model, and writes them to the vector collection.
With --enqueue the files are handed to the ingestion workers instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			collection := v.GetString("collection")
			source := v.GetString("source")

			return withServices(cmd.Context(), load, enqueue, func(svc *Services) error {
				if enqueue {
					n, err := svc.Ingestor.Enqueue(cmd.Context(), collection, source)
					if err != nil {
						return err
					}
					cmd.Printf("%d arquivos enviados para a fila de ingestão.\n", n)
					return nil
				}

				summary, err := svc.Ingestor.RunIngestion(cmd.Context(), collection, source)
				if err != nil {
					return err
				}
				if summary.Files == 0 {
					cmd.Println("Nenhum documento encontrado na pasta.")
					return nil
				}
				cmd.Printf("%d PDFs processados. %d chunks inseridos.\n", summary.Processed, summary.Chunks)
				if summary.Skipped > 0 {
					cmd.Printf("%d arquivos ignorados por erro.\n", summary.Skipped)
				}
				return nil
			})
		},
	}

	cmd.Flags().String("collection", "", "vector collection name (env QDRANT_COLLECTION)")
	cmd.Flags().String("source", "", "folder with the source documents (env SOURCE_FOLDER)")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "publish the files to the ingestion queue")
	_ = v.BindPFlag("collection", cmd.Flags().Lookup("collection"))
	_ = v.BindPFlag("source", cmd.Flags().Lookup("source"))
	return cmd
}
