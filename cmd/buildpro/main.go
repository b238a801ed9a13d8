package main

import (
	"fmt"
	"os"

	"github.com/amrishkapoor-tt/buildpro-backend-sub001/internal/cli"
	internal_http "github.com/amrishkapoor-tt/buildpro-backend-sub001/internal/http"
	"github.com/amrishkapoor-tt/buildpro-backend-sub001/internal/log"
	internal_storage "github.com/amrishkapoor-tt/buildpro-backend-sub001/internal/storage"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "buildpro"}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the workflow HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		dbConnStr, _ := cmd.Flags().GetString("db")
		port, _ := cmd.Flags().GetString("port")
		store, err := internal_storage.NewPostgresStore(dbConnStr)
		if err != nil {
			log.GetLogger().Errorf("Failed to initialize store: %v", err)
			os.Exit(1)
		}
		defer store.Close()
		if err := internal_http.StartServer(port, store); err != nil {
			log.GetLogger().Errorf("Server failed: %v", err)
			os.Exit(1)
		}
	},
}

func main() {
	rootCmd.PersistentFlags().String("db", "", "Database connection string")
	serveCmd.Flags().String("port", "8080", "HTTP listen port")
	rootCmd.AddCommand(serveCmd)
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
