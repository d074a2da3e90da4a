package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/loom-build/loom/compilation"
	"github.com/loom-build/loom/loader"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rebuild on file changes and serve bundled assets with live reload",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadProjectConfig(cmd)
		if err != nil {
			return err
		}

		addr, _ := cmd.Flags().GetString("addr")

		engine := compilation.New(cfg, loader.NewPipeline())

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		mux := http.NewServeMux()
		mux.HandleFunc("/__loom/ws", engine.Notify.ServeHTTP)
		mux.Handle("/", http.FileServer(http.Dir(cfg.OutputDir)))
		server := &http.Server{Addr: addr, Handler: mux}

		go func() {
			pterm.Info.Printf("Dev server listening on %s\n", addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				pterm.Error.Printf("dev server: %v\n", err)
			}
		}()

		go func() {
			<-ctx.Done()
			_ = server.Close()
		}()

		if err := engine.Watch(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("watch failed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringP("output", "o", "", "output directory (overrides config)")
	watchCmd.Flags().String("addr", ":8080", "address the dev server listens on")
}
