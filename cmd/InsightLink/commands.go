package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	https_server "InsightLink/api/http"
	"InsightLink/internal/config"
	aiService "InsightLink/internal/modules/ai/application/service"
	"InsightLink/internal/modules/semantic/infrastructure/seed"
	"InsightLink/pkg/util/myjwt"
	"InsightLink/pkg/zlog"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the server",
	RunE:  runServe,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a semantic catalog file",
	RunE:  runSeed,
}

var reembedCmd = &cobra.Command{
	Use:   "reembed",
	Short: "Re-embed records produced by another model version",
	RunE:  runReembed,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a JWT for a user id",
	RunE:  runToken,
}

var (
	seedFile   string
	reembedAll bool
	tokenUser  string
	tokenName  string
)

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "configs/catalog_seed.yaml", "catalog YAML file")
	reembedCmd.Flags().BoolVar(&reembedAll, "all", false, "re-embed every record regardless of model version")
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id placed in the uuid claim")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name")
	_ = tokenCmd.MarkFlagRequired("user")
}

func runServe(cmd *cobra.Command, args []string) error {
	conf := config.GetConfig()
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := https_server.NewRuntime(ctx, conf)
	if err != nil {
		return err
	}
	defer rt.Close()

	if n, err := rt.RegisterDataSources(ctx); err != nil {
		zlog.Warn("data source registration failed", zap.Error(err))
	} else {
		zlog.Info("data sources registered", zap.Int("count", n))
	}
	if err := rt.StartBackground(ctx); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", conf.MainConfig.Host, conf.MainConfig.Port)
	srv := &http.Server{Addr: addr, Handler: https_server.NewEngine(rt)}
	errCh := make(chan error, 1)
	go func() {
		zlog.Info(fmt.Sprintf("服务器正在启动，监听地址: %s", addr))
		if conf.MainConfig.TLS {
			errCh <- srv.ListenAndServeTLS(conf.MainConfig.CertFile, conf.MainConfig.KeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	zlog.Info("正在关闭服务器...")
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server shutdown failed", zap.Error(err))
	}
	zlog.Info("服务器已关闭")
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	file, err := seed.LoadFile(seedFile)
	if err != nil {
		return err
	}
	rt, err := https_server.NewRuntime(cmd.Context(), config.GetConfig())
	if err != nil {
		return err
	}
	defer rt.Close()

	out, err := rt.Catalog.Seed(cmd.Context(), file)
	if err != nil {
		return err
	}
	n, err := rt.RegisterDataSources(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d catalog entries and %d data sources from %s\n", out.Total(), n, seedFile)
	return nil
}

func runReembed(cmd *cobra.Command, args []string) error {
	rt, err := https_server.NewRuntime(cmd.Context(), config.GetConfig())
	if err != nil {
		return err
	}
	defer rt.Close()

	n, err := rt.Store.Reembed(cmd.Context(), reembedAll)
	if err != nil {
		return err
	}
	// 向量变了，旧缓存全部作废
	if _, err := rt.Contexts.Invalidate(cmd.Context(), aiService.CacheKeyPrefix+"*"); err != nil {
		zlog.Warn("cache invalidation after reembed failed", zap.Error(err))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "re-embedded %d records\n", n)
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	name := tokenName
	if name == "" {
		name = tokenUser
	}
	tok, err := myjwt.GenerateToken(tokenUser, name)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
