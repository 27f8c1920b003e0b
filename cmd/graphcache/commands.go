package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/hanpama/graphcache/internal/cache"
	"github.com/hanpama/graphcache/internal/config"
	"github.com/hanpama/graphcache/internal/ctxlog"
	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/gc"
	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/otel"
	"github.com/hanpama/graphcache/internal/pending"
	"github.com/hanpama/graphcache/internal/persist"
	"github.com/hanpama/graphcache/internal/query"
	"github.com/hanpama/graphcache/internal/server"
	"github.com/hanpama/graphcache/internal/transport"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "graphcache",
		Short: "graphcache - normalized GraphQL record cache",
		Long: `graphcache keeps GraphQL responses as normalized records in a snapshot
and answers which parts of a query still have to be fetched.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", os.Getenv("GRAPHCACHE_CONFIG"), "YAML config file")
	rootCmd.PersistentFlags().String("schema", os.Getenv("GRAPHCACHE_SCHEMA"), "GraphQL SDL file queries are validated against")

	loadCmd := &cobra.Command{
		Use:   "load",
		Short: "Write a query response into the snapshot",
		RunE:  runLoad,
	}
	loadCmd.Flags().String("query", "", "File holding the GraphQL query (required)")
	loadCmd.Flags().String("data", "", "File holding the JSON response (required)")
	loadCmd.Flags().String("variables", "", "Query variables as a JSON object")
	loadCmd.Flags().String("operation", "", "Operation name")
	_ = loadCmd.MarkFlagRequired("query")
	_ = loadCmd.MarkFlagRequired("data")
	rootCmd.AddCommand(loadCmd)

	diffCmd := &cobra.Command{
		Use:   "diff",
		Short: "Print the queries still needed to read a query from the snapshot",
		RunE:  runDiff,
	}
	diffCmd.Flags().String("query", "", "File holding the GraphQL query (required)")
	diffCmd.Flags().String("variables", "", "Query variables as a JSON object")
	diffCmd.Flags().String("operation", "", "Operation name")
	_ = diffCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(diffCmd)

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch what a query still needs from the configured network and save it",
		RunE:  runFetch,
	}
	fetchCmd.Flags().String("query", "", "File holding the GraphQL query (required)")
	fetchCmd.Flags().String("variables", "", "Query variables as a JSON object")
	fetchCmd.Flags().String("operation", "", "Operation name")
	_ = fetchCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(fetchCmd)

	gcCmd := &cobra.Command{
		Use:   "gc",
		Short: "Remove records no retained ID reaches",
		RunE:  runGC,
	}
	gcCmd.Flags().StringSlice("retain", nil, "Record IDs to keep, with everything they reach")
	gcCmd.Flags().String("from", "", "Only collect records reachable from this ID")
	rootCmd.AddCommand(gcCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the inspection API",
		RunE:  runServe,
	}
	serveCmd.Flags().String("addr", "", "HTTP listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)

	return rootCmd
}

// env is what every command shares: settings, a cache restored from the
// snapshot, and the snapshot itself.
type env struct {
	cfg      *config.Config
	log      *slog.Logger
	bus      *eventbus.Bus
	cache    *cache.Cache
	snapshot *persist.Snapshot
	schema   *language.Schema
	network  *transport.Transport
}

func setup(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	level, _ := cfg.Log.SlogLevel()
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	e := &env{cfg: cfg, log: log, bus: eventbus.New()}
	if schemaPath, _ := cmd.Flags().GetString("schema"); schemaPath != "" {
		sdl, err := os.ReadFile(schemaPath)
		if err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
		e.schema, err = language.LoadSchema(&ast.Source{Name: schemaPath, Input: string(sdl)})
		if err != nil {
			return nil, fmt.Errorf("load schema: %w", err)
		}
	}

	e.snapshot, err = persist.Open(cfg.Snapshot.Path, persist.WithLogger(log))
	if err != nil {
		return nil, err
	}
	copts := []cache.Option{
		cache.WithScheduler(cfg.GC.SchedulerFunc()),
		cache.WithStepLength(cfg.GC.StepLength),
		cache.WithLogger(log),
		cache.WithBus(e.bus),
	}
	if len(cfg.Network.Endpoints) > 0 {
		e.network = transport.New(
			transport.WithProvider(transport.NewStaticEndpoints(cfg.Network.Endpoints...)),
			transport.WithRequestTimeout(cfg.Network.Timeout),
			transport.WithMaxConnsPerEndpoint(cfg.Network.MaxConns),
		)
		copts = append(copts, cache.WithNetwork(e.network))
	}
	e.cache = cache.New(copts...)
	if err := e.snapshot.Load(e.cache.Records(), e.cache.RootCalls()); err != nil {
		_ = e.snapshot.Close()
		return nil, err
	}
	return e, nil
}

func (e *env) context(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, e.log)
}

func (e *env) save() error {
	return e.snapshot.Save(e.cache.Records(), e.cache.RootCalls())
}

func (e *env) close() {
	if e.network != nil {
		_ = e.network.Close()
	}
	_ = e.snapshot.Close()
}

func (e *env) build(cmd *cobra.Command) ([]*query.Root, error) {
	if e.schema == nil {
		return nil, errors.New("--schema is required")
	}
	queryPath, _ := cmd.Flags().GetString("query")
	src, err := os.ReadFile(queryPath)
	if err != nil {
		return nil, fmt.Errorf("read query: %w", err)
	}
	vars := map[string]any{}
	if raw, _ := cmd.Flags().GetString("variables"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &vars); err != nil {
			return nil, fmt.Errorf("parse variables: %w", err)
		}
	}
	operation, _ := cmd.Flags().GetString("operation")
	return language.Build(e.schema, string(src), operation, vars)
}

func runLoad(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	roots, err := e.build(cmd)
	if err != nil {
		return err
	}
	dataPath, _ := cmd.Flags().GetString("data")
	raw, err := os.ReadFile(dataPath)
	if err != nil {
		return fmt.Errorf("read data: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("parse data: %w", err)
	}
	// Accept a full GraphQL response as well as its data object.
	if data, ok := payload["data"].(map[string]any); ok {
		payload = data
	}

	ctx := e.context(cmd.Context())
	var created, updated int
	for _, root := range roots {
		changes, err := e.cache.WritePayload(ctx, root, payload)
		if err != nil {
			return err
		}
		created += len(changes.Created)
		updated += len(changes.Updated)
	}
	if err := e.save(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %d, updated %d records\n", created, updated)
	return nil
}

func runDiff(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	roots, err := e.build(cmd)
	if err != nil {
		return err
	}
	ctx := e.context(cmd.Context())
	complete := true
	for _, root := range roots {
		missing, err := e.cache.Diff(ctx, root)
		if err != nil {
			return err
		}
		for _, m := range missing {
			complete = false
			fmt.Fprint(cmd.OutOrStdout(), language.Print(m))
		}
	}
	if complete {
		fmt.Fprintln(cmd.OutOrStdout(), "# cached")
	}
	return nil
}

func runFetch(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	roots, err := e.build(cmd)
	if err != nil {
		return err
	}
	ctx := e.context(cmd.Context())
	var fetches []*pending.Fetch
	for _, root := range roots {
		fs, err := e.cache.Fetch(ctx, root)
		if err != nil {
			return err
		}
		fetches = append(fetches, fs...)
	}
	var failed error
	for _, f := range fetches {
		select {
		case <-f.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := f.Err(); err != nil && failed == nil {
			failed = err
		}
	}
	if err := e.save(); err != nil {
		return err
	}
	if failed != nil {
		return failed
	}
	fmt.Fprintf(cmd.OutOrStdout(), "fetched %d queries\n", len(fetches))
	return nil
}

func runGC(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	retain, _ := cmd.Flags().GetStringSlice("retain")
	release := e.cache.RetainIDs(retain...)
	defer release()

	ctx := e.context(cmd.Context())
	var col *gc.Collection
	if from, _ := cmd.Flags().GetString("from"); from != "" {
		col = e.cache.ScheduleCollectionFromNode(ctx, from)
	} else {
		col = e.cache.ScheduleCollection(ctx)
	}
	if err := col.Wait(ctx); err != nil {
		return err
	}
	if err := e.save(); err != nil {
		return err
	}
	for _, id := range col.Removed() {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	e.log.Info("collected", "removed", len(col.Removed()), "remaining", e.cache.Records().Len())
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	eventbus.Use(e.bus)
	shutdown, err := otel.Setup(e.bus, e.cfg.Otel.Endpoint, e.cfg.Otel.Service)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	sopts := []server.Option{server.WithBus(e.bus)}
	if e.cfg.Server.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if e.cfg.Server.Timeout > 0 {
		sopts = append(sopts, server.WithTimeout(e.cfg.Server.Timeout))
	}
	h, err := server.New(e.cache, e.schema, sopts...)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	addr := e.cfg.Server.Addr
	if flagAddr, _ := cmd.Flags().GetString("addr"); flagAddr != "" {
		addr = flagAddr
	}
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errc := make(chan error, 1)
	go func() {
		e.log.Info("inspection server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			e.log.Warn("shutdown", "err", err)
		}
	}
	return e.save()
}
