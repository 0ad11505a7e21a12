// Package main implements blocklog-query, a one-shot operator CLI over a
// blocklog database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/blocklog/blocklog/internal/backup"
	"github.com/blocklog/blocklog/internal/config"
	"github.com/blocklog/blocklog/internal/dispatch"
	"github.com/blocklog/blocklog/internal/ingest"
	"github.com/blocklog/blocklog/internal/rollback"
	"github.com/blocklog/blocklog/internal/storage"
	"github.com/blocklog/blocklog/internal/store"
	"github.com/blocklog/blocklog/pkg/types"
)

const usage = `blocklog-query - inspect and maintain a blocklog database

Usage: blocklog-query <command> [options]

Commands:
  history      Recent actions at a block
  containers   Container transactions at a block
  plan         Rollback candidates for an actor around a point
  prune        Delete history older than -days
  snapshot     Upload a compressed snapshot to the configured storage
  snapshots    List stored snapshots
  restore      Download a snapshot to a database file

Run 'blocklog-query <command> -h' for command options.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	commands := map[string]func(ctx context.Context, args []string) error{
		"history":    runHistory,
		"containers": runContainers,
		"plan":       runPlan,
		"prune":      runPrune,
		"snapshot":   runSnapshot,
		"snapshots":  runSnapshots,
		"restore":    runRestore,
	}

	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := cmd(ctx, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// common holds the flags every command accepts.
type common struct {
	configFile string
	dataDir    string
	dbPath     string
	asJSON     bool
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	fs.StringVar(&c.dataDir, "data-dir", "", "Base data directory")
	fs.StringVar(&c.dbPath, "db", "", "Database path (overrides config)")
	fs.BoolVar(&c.asJSON, "json", false, "Print JSON instead of text")
}

func (c *common) config() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if c.configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(c.configFile); err != nil {
			return nil, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if c.dataDir != "" {
		cfg.DataDir = c.dataDir
	}
	if c.dbPath != "" {
		cfg.Database.Path = c.dbPath
	}
	cfg.Resolve()
	return cfg, nil
}

func (c *common) open() (*config.Config, *store.Store, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Database.Path, store.Options{BusyTimeout: cfg.Database.BusyTimeout})
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", cfg.Database.Path, err)
	}
	return cfg, st, nil
}

type location struct {
	world   string
	x, y, z int
}

func (l *location) register(fs *flag.FlagSet) {
	fs.StringVar(&l.world, "world", "world", "World name")
	fs.IntVar(&l.x, "x", 0, "X coordinate")
	fs.IntVar(&l.y, "y", 0, "Y coordinate")
	fs.IntVar(&l.z, "z", 0, "Z coordinate")
}

func (l location) pos() types.BlockPos {
	return types.BlockPos{World: l.world, X: l.x, Y: l.y, Z: l.z}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	var c common
	var loc location
	c.register(fs)
	loc.register(fs)
	limit := fs.Int("limit", 10, "Maximum entries")
	fs.Parse(args)

	_, st, err := c.open()
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.RecentActionsAt(ctx, loc.pos(), *limit)
	if err != nil {
		return err
	}
	if c.asJSON {
		return printJSON(entries)
	}
	for _, line := range dispatch.HistoryLines(loc.pos(), entries, nil, time.Local) {
		fmt.Println(line)
	}
	return nil
}

func runContainers(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("containers", flag.ExitOnError)
	var c common
	var loc location
	c.register(fs)
	loc.register(fs)
	limit := fs.Int("limit", 10, "Maximum transactions")
	fs.Parse(args)

	_, st, err := c.open()
	if err != nil {
		return err
	}
	defer st.Close()

	txns, err := st.ContainerHistoryAt(ctx, loc.pos(), *limit)
	if err != nil {
		return err
	}
	if c.asJSON {
		return printJSON(txns)
	}
	for _, line := range dispatch.HistoryLines(loc.pos(), nil, txns, time.Local) {
		fmt.Println(line)
	}
	return nil
}

func runPlan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	var c common
	var loc location
	c.register(fs)
	loc.register(fs)
	actor := fs.String("actor", "", "Actor name to roll back")
	hours := fs.Int("hours", 24, "Lookback window in hours")
	radius := fs.Int("radius", 10, "Radius around the origin")
	maxHeight := fs.Int("max-height", 0, "World build height (0 uses the configured default)")
	fs.Parse(args)

	cfg, st, err := c.open()
	if err != nil {
		return err
	}

	// The pipeline never receives entries here; it only provides the
	// store guard the engine expects.
	p := ingest.New(st, ingest.Options{Logger: zap.NewNop()})
	defer p.Close()

	if *maxHeight == 0 {
		*maxHeight = cfg.Rollback.DefaultMaxHeight
	}
	engine := rollback.NewEngine(p, st, rollback.Options{})
	plan, err := engine.Plan(ctx, rollback.Request{
		ActorName:     *actor,
		World:         loc.world,
		LookbackHours: *hours,
		Origin:        loc.pos(),
		Radius:        *radius,
		MaxHeight:     *maxHeight,
	})
	if err != nil {
		return err
	}

	if c.asJSON {
		return printJSON(plan)
	}
	if plan.Empty() {
		fmt.Println(dispatch.MsgNothingToRevert)
		return nil
	}
	fmt.Printf("%d candidates (%d rows in bounding box):\n", len(plan.Candidates), plan.Scanned)
	for _, e := range plan.Candidates {
		fmt.Printf("  %s %-6s %s at (%d, %d, %d)\n",
			e.Time().Local().Format(time.DateTime), e.Action, e.Material, e.X, e.Y, e.Z)
	}
	return nil
}

func runPrune(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	var c common
	c.register(fs)
	days := fs.Int("days", 0, "Delete history older than this many days")
	fs.Parse(args)

	if *days <= 0 {
		return fmt.Errorf("-days must be greater than 0")
	}

	_, st, err := c.open()
	if err != nil {
		return err
	}
	defer st.Close()

	cutoff := time.Now().Add(-time.Duration(*days) * 24 * time.Hour).UnixMilli()
	res, err := st.PruneBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if c.asJSON {
		return printJSON(res)
	}
	fmt.Printf("Pruned %d events and %d container transactions.\n", res.Events, res.Transactions)
	return nil
}

func snapshotter(ctx context.Context, cfg *config.Config, st *store.Store) (*backup.Snapshotter, error) {
	objects, err := storage.New(ctx, cfg.Backup.Storage)
	if err != nil {
		return nil, err
	}
	// st may be nil for commands that never take a snapshot.
	var src backup.Source
	if st != nil {
		src = st
	}
	return backup.NewSnapshotter(src, nil, objects, backup.Options{Keep: cfg.Backup.Keep, WorkDir: cfg.DataDir}), nil
}

func runSnapshot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	var c common
	c.register(fs)
	fs.Parse(args)

	cfg, st, err := c.open()
	if err != nil {
		return err
	}
	defer st.Close()

	snaps, err := snapshotter(ctx, cfg, st)
	if err != nil {
		return err
	}
	snap, err := snaps.Backup(ctx)
	if err != nil {
		return err
	}
	if c.asJSON {
		return printJSON(snap)
	}
	fmt.Printf("Uploaded %s (%d bytes).\n", snap.Key, snap.Size)
	return nil
}

func runSnapshots(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("snapshots", flag.ExitOnError)
	var c common
	c.register(fs)
	fs.Parse(args)

	cfg, err := c.config()
	if err != nil {
		return err
	}
	snaps, err := snapshotter(ctx, cfg, nil)
	if err != nil {
		return err
	}
	list, err := snaps.List(ctx)
	if err != nil {
		return err
	}
	if c.asJSON {
		return printJSON(list)
	}
	for _, s := range list {
		fmt.Printf("%s  %10d  %s\n", s.CreatedAt.Local().Format(time.DateTime), s.Size, s.Key)
	}
	return nil
}

func runRestore(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	var c common
	c.register(fs)
	key := fs.String("key", "", "Snapshot key (default: newest)")
	out := fs.String("out", "", "Destination database file")
	fs.Parse(args)

	if *out == "" {
		return fmt.Errorf("-out is required")
	}
	if _, err := os.Stat(*out); err == nil {
		return fmt.Errorf("%s already exists", *out)
	}

	cfg, err := c.config()
	if err != nil {
		return err
	}
	snaps, err := snapshotter(ctx, cfg, nil)
	if err != nil {
		return err
	}

	if *key == "" {
		list, err := snaps.List(ctx)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			return fmt.Errorf("no snapshots found")
		}
		*key = list[0].Key
	}

	if err := snaps.Restore(ctx, *key, *out); err != nil {
		return err
	}
	fmt.Printf("Restored %s to %s.\n", *key, *out)
	return nil
}
