package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/classifier"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/config"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/llm"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/logging"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/pipeline"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/router"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/store"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

var (
	workspace  string
	configPath string
	verbose    bool

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "labindex",
	Short: "labindex - adaptive linking engine for research data corpora",
	Long: `labindex discovers relationships between files in a research data
corpus: which notes describe which recordings, which spreadsheet rows log
which sessions, which analysis outputs derive from which raw data.

Candidates are scored, routed through auto-accept/reject thresholds, and
ambiguous cases are escalated to an LLM auditor or a human review queue.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapConfig := zap.NewProductionConfig()
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath, workspace)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		return logging.Initialize(cfg.Workspace, cfg.Logging.DebugMode, cfg.Logging.Level)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func newEngine(st *store.Store) (*pipeline.Engine, types.LLMClient, error) {
	client := llm.New(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)
	trainer := classifier.NewTrainer(classifier.Config{
		TestSplit:  cfg.Trainer.TestSplit,
		RandomSeed: cfg.Trainer.RandomSeed,
		UseForest:  cfg.Trainer.UseForest,
		NumTrees:   cfg.Trainer.NumTrees,
		MaxDepth:   cfg.Trainer.MaxDepth,
	}, cfg.Trainer.ModelPath)
	thresholds := router.Thresholds{
		AutoAccept: cfg.Router.AutoAccept,
		Audit:      cfg.Router.Audit,
		AutoReject: cfg.Router.AutoReject,
	}
	eng, err := pipeline.New(st, client, thresholds, cfg.Router.LLMBudget, trainer)
	if err != nil {
		return nil, nil, err
	}
	return eng, client, nil
}

func openStore() (*store.Store, error) {
	return store.New(cfg.DBPath)
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Inventory the workspace into the file index",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		count := 0
		root := cfg.Workspace
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			name := d.Name()
			if d.IsDir() {
				if path != root && strings.HasPrefix(name, ".") {
					return filepath.SkipDir
				}
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			ext := filepath.Ext(name)
			rec := &types.FileRecord{
				Path:       path,
				ParentPath: filepath.Dir(path),
				Name:       name,
				Ext:        ext,
				SizeBytes:  info.Size(),
				MTime:      info.ModTime().UTC(),
				Category:   types.CategoryForExtension(ext),
				Status:     "inventory_ok",
			}
			if err := st.UpsertFile(rec); err != nil {
				return err
			}
			count++
			return nil
		})
		if err != nil {
			return err
		}
		logger.Info("scan complete", zap.String("root", root), zap.Int("files", count))
		fmt.Printf("indexed %d files under %s\n", count, root)
		return nil
	},
}

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Run the full linking pipeline with every active strategy",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		eng, _, err := newEngine(st)
		if err != nil {
			return err
		}
		if _, err := eng.EnableMLScoring(); err != nil {
			return err
		}

		files, err := st.ListFiles("")
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("file index is empty; run `labindex scan` first")
		}

		ctx := signalContext()
		progress := pipeline.NewProgress(nil)
		summary, err := eng.RunFullPipeline(ctx, files, progress)
		if err != nil {
			return err
		}
		return printJSON(summary)
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List candidates awaiting human review or audit",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		for _, status := range []types.CandidateStatus{types.CandidatePending, types.CandidateNeedsAudit} {
			candidates, err := st.ListCandidates(status, 50)
			if err != nil {
				return err
			}
			fmt.Printf("%s (%d):\n", status, len(candidates))
			for _, c := range candidates {
				fmt.Printf("  %s  %.2f  %s -> %s  [%s]\n", c.ID, c.Confidence, c.SrcID, c.DstID, c.Relation)
			}
		}
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run the batch audit over candidates flagged needs_audit",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		eng, _, err := newEngine(st)
		if err != nil {
			return err
		}

		candidates, err := st.ListCandidates(types.CandidateNeedsAudit, 0)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			fmt.Println("nothing to audit")
			return nil
		}

		ctx := signalContext()
		result, err := eng.ReviewCandidates(ctx, candidates)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the link classifier from human labels",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		eng, _, err := newEngine(st)
		if err != nil {
			return err
		}
		metrics, err := eng.TrainFromLabels()
		if err != nil {
			return err
		}
		logger.Info("training complete",
			zap.Float64("accuracy", metrics.Accuracy),
			zap.Int("training_samples", metrics.TrainingSamples),
			zap.Int("test_samples", metrics.TestSamples))
		return printJSON(metrics)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [path]",
	Short: "Export the labeled training set as CSV",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		eng, _, err := newEngine(st)
		if err != nil {
			return err
		}
		path := filepath.Join(cfg.Workspace, ".labindex", "training_set.csv")
		if len(args) == 1 {
			path = args[0]
		}
		n, err := eng.ExportTrainingSet(path)
		if err != nil {
			return err
		}
		fmt.Printf("wrote %d labeled examples to %s\n", n, path)
		return nil
	},
}

var labelCmd = &cobra.Command{
	Use:   "label <candidate-id> <accept|reject>",
	Short: "Record a human training label for a candidate",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		return st.SetLabel(args[0], args[1], "human")
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score <src-path> <dst-path>",
	Short: "Score one source/target pair and print the breakdown",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		src, err := st.GetFileByPath(args[0])
		if err != nil {
			return fmt.Errorf("source %s not indexed; run `labindex scan` first", args[0])
		}
		dst, err := st.GetFileByPath(args[1])
		if err != nil {
			return fmt.Errorf("target %s not indexed; run `labindex scan` first", args[1])
		}

		eng, _, err := newEngine(st)
		if err != nil {
			return err
		}
		score, err := eng.ScorePair(src, dst)
		if err != nil {
			return err
		}
		return printJSON(score)
	},
}

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List active strategies and their review performance",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		strategies, err := st.ActiveStrategies()
		if err != nil {
			return err
		}
		for _, s := range strategies {
			perf, err := st.StrategyPerformance(s.ID)
			if err != nil {
				return err
			}
			fmt.Printf("%s v%d (%s): %d candidates, %d accepted, %d rejected, precision %.2f\n",
				s.Name, s.Version, s.Relation, perf.Total, perf.Accepted, perf.Rejected, perf.Precision)
		}
		return nil
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate <name> <version>",
	Short: "Make an earlier strategy version the active one",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("version must be an integer, got %q", args[1])
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.ActivateStrategy(args[0], version); err != nil {
			return err
		}
		fmt.Printf("activated %s v%d\n", args[0], version)
		return nil
	},
}

var exploreCmd = &cobra.Command{
	Use:   "explore",
	Short: "Propose linking strategies for the corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		eng, client, err := newEngine(st)
		if err != nil {
			return err
		}
		files, err := st.ListFiles("")
		if err != nil {
			return err
		}

		ctx := signalContext()
		proposals, err := eng.ExploreStrategies(ctx, client, files)
		if err != nil {
			return err
		}
		if save, _ := cmd.Flags().GetBool("save"); save {
			for _, p := range proposals {
				if err := st.SaveStrategy(pipeline.StrategyFromProposal(p)); err != nil {
					return err
				}
			}
			fmt.Printf("saved %d strategies\n", len(proposals))
		}
		return printJSON(proposals)
	},
}

func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		logger.Warn("interrupt received, shutting down")
		cancel()
		time.Sleep(2 * time.Second)
		os.Exit(1)
	}()
	return ctx
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "corpus root directory")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	exploreCmd.Flags().Bool("save", false, "save proposals as active strategies")

	strategiesCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(scanCmd, linkCmd, reviewCmd, auditCmd, trainCmd, exportCmd, labelCmd, scoreCmd, strategiesCmd, exploreCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
