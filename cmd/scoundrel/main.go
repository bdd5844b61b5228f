// Command scoundrel is the single entry point for the trading-state
// subsystem: schema migration, coin/wallet registry management, one-shot
// swap execution, trade inspection, the warchestd service, and the
// target-list ingestion daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/scoundrel-labs/scoundrel/internal/config"
	"github.com/scoundrel-labs/scoundrel/internal/ledger"
	"github.com/scoundrel-labs/scoundrel/internal/session"
	"github.com/scoundrel-labs/scoundrel/internal/storage"
	"github.com/scoundrel-labs/scoundrel/internal/swapworker"
	"github.com/scoundrel-labs/scoundrel/internal/targetlist"
	"github.com/scoundrel-labs/scoundrel/internal/wallet"
	"github.com/scoundrel-labs/scoundrel/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

const serviceLabel = "scoundrel-trader"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	verb := os.Args[1]
	args := os.Args[2:]

	switch verb {
	case "migrate":
		runMigrate(args)
	case "addcoin":
		runAddCoin(args)
	case "swap":
		runSwap(args)
	case "tx":
		runTx(args)
	case "wallet":
		runWallet(args)
	case "warchestd":
		runWarchestd(args)
	case "targetlist":
		runTargetList(args)
	case "-version", "--version", "version":
		fmt.Printf("scoundrel %s (commit: %s)\n", version, commit)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: scoundrel <migrate|addcoin|swap|tx|wallet|warchestd|targetlist> [flags]")
}

// --- shared setup -------------------------------------------------------

func newLogger(level string) *logging.Logger {
	log := logging.New(&logging.Config{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)
	return log
}

func loadConfigAndStore(dataDir string) (*config.Config, *storage.Storage, *logging.Logger, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.Logging.Level)

	store, err := storage.New(&storage.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open storage: %w", err)
	}
	return cfg, store, log, nil
}

func dataDirFlag(fs *flag.FlagSet) *string {
	return fs.String("data-dir", "~/.scoundrel", "data directory")
}

// --- migrate -------------------------------------------------------------

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dataDir := dataDirFlag(fs)
	fs.Parse(args)

	cfg, store, log, err := loadConfigAndStore(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	defer store.Close()

	// storage.New already brings the schema current on open; migrate's
	// job is to surface that as an explicit, scriptable step.
	log.Info("schema is current", "dataDir", cfg.Storage.DataDir)
}

// --- addcoin ---------------------------------------------------------------

// ErrMetadataFetcherNotConfigured is returned when addcoin is run without a
// real metadata source wired in. Fetching live mint metadata over HTTP is
// an external collaborator; this binary only depends on the narrow
// MetadataFetcher interface below.
var ErrMetadataFetcherNotConfigured = errors.New("addcoin: no metadata fetcher configured")

// MetadataFetcher resolves on-chain/off-chain metadata for a mint.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, mint string) (*storage.Coin, error)
}

type unconfiguredMetadataFetcher struct{}

func (unconfiguredMetadataFetcher) FetchMetadata(ctx context.Context, mint string) (*storage.Coin, error) {
	return nil, ErrMetadataFetcherNotConfigured
}

func runAddCoin(args []string) {
	fs := flag.NewFlagSet("addcoin", flag.ExitOnError)
	dataDir := dataDirFlag(fs)
	force := fs.Bool("force", false, "overwrite existing coin metadata")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: scoundrel addcoin <mint> [--force]")
		os.Exit(1)
	}
	mint := fs.Arg(0)

	_, store, log, err := loadConfigAndStore(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "addcoin:", err)
		os.Exit(1)
	}
	defer store.Close()

	if !*force {
		if existing, err := store.GetCoin(mint); err == nil {
			log.Info("coin already tracked", "mint", existing.Mint, "symbol", existing.Symbol)
			return
		} else if !errors.Is(err, storage.ErrCoinNotFound) {
			fmt.Fprintln(os.Stderr, "addcoin: lookup existing coin:", err)
			os.Exit(1)
		}
	}

	var fetcher MetadataFetcher = unconfiguredMetadataFetcher{}
	coin, err := fetcher.FetchMetadata(context.Background(), mint)
	if err != nil {
		fmt.Fprintln(os.Stderr, "addcoin: fetch metadata:", err)
		os.Exit(1)
	}

	if err := store.UpsertCoin(coin); err != nil {
		fmt.Fprintln(os.Stderr, "addcoin: upsert:", err)
		os.Exit(1)
	}
	log.Info("coin tracked", "mint", coin.Mint, "symbol", coin.Symbol)
}

// --- swap ------------------------------------------------------------------

func runSwap(args []string) {
	fs := flag.NewFlagSet("swap", flag.ExitOnError)
	dataDir := dataDirFlag(fs)
	buyAmount := fs.String("b", "", "buy amount (number, N%, or auto)")
	sellAmount := fs.String("s", "", "sell amount (number, N%, or auto)")
	walletRef := fs.String("w", "", "wallet alias or pubkey")
	dryRun := fs.Bool("dry-run", false, "quote only, do not submit")
	slippage := fs.Float64("slippage", 1.0, "slippage tolerance percent")
	detach := fs.Bool("detach", false, "spawn a detached subprocess and return immediately")
	payloadPath := fs.String("payload", "", "internal: worker payload path, written by --detach children")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: scoundrel swap <mint> (-b AMOUNT | -s AMOUNT) -w <alias|address> [--dry-run] [--detach]")
		os.Exit(1)
	}
	mint := fs.Arg(0)

	if (*buyAmount == "") == (*sellAmount == "") {
		fmt.Fprintln(os.Stderr, "swap: exactly one of -b or -s is required")
		os.Exit(1)
	}
	if *walletRef == "" {
		fmt.Fprintln(os.Stderr, "swap: -w <alias|address> is required")
		os.Exit(1)
	}

	if *detach {
		spawnDetachedSwap(*dataDir, args)
		return
	}

	cfg, store, log, err := loadConfigAndStore(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "swap:", err)
		os.Exit(1)
	}
	defer store.Close()

	registry := wallet.NewRegistry(store)
	w, err := registry.Resolve(*walletRef)
	if err != nil {
		fmt.Fprintln(os.Stderr, "swap: resolve wallet:", err)
		os.Exit(1)
	}

	req := &swapworker.Request{
		Mint:            mint,
		WalletID:        w.WalletID,
		WalletAlias:     w.Alias,
		WalletPubkey:    w.Pubkey,
		SlippagePercent: *slippage,
		DryRun:          *dryRun,
	}
	if *buyAmount != "" {
		req.Side = swapworker.SideBuy
		req.Amount = *buyAmount
	} else {
		req.Side = swapworker.SideSell
		req.Amount = *sellAmount
	}

	coordinator := newCoordinator(cfg, store)
	res, err := coordinator.Execute(context.Background(), req)
	if err != nil && !errors.Is(err, swapworker.ErrSwapFailed) {
		writeSwapPayload(*payloadPath, "", err)
		fmt.Fprintln(os.Stderr, "swap: execute:", err)
		os.Exit(1)
	}

	switch {
	case res.Trade == nil:
		log.Info("quote only", "mint", mint, "inAmount", res.Quote.InAmount, "outAmount", res.Quote.OutAmount)
		writeSwapPayload(*payloadPath, "", nil)
	case errors.Is(err, swapworker.ErrSwapFailed):
		log.Warn("swap failed on-chain", "txid", res.Trade.Txid, "reason", safeDeref(res.Trade.DecisionReason))
		writeSwapPayload(*payloadPath, res.Trade.Txid, err)
		os.Exit(1)
	default:
		log.Info("swap recorded", "txid", res.Trade.Txid, "side", res.Trade.Side, "tokenAmount", res.Trade.TokenAmount, "solAmount", res.Trade.SolAmount)
		writeSwapPayload(*payloadPath, res.Trade.Txid, nil)
	}
}

// writeSwapPayload reports a --detach child's outcome back through the
// same worker payload file convention targetlist's detached ingestion
// subprocesses use. path is empty for a foreground swap, in which case
// this is a no-op.
func writeSwapPayload(path, txid string, runErr error) {
	if path == "" {
		return
	}
	payload := &targetlist.WorkerPayload{StartedAt: time.Now()}
	if runErr != nil {
		payload.Error = runErr.Error()
	}
	if txid != "" {
		payload.Upserted = 1
	}
	if err := targetlist.WritePayload(path, payload); err != nil {
		fmt.Fprintln(os.Stderr, "swap: write payload:", err)
	}
}

// spawnDetachedSwap re-invokes the current binary's "swap" subcommand
// without --detach, the same self-exec pattern targetlist.Spawn uses for
// ingestion workers, and returns immediately with the child's identity.
func spawnDetachedSwap(dataDir string, swapArgs []string) {
	childArgs := make([]string, 0, len(swapArgs)+1)
	childArgs = append(childArgs, "swap")
	for _, a := range swapArgs {
		if a == "--detach" {
			continue
		}
		childArgs = append(childArgs, a)
	}

	payloadDir := dataDir + string(os.PathSeparator) + "swap-runs"
	handle, err := targetlist.Spawn(uuid.NewString(), childArgs, payloadDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "swap --detach:", err)
		os.Exit(1)
	}
	fmt.Printf("swap dispatched: pid=%d payload=%s\n", handle.PID, handle.PayloadPath)
}

func safeDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// newCoordinator wires a swapworker.Coordinator against the live
// aggregator/RPC clients. Those clients are external collaborators (real
// network calls against a quote aggregator and Solana RPC); this binary
// only depends on the narrow swapworker interfaces, so CLI paths that
// reach them fail with a clear error until a real client is wired in.
func newCoordinator(cfg *config.Config, store *storage.Storage) *swapworker.Coordinator {
	recorder := ledger.NewRecorder(ledger.Config{
		Store:    store,
		Resolver: ledger.NewResolver(store),
		Applier:  ledger.NewApplier(store),
		Service:  serviceLabel,
	})
	return swapworker.NewCoordinator(swapworker.CoordinatorConfig{
		Quotes:         unconfiguredSwapClient{},
		Submitter:      unconfiguredSwapClient{},
		Confirmations:  unconfiguredSwapClient{},
		Balances:       unconfiguredSwapClient{},
		Facts:          unconfiguredSwapClient{},
		Recorder:       recorder,
		ConfirmTimeout: cfg.ConfirmationTimeout(),
		QuoteRate:      rate.Limit(cfg.Swap.QuoteRatePerSecond),
	})
}

// ErrSwapClientNotConfigured is returned by every unconfiguredSwapClient
// method. Quoting, submission, confirmation watching, balance reads, and
// trade-fact derivation all require a live aggregator/RPC integration,
// which is out of scope here.
var ErrSwapClientNotConfigured = errors.New("swap: no aggregator/RPC client configured")

type unconfiguredSwapClient struct{}

func (unconfiguredSwapClient) Quote(ctx context.Context, req *swapworker.Request, amount *swapworker.NormalizedAmount) (*swapworker.Quote, error) {
	return nil, ErrSwapClientNotConfigured
}

func (unconfiguredSwapClient) Submit(ctx context.Context, req *swapworker.Request, quote *swapworker.Quote) (string, error) {
	return "", ErrSwapClientNotConfigured
}

func (unconfiguredSwapClient) AwaitConfirmation(ctx context.Context, txid string, timeout time.Duration) (*swapworker.ConfirmationResult, error) {
	return nil, ErrSwapClientNotConfigured
}

func (unconfiguredSwapClient) TokenBalance(ctx context.Context, walletPubkey, mint string) (float64, error) {
	return 0, ErrSwapClientNotConfigured
}

func (unconfiguredSwapClient) DeriveFact(ctx context.Context, txid, walletPubkey, mint string) (*swapworker.TradeFact, error) {
	return nil, ErrSwapClientNotConfigured
}

// --- tx ----------------------------------------------------------------

func runTx(args []string) {
	fs := flag.NewFlagSet("tx", flag.ExitOnError)
	dataDir := dataDirFlag(fs)
	sigFlag := fs.String("sig", "", "transaction signature (alternative to the positional argument)")
	swapMode := fs.Bool("swap", false, "derive and emit the trade event for a tracked wallet's swap")
	walletRef := fs.String("w", "", "wallet alias or pubkey, required with --swap")
	mint := fs.String("m", "", "coin mint, required with --swap")
	sideOverride := fs.String("s", "", "side override for --swap mode: buy or sell, default inferred from the token delta")
	fs.Parse(args)

	sig := *sigFlag
	if sig == "" {
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "usage: scoundrel tx <signature> [--sig <signature>] [--swap -w <wallet> -m <mint>] [-s buy|sell]")
			os.Exit(1)
		}
		sig = fs.Arg(0)
	}

	cfg, store, log, err := loadConfigAndStore(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tx:", err)
		os.Exit(1)
	}
	defer store.Close()

	if *swapMode {
		if *walletRef == "" || *mint == "" {
			fmt.Fprintln(os.Stderr, "tx --swap requires -w <wallet> and -m <mint>")
			os.Exit(1)
		}
		w, err := wallet.NewRegistry(store).Resolve(*walletRef)
		if err != nil {
			fmt.Fprintln(os.Stderr, "tx: resolve wallet:", err)
			os.Exit(1)
		}
		fact, err := (unconfiguredSwapClient{}).DeriveFact(context.Background(), sig, w.Pubkey, *mint)
		if err != nil {
			fmt.Fprintln(os.Stderr, "tx: derive trade fact:", err)
			os.Exit(1)
		}
		// Unreachable while the fact deriver is unconfigured, kept so the
		// recorder path is exercised once a real deriver is wired in.
		side := *sideOverride
		if side == "" {
			side = string(swapworker.SideBuy)
			if fact.TokenNet < 0 {
				side = string(swapworker.SideSell)
			}
		}
		recorder := ledger.NewRecorder(ledger.Config{
			Store: store, Resolver: ledger.NewResolver(store), Applier: ledger.NewApplier(store), Service: serviceLabel,
		})
		trade, err := recorder.Record(&ledger.TradeInput{
			Txid: sig, WalletID: w.WalletID, WalletAlias: w.Alias, CoinMint: *mint, Side: side,
			TokenAmount: fact.TokenNet, SolAmount: fact.SolNet,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "tx: record:", err)
			os.Exit(1)
		}
		log.Info("trade recorded from signature", "txid", trade.Txid, "side", trade.Side)
		_ = cfg
		return
	}

	trade, err := store.GetTradeByTxid(sig)
	if errors.Is(err, storage.ErrTradeNotFound) {
		log.Info("no recorded trade for signature", "txid", sig)
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "tx: lookup:", err)
		os.Exit(1)
	}

	log.Info("trade",
		"txid", trade.Txid,
		"wallet", trade.WalletAlias,
		"mint", trade.CoinMint,
		"side", trade.Side,
		"tokenAmount", trade.TokenAmount,
		"solAmount", trade.SolAmount,
		"tradeUUID", safeDeref(trade.TradeUUID),
		"decisionLabel", safeDeref(trade.DecisionLabel),
	)
}

// --- wallet ----------------------------------------------------------------

func runWallet(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: scoundrel wallet <add|list|remove|set-color|options|default-funding> [flags] | --solo")
		os.Exit(1)
	}
	if args[0] == "--solo" {
		runWalletSolo(args[1:])
		return
	}
	sub := args[0]
	rest := args[1:]

	fs := flag.NewFlagSet("wallet-"+sub, flag.ExitOnError)
	dataDir := dataDirFlag(fs)

	switch sub {
	case "add":
		alias := fs.String("alias", "", "wallet alias")
		pubkey := fs.String("pubkey", "", "wallet public key")
		usage := fs.String("usage", "trading", "usage type: trading, warchest, other")
		color := fs.String("color", "", "HUD display color")
		fs.Parse(rest)

		_, store, log, err := loadConfigAndStore(*dataDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "wallet add:", err)
			os.Exit(1)
		}
		defer store.Close()

		w, err := wallet.NewRegistry(store).Add(wallet.AddParams{
			Alias: *alias, Pubkey: *pubkey, UsageType: *usage, Color: *color,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "wallet add:", err)
			os.Exit(1)
		}
		log.Info("wallet added", "alias", w.Alias, "pubkey", w.Pubkey)

	case "list":
		fs.Parse(rest)
		_, store, log, err := loadConfigAndStore(*dataDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "wallet list:", err)
			os.Exit(1)
		}
		defer store.Close()

		wallets, err := wallet.NewRegistry(store).List()
		if err != nil {
			fmt.Fprintln(os.Stderr, "wallet list:", err)
			os.Exit(1)
		}
		for _, w := range wallets {
			log.Info("wallet", "alias", w.Alias, "pubkey", w.Pubkey, "usage", w.UsageType, "defaultFunding", w.IsDefaultFunding)
		}

	case "remove":
		fs.Parse(rest)
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "usage: scoundrel wallet remove <alias>")
			os.Exit(1)
		}
		_, store, log, err := loadConfigAndStore(*dataDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "wallet remove:", err)
			os.Exit(1)
		}
		defer store.Close()

		if err := wallet.NewRegistry(store).Remove(fs.Arg(0)); err != nil {
			fmt.Fprintln(os.Stderr, "wallet remove:", err)
			os.Exit(1)
		}
		log.Info("wallet removed", "alias", fs.Arg(0))

	case "set-color":
		fs.Parse(rest)
		if fs.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "usage: scoundrel wallet set-color <alias> <color>")
			os.Exit(1)
		}
		_, store, log, err := loadConfigAndStore(*dataDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "wallet set-color:", err)
			os.Exit(1)
		}
		defer store.Close()

		if err := wallet.NewRegistry(store).SetColor(fs.Arg(0), fs.Arg(1)); err != nil {
			fmt.Fprintln(os.Stderr, "wallet set-color:", err)
			os.Exit(1)
		}
		log.Info("wallet color set", "alias", fs.Arg(0), "color", fs.Arg(1))

	case "default-funding":
		fs.Parse(rest)
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "usage: scoundrel wallet default-funding <alias>")
			os.Exit(1)
		}
		_, store, log, err := loadConfigAndStore(*dataDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "wallet default-funding:", err)
			os.Exit(1)
		}
		defer store.Close()

		if err := wallet.NewRegistry(store).SetDefaultFunding(fs.Arg(0)); err != nil {
			fmt.Fprintln(os.Stderr, "wallet default-funding:", err)
			os.Exit(1)
		}
		log.Info("default funding wallet set", "alias", fs.Arg(0))

	case "options":
		fs.Parse(rest)
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "usage: scoundrel wallet options <alias|address>")
			os.Exit(1)
		}
		_, store, log, err := loadConfigAndStore(*dataDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "wallet options:", err)
			os.Exit(1)
		}
		defer store.Close()

		w, err := wallet.NewRegistry(store).Resolve(fs.Arg(0))
		if err != nil {
			fmt.Fprintln(os.Stderr, "wallet options:", err)
			os.Exit(1)
		}
		log.Info("wallet options",
			"alias", w.Alias, "pubkey", w.Pubkey, "usage", w.UsageType,
			"autoAttachWarchest", w.AutoAttachWarchest, "hasPrivateKey", w.HasPrivateKey,
			"keySource", w.KeySource, "color", w.Color, "defaultFunding", w.IsDefaultFunding,
		)

	default:
		fmt.Fprintln(os.Stderr, "usage: scoundrel wallet <add|list|remove|set-color|options|default-funding> [flags] | --solo")
		os.Exit(1)
	}
}

// runWalletSolo handles "wallet --solo": a read-only view scoped to the
// single process-wide default-funding wallet, for operators who only ever
// work against that one wallet and don't want to pass -w every time.
func runWalletSolo(rest []string) {
	fs := flag.NewFlagSet("wallet---solo", flag.ExitOnError)
	dataDir := dataDirFlag(fs)
	fs.Parse(rest)

	_, store, log, err := loadConfigAndStore(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wallet --solo:", err)
		os.Exit(1)
	}
	defer store.Close()

	w, err := wallet.NewRegistry(store).DefaultFunding()
	if err != nil {
		fmt.Fprintln(os.Stderr, "wallet --solo:", err)
		os.Exit(1)
	}
	if w == nil {
		log.Info("no default funding wallet designated")
		return
	}
	log.Info("solo wallet", "alias", w.Alias, "pubkey", w.Pubkey, "usage", w.UsageType, "defaultFunding", w.IsDefaultFunding)
}

// --- warchestd -------------------------------------------------------------

// pidFileName lives under the data directory so start/status/stop agree on
// where to look without a separate registry.
const pidFileName = "warchestd.pid"

// stringList collects a repeatable flag's values in order given, the
// standard flag.Value pattern for "-x a -x b -x c" style CLI options.
type stringList []string

func (l *stringList) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func runWarchestd(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: scoundrel warchestd <start|stop|restart|status|hud> [flags]")
		os.Exit(1)
	}
	sub := args[0]
	rest := args[1:]

	fs := flag.NewFlagSet("warchestd-"+sub, flag.ExitOnError)
	dataDir := dataDirFlag(fs)

	switch sub {
	case "start":
		startSlot := fs.Int64("start-slot", 1, "starting slot for this session (a real slot source is wired externally)")
		var wallets stringList
		fs.Var(&wallets, "wallet", "alias:pubkey:color to auto-register before starting, repeatable")
		fs.Parse(rest)
		startWarchestd(*dataDir, *startSlot, wallets)

	case "status":
		fs.Parse(rest)
		statusWarchestd(*dataDir)

	case "stop":
		fs.Parse(rest)
		stopWarchestd(*dataDir)

	case "restart":
		startSlot := fs.Int64("start-slot", 1, "starting slot for this session (a real slot source is wired externally)")
		var wallets stringList
		fs.Var(&wallets, "wallet", "alias:pubkey:color to auto-register before starting, repeatable")
		fs.Parse(rest)
		stopWarchestd(*dataDir)
		waitForPIDFileGone(*dataDir, 10*time.Second)
		startWarchestd(*dataDir, *startSlot, wallets)

	case "hud":
		fs.Parse(rest)
		// The HUD itself (ink-based terminal rendering) is an external
		// collaborator. warchestd start attaches a session.Hub to the
		// session manager in-process but does not serve it on any network
		// listener; session.Manager.LiveView and session.Hub.ServeHTTP are
		// the Go-level surface a HUD client would embed.
		fmt.Fprintln(os.Stderr, "warchestd hud: rendering is handled by an external HUD client; this command renders nothing")

	default:
		fmt.Fprintln(os.Stderr, "usage: scoundrel warchestd <start|stop|restart|status|hud> [flags]")
		os.Exit(1)
	}
}

// waitForPIDFileGone polls for the pid file's removal after a stop signal,
// so restart doesn't race the old process's shutdown against the new one's
// startup. Gives up silently after timeout and lets startWarchestd proceed.
func waitForPIDFileGone(dataDir string, timeout time.Duration) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := readPIDFile(cfg.Storage.DataDir); err != nil {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func startWarchestd(dataDir string, startSlot int64, autoWallets []string) {
	cfg, store, log, err := loadConfigAndStore(dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "warchestd start:", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := writePIDFile(cfg.Storage.DataDir); err != nil {
		log.Warn("failed to write pid file", "error", err)
	}
	defer removePIDFile(cfg.Storage.DataDir)

	if err := autoRegisterWallets(store, autoWallets); err != nil {
		log.Fatal("failed to auto-register wallet", "error", err)
	}

	resolver := ledger.NewResolver(store)

	sessionMgr := session.NewManager(store)
	hub := session.NewHub()
	go hub.Run()
	sessionMgr.SetEventBus(hub)

	sessionID, err := sessionMgr.Start(session.StartParams{
		Service:   serviceLabel,
		StartSlot: startSlot,
	})
	if err != nil {
		log.Fatal("failed to start session", "error", err)
	}
	log.Info("session started", "sessionId", sessionID, "startSlot", startSlot)

	interval, err := targetlist.ParseInterval(cfg.TargetList.Interval)
	if err != nil {
		log.Fatal("invalid target_list.interval", "error", err)
	}
	tlCoordinatorCfg := targetlist.CoordinatorConfig{
		Store:             store,
		Resolver:          resolver,
		Source:            unconfiguredTargetSource{},
		PruneInterval:     cfg.PruneInterval(),
		PendingUUIDMaxAge: cfg.PendingUUIDMaxAge(),
	}
	if interval != nil {
		tlCoordinatorCfg.Interval = *interval
	}
	tlCoordinator := targetlist.NewCoordinator(tlCoordinatorCfg)
	tlCoordinator.Start()
	defer tlCoordinator.Stop()

	confirmMonitor := swapworker.NewMonitor(swapworker.MonitorConfig{
		Coordinator: newCoordinator(cfg, store),
	})
	confirmMonitor.Start()
	defer confirmMonitor.Stop()

	log.Info("warchestd running", "pid", os.Getpid(), "dataDir", cfg.Storage.DataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	if err := sessionMgr.End(session.EndParams{SessionID: sessionID, EndSlot: startSlot}); err != nil {
		log.Error("failed to end session cleanly", "error", err)
	}
}

// autoRegisterWallets parses "alias:pubkey:color" entries and registers any
// that aren't already tracked, the startup-time convenience for wallets
// that only ever get referenced by warchestd itself rather than `wallet add`.
func autoRegisterWallets(store *storage.Storage, entries []string) error {
	registry := wallet.NewRegistry(store)
	for _, entry := range entries {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 {
			return fmt.Errorf("--wallet %q: expected alias:pubkey[:color]", entry)
		}
		alias, pubkey := parts[0], parts[1]
		color := ""
		if len(parts) == 3 {
			color = parts[2]
		}
		if _, err := registry.Resolve(alias); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrWalletNotFound) {
			return fmt.Errorf("--wallet %q: %w", entry, err)
		}
		if _, err := registry.Add(wallet.AddParams{Alias: alias, Pubkey: pubkey, UsageType: "trading", Color: color}); err != nil {
			return fmt.Errorf("--wallet %q: %w", entry, err)
		}
	}
	return nil
}

func statusWarchestd(dataDir string) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "warchestd status:", err)
		os.Exit(1)
	}
	log := newLogger(cfg.Logging.Level)

	pid, err := readPIDFile(cfg.Storage.DataDir)
	if err != nil {
		log.Info("warchestd not running (no pid file)")
		return
	}

	handle := &targetlist.WorkerHandle{PID: pid}
	running, uptime, err := handle.Status()
	if err != nil {
		fmt.Fprintln(os.Stderr, "warchestd status:", err)
		os.Exit(1)
	}
	if !running {
		log.Info("warchestd not running (stale pid file)", "pid", pid)
		return
	}
	log.Info("warchestd running", "pid", pid, "uptime", uptime.Round(time.Second))
}

func stopWarchestd(dataDir string) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "warchestd stop:", err)
		os.Exit(1)
	}
	log := newLogger(cfg.Logging.Level)

	pid, err := readPIDFile(cfg.Storage.DataDir)
	if err != nil {
		log.Info("warchestd not running (no pid file)")
		return
	}
	proc, err := os.FindProcess(int(pid))
	if err != nil {
		fmt.Fprintln(os.Stderr, "warchestd stop:", err)
		os.Exit(1)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintln(os.Stderr, "warchestd stop:", err)
		os.Exit(1)
	}
	log.Info("sent shutdown signal", "pid", pid)
}

func writePIDFile(dataDir string) error {
	return os.WriteFile(pidFilePath(dataDir), []byte(strconv.Itoa(os.Getpid())), 0o600)
}

func removePIDFile(dataDir string) {
	os.Remove(pidFilePath(dataDir))
}

func readPIDFile(dataDir string) (int32, error) {
	data, err := os.ReadFile(pidFilePath(dataDir))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}
	return int32(pid), nil
}

func pidFilePath(dataDir string) string {
	if strings.HasPrefix(dataDir, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			dataDir = home + dataDir[1:]
		}
	}
	return dataDir + string(os.PathSeparator) + pidFileName
}

// unconfiguredTargetSource is the warchestd default target-list source.
// The real candidate feed (HTTP/websocket ingestion from external
// aggregators) is out of scope; FetchCandidates returning an error just
// means the ingestion tick logs a warning and tries again next interval.
type unconfiguredTargetSource struct{}

func (unconfiguredTargetSource) FetchCandidates(ctx context.Context) ([]targetlist.Candidate, error) {
	return nil, errors.New("targetlist: no candidate source configured")
}

// --- targetlist --------------------------------------------------------

func runTargetList(args []string) {
	fs := flag.NewFlagSet("targetlist", flag.ExitOnError)
	dataDir := dataDirFlag(fs)
	daemon := fs.Bool("daemon", false, "run the ingestion/prune loop instead of a single pass")
	intervalOverride := fs.String("interval", "", "override target_list.interval (ms or OFF)")
	fs.Parse(args)

	cfg, store, log, err := loadConfigAndStore(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "targetlist:", err)
		os.Exit(1)
	}
	defer store.Close()

	intervalRaw := cfg.TargetList.Interval
	if *intervalOverride != "" {
		intervalRaw = *intervalOverride
	}
	interval, err := targetlist.ParseInterval(intervalRaw)
	if err != nil {
		fmt.Fprintln(os.Stderr, "targetlist:", err)
		os.Exit(1)
	}

	coordinatorCfg := targetlist.CoordinatorConfig{
		Store:             store,
		Resolver:          ledger.NewResolver(store),
		Source:            unconfiguredTargetSource{},
		PruneInterval:     cfg.PruneInterval(),
		PendingUUIDMaxAge: cfg.PendingUUIDMaxAge(),
	}
	if interval != nil {
		coordinatorCfg.Interval = *interval
	}
	coordinator := targetlist.NewCoordinator(coordinatorCfg)

	if !*daemon {
		n, err := coordinator.RunOnce(context.Background(), 30*time.Second)
		if err != nil {
			fmt.Fprintln(os.Stderr, "targetlist: run once:", err)
			os.Exit(1)
		}
		log.Info("ingestion pass complete", "upserted", n)
		return
	}

	coordinator.Start()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	coordinator.Stop()
}
